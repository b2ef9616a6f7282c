package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	reconciler "github.com/kode-sdk/kode-chat/internal/reconciler"
	stream "github.com/kode-sdk/kode-chat/internal/stream"
	zap "go.uber.org/zap"
)

const clientBuffer = 256

// Frame is one published stream event
type Frame struct {
	Seq  int64
	Name string
	Data []byte
}

// Session is one demo conversation. Published frames are kept so that
// reconnecting clients can replay from Last-Event-ID, and are folded into a
// transcript that backs the history endpoint.
type Session struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time

	mu        sync.RWMutex
	updatedAt time.Time
	seq       int64
	backlog   []Frame
	clients   map[string]chan Frame
	conv      *domain.Conversation
	folder    *reconciler.Folder
	messages  int

	// turnMu serializes scripted turns; cancelTurn stops the running one
	turnMu     sync.Mutex
	cancelMu   sync.Mutex
	cancelTurn context.CancelFunc
}

func newSession(id, userID, name string) *Session {
	now := time.Now()
	if name == "" {
		name = id
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		updatedAt: now,
		clients:   make(map[string]chan Frame),
		conv:      domain.NewConversation(id),
		folder:    reconciler.NewFolder(),
	}
}

// Subscribe registers a client. Frames published after lastSeq are
// returned for replay; a negative lastSeq replays nothing.
func (s *Session) Subscribe(clientID string, lastSeq int64) (<-chan Frame, []Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Frame, clientBuffer)
	s.clients[clientID] = ch

	var replay []Frame
	if lastSeq >= 0 {
		for _, f := range s.backlog {
			if f.Seq > lastSeq {
				replay = append(replay, f)
			}
		}
	}
	return ch, replay
}

// Unsubscribe removes a client and closes its channel
func (s *Session) Unsubscribe(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.clients[clientID]
	if !ok {
		return
	}
	delete(s.clients, clientID)
	close(ch)
}

// ClientCount returns the number of connected stream clients
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Session) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.clients {
		delete(s.clients, id)
		close(ch)
	}
}

// Publish wraps event in a cursor envelope, records it and fans it out
func (s *Session) Publish(name string, event map[string]any) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := time.Now()
	s.updatedAt = now

	body := make(map[string]any, len(event)+1)
	for k, v := range event {
		body[k] = v
	}
	body["type"] = name

	data, err := json.Marshal(map[string]any{
		"cursor": domain.Bookmark{Seq: s.seq, Timestamp: now.UnixMilli()},
		"event":  body,
	})
	if err != nil {
		s.seq--
		return Frame{}, fmt.Errorf("failed to encode %s event: %w", name, err)
	}

	frame := Frame{Seq: s.seq, Name: name, Data: data}
	s.backlog = append(s.backlog, frame)

	if ev, err := stream.ParseEnvelope(name, data); err == nil {
		s.folder.Apply(s.conv, ev)
	}

	for clientID, ch := range s.clients {
		select {
		case ch <- frame:
		default:
			logger.Warn("demo client channel full, dropping frame", "conversation_id", s.ID, "client_id", clientID, "seq", frame.Seq)
		}
	}
	return frame, nil
}

// AddUserMessage records a posted message in the transcript
func (s *Session) AddUserMessage(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := domain.NewTextEntry(uuid.NewString(), domain.RoleUser, content, false)
	s.conv.Entries = append(s.conv.Entries, entry)
	s.conv.HasCompleted = false
	s.messages++
	s.updatedAt = time.Now()
}

// History returns a copy of the folded transcript
func (s *Session) History() []domain.ChatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChatEntry, len(s.conv.Entries))
	copy(out, s.conv.Entries)
	return out
}

// Summary describes the session for the sessions listing
func (s *Session) Summary() domain.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.SessionSummary{
		ID:            s.ID,
		Name:          s.Name,
		AgentID:       s.ID,
		Description:   s.ID + " - demo session",
		MessagesCount: s.messages,
		CreatedAt:     s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     s.updatedAt.UTC().Format(time.RFC3339),
		UserID:        s.UserID,
	}
}

func (s *Session) updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// RunTurn plays the script for one message. Turns run one at a time in
// posting order; Interrupt cancels the running turn, which then ends with done.
func (s *Session) RunTurn(ctx context.Context, steps []Step, chunkDelay time.Duration) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancelTurn = cancel
	s.cancelMu.Unlock()

	defer func() {
		s.cancelMu.Lock()
		s.cancelTurn = nil
		s.cancelMu.Unlock()
		cancel()
	}()

	log := logger.FromContext(logger.WithConversation(ctx, s.ID))
	log.Debug("demo turn started", zap.Int("steps", len(steps)))

	for _, step := range steps {
		if !pause(ctx, time.Duration(step.Pause)*chunkDelay) {
			log.Info("demo turn interrupted")
			if _, err := s.Publish("done", map[string]any{}); err != nil {
				log.Error("failed to publish done", zap.Error(err))
			}
			return
		}
		if _, err := s.Publish(step.Name, step.Event); err != nil {
			log.Error("failed to publish step", zap.String("step", describeStep(step)), zap.Error(err))
			return
		}
	}

	log.Debug("demo turn finished")
}

// Interrupt cancels the running turn. It reports whether one was running.
func (s *Session) Interrupt() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancelTurn == nil {
		return false
	}
	s.cancelTurn()
	return true
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SessionManager is the in-memory registry of demo conversations
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates an empty registry
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Create registers a new session with a fresh id
func (m *SessionManager) Create(userID, name string) *Session {
	session := newSession(uuid.NewString(), userID, name)

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session
}

// Get looks up a session
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns sessions for userID (all when empty), most recently updated first
func (m *SessionManager) List(userID string) []domain.SessionSummary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	sortSessions(sessions)

	out := make([]domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

// CloseAll interrupts running turns and disconnects every client
func (m *SessionManager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.Interrupt()
		s.closeClients()
	}
}

func sortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].updated().After(sessions[j].updated())
	})
}
