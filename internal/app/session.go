package app

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	storage "github.com/kode-sdk/kode-chat/internal/infra/storage"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	reconciler "github.com/kode-sdk/kode-chat/internal/reconciler"
)

const archiveTimeout = 5 * time.Second

// ChatSession is the conversation surface used by the front-ends. It wraps
// a reconciler and archives the transcript whenever a turn completes and
// when the session closes.
type ChatSession struct {
	rec        *reconciler.Reconciler
	store      storage.TranscriptStorage
	backendURL string

	mu          sync.Mutex
	archived    map[string]uint64
	completed   map[string]bool
	unsubscribe func()
	closed      bool
}

// NewChatSession creates a session. store may be nil to disable archiving.
func NewChatSession(rec *reconciler.Reconciler, store storage.TranscriptStorage, backendURL string) *ChatSession {
	s := &ChatSession{
		rec:        rec,
		store:      store,
		backendURL: backendURL,
		archived:   make(map[string]uint64),
		completed:  make(map[string]bool),
	}
	s.unsubscribe = rec.Subscribe(s.onSnapshot)
	return s
}

// Start resumes conversationID, or creates a new conversation when it is empty
func (s *ChatSession) Start(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return s.rec.Initialize(ctx)
	}
	return s.rec.Resume(ctx, conversationID)
}

// Restart archives the current conversation and starts a new one
func (s *ChatSession) Restart(ctx context.Context) error {
	if err := s.Archive(ctx); err != nil {
		logger.Warn("failed to archive conversation before restart", "error", err)
	}
	return s.rec.Initialize(ctx)
}

// Submit posts a user message
func (s *ChatSession) Submit(ctx context.Context, text string) error {
	return s.rec.Submit(ctx, text)
}

// Interrupt stops the current turn
func (s *ChatSession) Interrupt(ctx context.Context) error {
	return s.rec.Interrupt(ctx)
}

// DismissError clears the visible error
func (s *ChatSession) DismissError() {
	s.rec.DismissError()
}

// Snapshot returns the current conversation
func (s *ChatSession) Snapshot() domain.Conversation {
	return s.rec.Snapshot()
}

// Subscribe registers a snapshot listener
func (s *ChatSession) Subscribe(listener domain.ConversationListener) func() {
	return s.rec.Subscribe(listener)
}

// Sending reports whether a message post is outstanding
func (s *ChatSession) Sending() bool {
	return s.rec.Sending()
}

// WaitReady blocks until the event stream is open so no event of the next
// turn is missed
func (s *ChatSession) WaitReady(ctx context.Context) error {
	ready := make(chan struct{}, 1)
	unsubscribe := s.rec.Subscribe(func(snap domain.Conversation) {
		if snap.ReadyState == domain.ReadyStateOpen {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	snap := s.rec.Snapshot()
	if snap.ReadyState == domain.ReadyStateOpen {
		return nil
	}
	if snap.LastError != nil {
		return snap.LastError
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		if err := s.rec.Snapshot().LastError; err != nil {
			return err
		}
		return ctx.Err()
	}
}

// WaitForTurn blocks until the current turn completes or an error is
// surfaced, and returns the snapshot at that point.
func (s *ChatSession) WaitForTurn(ctx context.Context) (domain.Conversation, error) {
	ready := make(chan domain.Conversation, 1)
	unsubscribe := s.rec.Subscribe(func(snap domain.Conversation) {
		if turnSettled(snap) {
			select {
			case ready <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	if snap := s.rec.Snapshot(); turnSettled(snap) {
		return snap, snap.LastError
	}

	select {
	case snap := <-ready:
		return snap, snap.LastError
	case <-ctx.Done():
		return s.rec.Snapshot(), ctx.Err()
	}
}

func turnSettled(snap domain.Conversation) bool {
	return snap.HasCompleted || snap.LastError != nil
}

// Archive saves the current transcript when it changed since the last save
func (s *ChatSession) Archive(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap := s.rec.Snapshot()
	if snap.ID == "" || len(snap.Entries) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.archived[snap.ID] >= snap.Version {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.store.SaveTranscript(ctx, storage.FromConversation(snap, s.backendURL)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.archived[snap.ID] < snap.Version {
		s.archived[snap.ID] = snap.Version
	}
	s.mu.Unlock()

	logger.Debug("transcript archived", "conversation_id", snap.ID, "entries", len(snap.Entries))
	return nil
}

func (s *ChatSession) onSnapshot(snap domain.Conversation) {
	if s.store == nil || snap.ID == "" {
		return
	}

	s.mu.Lock()
	wasCompleted := s.completed[snap.ID]
	s.completed[snap.ID] = snap.HasCompleted
	s.mu.Unlock()

	if !snap.HasCompleted || wasCompleted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.Archive(ctx); err != nil {
		logger.Error("failed to archive transcript", "conversation_id", snap.ID, "error", err)
	}
}

// Close tears the stream down and archives the final transcript. It is
// safe to call more than once.
func (s *ChatSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.rec.Teardown()
	s.unsubscribe()

	err := s.Archive(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
