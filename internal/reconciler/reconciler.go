package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	stream "github.com/kode-sdk/kode-chat/internal/stream"
)

const sendFailedMarker = "\n(send failed)"

// Options tunes a Reconciler
type Options struct {
	// ThinkingCollapseDelay collapses finalized thinking entries after the
	// delay. Zero disables collapsing.
	ThinkingCollapseDelay time.Duration
	Folder                *Folder
}

// Reconciler owns one Conversation and keeps it consistent with the remote
// agent by folding stream events and issuing outbound requests. All state
// mutation goes through mu; listeners are called outside the lock.
type Reconciler struct {
	api        domain.ConversationAPI
	transports domain.TransportFactory
	folder     *Folder
	collapse   time.Duration

	mu         sync.Mutex
	conv       *domain.Conversation
	transport  domain.StreamTransport
	generation uint64
	sending    bool
	timers     []*time.Timer

	listenersMu    sync.RWMutex
	listeners      map[int]domain.ConversationListener
	nextListenerID int
}

// New creates a Reconciler bound to a backend API and a transport factory
func New(api domain.ConversationAPI, transports domain.TransportFactory, opts Options) *Reconciler {
	folder := opts.Folder
	if folder == nil {
		folder = NewFolder()
	}
	return &Reconciler{
		api:        api,
		transports: transports,
		folder:     folder,
		collapse:   opts.ThinkingCollapseDelay,
		conv:       domain.NewConversation(""),
		listeners:  make(map[int]domain.ConversationListener),
	}
}

// Subscribe registers a listener that receives a snapshot after every
// change. The returned func removes it.
func (r *Reconciler) Subscribe(listener domain.ConversationListener) func() {
	r.listenersMu.Lock()
	id := r.nextListenerID
	r.nextListenerID++
	r.listeners[id] = listener
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Reconciler) notify(snapshot domain.Conversation) {
	r.listenersMu.RLock()
	listeners := make([]domain.ConversationListener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

// Snapshot returns an immutable copy of the current conversation
func (r *Reconciler) Snapshot() domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.Clone()
}

// ConversationID returns the bound conversation id, empty when unbound
func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.ID
}

// resetLocked closes the previous transport and timers, then installs a
// fresh conversation under a new generation. Callers hold mu.
func (r *Reconciler) resetLocked(id string) uint64 {
	r.stopLocked()
	r.generation++
	r.sending = false
	r.conv = domain.NewConversation(id)
	r.conv.StartedAt = r.folder.Now()
	return r.generation
}

// stopLocked closes the transport and cancels timers. Callers hold mu.
func (r *Reconciler) stopLocked() {
	if r.transport != nil {
		if err := r.transport.Close(); err != nil {
			logger.Warn("failed to close stream transport", "conversation_id", r.conv.ID, "error", err)
		}
		r.transport = nil
	}
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}

// commitLocked bumps the version and returns a snapshot. Callers hold mu.
func (r *Reconciler) commitLocked() domain.Conversation {
	r.conv.Version++
	return r.conv.Clone()
}

// Initialize discards the current conversation, creates a new one on the
// backend and opens its event stream.
func (r *Reconciler) Initialize(ctx context.Context) error {
	r.mu.Lock()
	gen := r.resetLocked("")
	snap := r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	id, err := r.api.CreateConversation(ctx)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return domain.ErrSuperseded
	}
	if err != nil {
		cerr := &domain.ConversationError{Op: "create", Err: err}
		r.conv.LastError = cerr
		snap = r.commitLocked()
		r.mu.Unlock()
		r.notify(snap)
		logger.Error("failed to create conversation", "error", err)
		return cerr
	}

	r.conv.ID = id
	openErr := r.openLocked(ctx, gen)
	snap = r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	logger.Info("conversation initialized", "conversation_id", id)
	return openErr
}

// Resume binds an existing conversation id, loads its history and then
// opens the stream. A history failure leaves the transcript empty.
func (r *Reconciler) Resume(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return r.Initialize(ctx)
	}

	r.mu.Lock()
	gen := r.resetLocked(conversationID)
	snap := r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	history, err := r.api.FetchHistory(ctx, conversationID)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return domain.ErrSuperseded
	}
	if err != nil {
		logger.Warn("failed to load conversation history", "conversation_id", conversationID, "error", err)
	} else {
		r.folder.LoadHistory(r.conv, history)
	}

	openErr := r.openLocked(ctx, gen)
	snap = r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	logger.Info("conversation resumed", "conversation_id", conversationID, "history_entries", len(history))
	return openErr
}

// openLocked opens a fresh transport for the bound conversation. Callers hold mu.
func (r *Reconciler) openLocked(ctx context.Context, gen uint64) error {
	t := r.transports()
	r.transport = t
	r.conv.ReadyState = domain.ReadyStateConnecting

	url := r.api.EventsURL(r.conv.ID)
	handler := &streamHandler{r: r, generation: gen}
	if err := t.Open(context.WithoutCancel(ctx), url, handler); err != nil {
		cerr := &domain.ConversationError{Op: "open", ConversationID: r.conv.ID, Err: err}
		r.conv.ReadyState = domain.ReadyStateClosed
		r.conv.LastError = cerr
		r.transport = nil
		logger.Error("failed to open event stream", "conversation_id", r.conv.ID, "url", url, "error", err)
		return cerr
	}

	logger.Debug("event stream opening", "conversation_id", r.conv.ID, "url", url)
	return nil
}

// Submit appends a user entry and posts it to the backend. Only one post
// may be outstanding at a time.
func (r *Reconciler) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}

	r.mu.Lock()
	if r.conv.ID == "" {
		r.conv.LastError = domain.ErrNotInitialized
		snap := r.commitLocked()
		r.mu.Unlock()
		r.notify(snap)
		return domain.ErrNotInitialized
	}
	if r.sending {
		r.mu.Unlock()
		return domain.ErrSendInFlight
	}

	r.sending = true
	gen := r.generation
	id := r.conv.ID
	entry := domain.NewTextEntry(r.folder.NewID(), domain.RoleUser, text, false)
	entry.CreatedAt = r.folder.Now()
	r.conv.Entries = append(r.conv.Entries, entry)
	r.conv.HasCompleted = false
	snap := r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	err := r.api.PostMessage(ctx, id, text)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		if err != nil {
			return &domain.ConversationError{Op: "post", ConversationID: id, Err: err}
		}
		return nil
	}
	r.sending = false
	if err == nil {
		r.mu.Unlock()
		return nil
	}

	cerr := &domain.ConversationError{Op: "post", ConversationID: id, Err: err}
	if idx := r.conv.EntryIndex(entry.ID); idx >= 0 {
		r.conv.Entries[idx].Failed = true
		r.conv.Entries[idx].Content += sendFailedMarker
	}
	r.conv.LastError = cerr
	snap = r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	logger.Error("failed to post message", "conversation_id", id, "error", err)
	return cerr
}

// Sending reports whether a post-message request is outstanding
func (r *Reconciler) Sending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sending
}

// Interrupt asks the backend to stop the current turn and marks running
// tools as interrupted.
func (r *Reconciler) Interrupt(ctx context.Context) error {
	r.mu.Lock()
	id := r.conv.ID
	gen := r.generation
	r.mu.Unlock()

	if id == "" {
		return domain.ErrNotInitialized
	}

	err := r.api.Interrupt(ctx, id)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return domain.ErrSuperseded
	}
	if err != nil {
		cerr := &domain.ConversationError{Op: "interrupt", ConversationID: id, Err: err}
		r.conv.LastError = cerr
		snap := r.commitLocked()
		r.mu.Unlock()
		r.notify(snap)
		return cerr
	}

	changed := r.folder.InterruptTools(r.conv)
	snap := r.conv.Clone()
	r.mu.Unlock()
	if changed {
		r.notify(snap)
	}

	logger.Info("conversation interrupted", "conversation_id", id)
	return nil
}

// DismissError clears the user-visible error slot
func (r *Reconciler) DismissError() {
	r.mu.Lock()
	if r.conv.LastError == nil {
		r.mu.Unlock()
		return
	}
	r.conv.LastError = nil
	snap := r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// Teardown closes the stream and cancels timers. The transcript is kept so
// it can still be read or archived. Calling Teardown twice is safe.
func (r *Reconciler) Teardown() {
	r.mu.Lock()
	active := r.transport != nil || len(r.timers) > 0 || r.conv.ReadyState != domain.ReadyStateClosed
	r.stopLocked()
	r.generation++
	r.sending = false
	if !active {
		r.mu.Unlock()
		return
	}
	r.conv.ReadyState = domain.ReadyStateClosed
	snap := r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)

	logger.Debug("conversation torn down", "conversation_id", snap.ID)
}

// Dispatch parses and folds one raw event into the current conversation
func (r *Reconciler) Dispatch(name string, data []byte) {
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()
	r.handleEvent(gen, name, data)
}

// Apply folds an already parsed event into the current conversation
func (r *Reconciler) Apply(ev domain.StreamEvent) {
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()
	r.applyEvent(gen, ev)
}

func (r *Reconciler) handleEvent(gen uint64, name string, data []byte) {
	ev, err := stream.ParseEnvelope(name, data)
	if err != nil {
		logger.Warn("dropping stream event", "event", name, "error", err)
		return
	}
	r.applyEvent(gen, ev)
}

func (r *Reconciler) applyEvent(gen uint64, ev domain.StreamEvent) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		logger.Debug("ignoring event from a previous stream", "event", ev.Kind().String())
		return
	}

	out := r.folder.Apply(r.conv, ev)
	if !out.Changed {
		r.mu.Unlock()
		return
	}
	if out.ThinkingFinalized != "" {
		r.scheduleCollapseLocked(gen, out.ThinkingFinalized)
	}
	snap := r.conv.Clone()
	r.mu.Unlock()

	if out.Completed {
		logger.Debug("turn completed", "conversation_id", snap.ID)
	}
	r.notify(snap)
}

func (r *Reconciler) scheduleCollapseLocked(gen uint64, entryID string) {
	if r.collapse <= 0 {
		return
	}
	timer := time.AfterFunc(r.collapse, func() {
		r.mu.Lock()
		if gen != r.generation {
			r.mu.Unlock()
			return
		}
		idx := r.conv.EntryIndex(entryID)
		if idx < 0 || r.conv.Entries[idx].Collapsed {
			r.mu.Unlock()
			return
		}
		r.conv.Entries[idx].Collapsed = true
		snap := r.commitLocked()
		r.mu.Unlock()
		r.notify(snap)
	})
	r.timers = append(r.timers, timer)
}

func (r *Reconciler) handleOpen(gen uint64) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.conv.ReadyState = domain.ReadyStateOpen
	r.conv.LastError = nil
	snap := r.commitLocked()
	r.mu.Unlock()

	logger.Debug("event stream open", "conversation_id", snap.ID)
	r.notify(snap)
}

// handleTransportError applies the closure policy: reconnect attempts are
// silent, a close after completion is expected, anything else is surfaced.
func (r *Reconciler) handleTransportError(gen uint64, state domain.ReadyState, err error) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}

	id := r.conv.ID
	r.conv.ReadyState = state

	switch state {
	case domain.ReadyStateConnecting:
		logger.Debug("event stream reconnecting", "conversation_id", id, "error", err)
	case domain.ReadyStateClosed:
		r.transport = nil
		if r.conv.HasCompleted {
			logger.Debug("event stream closed after completion", "conversation_id", id)
		} else {
			r.conv.LastError = domain.ErrConnectionLost
			logger.Warn("event stream closed before completion", "conversation_id", id, "error", err)
		}
	default:
		if err != nil && !errors.Is(err, domain.ErrTransportClosed) {
			r.conv.LastError = domain.ErrStreamInterrupted
			logger.Warn("event stream interrupted", "conversation_id", id, "error", err)
		}
	}

	snap := r.commitLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// streamHandler binds transport callbacks to the generation they were
// opened under so late callbacks from a replaced stream are ignored.
type streamHandler struct {
	r          *Reconciler
	generation uint64
}

func (h *streamHandler) OnOpen() {
	h.r.handleOpen(h.generation)
}

func (h *streamHandler) OnEvent(name string, data []byte) {
	h.r.handleEvent(h.generation, name, data)
}

func (h *streamHandler) OnError(state domain.ReadyState, err error) {
	h.r.handleTransportError(h.generation, state, err)
}
