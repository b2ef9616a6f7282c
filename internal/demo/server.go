package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	websocket "github.com/gorilla/websocket"
	config "github.com/kode-sdk/kode-chat/config"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
)

const (
	keepAliveInterval = 15 * time.Second
	sseRetryMs        = 1000
	shutdownTimeout   = 5 * time.Second
)

// Options configure the demo backend
type Options struct {
	Addr       string
	APIPrefix  string
	ChunkDelay time.Duration
	Script     Script
}

// OptionsFromConfig maps the demo and backend sections of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:       cfg.Demo.Addr,
		APIPrefix:  cfg.Backend.APIPrefix,
		ChunkDelay: time.Duration(cfg.Demo.ChunkDelayMs) * time.Millisecond,
	}
}

// Server is a scripted conversation backend speaking the same REST, SSE and
// WebSocket contract as a real agent backend
type Server struct {
	opts     Options
	sessions *SessionManager
	upgrader websocket.Upgrader

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a demo server
func NewServer(opts Options) *Server {
	if opts.Script == nil {
		opts.Script = DefaultScript
	}
	opts.APIPrefix = "/" + strings.Trim(opts.APIPrefix, "/")
	if opts.APIPrefix == "/" {
		opts.APIPrefix = ""
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		sessions: NewSessionManager(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Sessions exposes the session registry
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Handler returns the HTTP routes of the demo backend
func (s *Server) Handler() http.Handler {
	p := s.opts.APIPrefix
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+p+"/conversations", s.handleCreate)
	mux.HandleFunc("POST "+p+"/conversations/{id}/messages", s.handleMessage)
	mux.HandleFunc("GET "+p+"/conversations/{id}/history", s.handleHistory)
	mux.HandleFunc("POST "+p+"/conversations/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("GET "+p+"/conversations/{id}/events", s.handleEvents)
	mux.HandleFunc("GET "+p+"/sessions", s.handleSessions)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return withRequestLogging(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("demo backend listening", "addr", ln.Addr().String(), "api_prefix", s.opts.APIPrefix)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("demo server error: %w", err)
	case <-ctx.Done():
	}

	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("demo server shutdown: %w", err)
	}
	logger.Info("demo backend stopped")
	return nil
}

// Close stops running turns and ends open streams
func (s *Server) Close() {
	s.cancelBase()
	s.sessions.CloseAll()
}

type createRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session := s.sessions.Create(req.UserID, req.Name)
	logger.Info("demo conversation created", "conversation_id", session.ID, "user_id", req.UserID)
	writeJSON(w, http.StatusCreated, map[string]any{"conversationId": session.ID})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := r.PathValue("id")
	session, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("conversation %s not found", id))
		return nil, false
	}
	return session, true
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	session.AddUserMessage(content)
	steps := s.opts.Script(content)
	go session.RunTurn(s.baseCtx, steps, s.opts.ChunkDelay)

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": session.History()})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	interrupted := session.Interrupt()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "interrupted": interrupted})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	sessions := s.sessions.List(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": sessions,
		"total":    len(sessions),
		"userId":   userID,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, session)
		return
	}
	s.serveSSE(w, r, session)
}

func lastEventID(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}
	if raw == "" {
		return -1
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return seq
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, session *Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientID := uuid.NewString()
	frames, replay := session.Subscribe(clientID, lastEventID(r))
	defer session.Unsubscribe(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", sseRetryMs)
	flusher.Flush()

	logger.Debug("sse client connected", "conversation_id", session.ID, "client_id", clientID, "replay", len(replay))

	for _, f := range replay {
		if err := writeSSEFrame(w, f); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("sse client disconnected", "conversation_id", session.ID, "client_id", clientID)
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writeSSEFrame(w, f); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, f Frame) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", f.Seq, f.Name, f.Data)
	return err
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, session *Session) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	clientID := uuid.NewString()
	frames, replay := session.Subscribe(clientID, lastEventID(r))
	defer session.Unsubscribe(clientID)

	logger.Debug("websocket client connected", "conversation_id", session.ID, "client_id", clientID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, f := range replay {
		if err := conn.WriteJSON(wsFrame{Event: f.Name, Data: f.Data}); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			logger.Debug("websocket client disconnected", "conversation_id", session.ID, "client_id", clientID)
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case f, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(wsFrame{Event: f.Name, Data: f.Data}); err != nil {
				logger.Warn("failed to write websocket frame", "conversation_id", session.ID, "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("demo request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
