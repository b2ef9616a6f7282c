package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	websocket "github.com/gorilla/websocket"
	config "github.com/kode-sdk/kode-chat/config"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedError struct {
	state domain.ReadyState
	err   error
}

type recordingHandler struct {
	mu     sync.Mutex
	opens  int
	names  []string
	data   []string
	errors []recordedError
}

func (h *recordingHandler) OnOpen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opens++
}

func (h *recordingHandler) OnEvent(name string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
	h.data = append(h.data, string(data))
}

func (h *recordingHandler) OnError(state domain.ReadyState, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, recordedError{state: state, err: err})
}

func (h *recordingHandler) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.names)
}

func (h *recordingHandler) lastError() (recordedError, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errors) == 0 {
		return recordedError{}, false
	}
	return h.errors[len(h.errors)-1], true
}

func (h *recordingHandler) closedWith() (error, bool) {
	last, ok := h.lastError()
	if !ok || last.state != domain.ReadyStateClosed {
		return nil, false
	}
	return last.err, true
}

func fastOptions(attempts int) Options {
	return Options{MaxReconnectAttempts: attempts, ReconnectDelay: 5 * time.Millisecond}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func TestSSETransport_DeliversNamedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		sseHeaders(w)
		fmt.Fprint(w, "event: text_chunk\ndata: {\"event\":{\"delta\":\"hi\"}}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "data: {\"event\":{\"type\":\"done\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	h := &recordingHandler{}
	tr := NewSSETransport(nil, fastOptions(3))
	require.NoError(t, tr.Open(context.Background(), server.URL, h))

	require.Eventually(t, func() bool { return h.eventCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ReadyStateOpen, tr.ReadyState())

	h.mu.Lock()
	assert.Equal(t, 1, h.opens)
	assert.Equal(t, []string{"text_chunk", "message"}, h.names)
	assert.Equal(t, `{"event":{"delta":"hi"}}`, h.data[0])
	h.mu.Unlock()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, domain.ReadyStateClosed, tr.ReadyState())

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transport goroutine did not exit")
	}
	_, closed := h.lastError()
	assert.False(t, closed, "no callbacks after Close")
}

func TestSSETransport_NonOKClosesPermanently(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"no content", http.StatusNoContent},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			h := &recordingHandler{}
			tr := NewSSETransport(nil, fastOptions(3))
			require.NoError(t, tr.Open(context.Background(), server.URL, h))

			require.Eventually(t, func() bool {
				_, ok := h.closedWith()
				return ok
			}, 2*time.Second, 5*time.Millisecond)

			assert.Equal(t, int32(1), requests.Load())
			assert.Equal(t, domain.ReadyStateClosed, tr.ReadyState())
			assert.Zero(t, h.opens)
		})
	}
}

func TestSSETransport_WrongContentTypeCloses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	h := &recordingHandler{}
	tr := NewSSETransport(nil, fastOptions(3))
	require.NoError(t, tr.Open(context.Background(), server.URL, h))

	require.Eventually(t, func() bool {
		_, ok := h.closedWith()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSSETransport_ReconnectsWithLastEventID(t *testing.T) {
	var requests atomic.Int32
	lastIDs := make(chan string, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		lastIDs <- r.Header.Get("Last-Event-ID")
		sseHeaders(w)
		if n == 1 {
			fmt.Fprint(w, "retry: 5\nid: 7\nevent: text_chunk\ndata: {\"event\":{\"delta\":\"a\"}}\n\n")
			return
		}
		fmt.Fprint(w, "event: text_chunk\ndata: {\"event\":{\"delta\":\"b\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	h := &recordingHandler{}
	tr := NewSSETransport(nil, fastOptions(1))
	require.NoError(t, tr.Open(context.Background(), server.URL, h))
	defer tr.Close()

	require.Eventually(t, func() bool { return h.eventCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "", <-lastIDs)
	assert.Equal(t, "7", <-lastIDs)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 2, h.opens)
	require.Len(t, h.errors, 1)
	assert.Equal(t, domain.ReadyStateConnecting, h.errors[0].state)
}

func TestSSETransport_ReconnectExhausted(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	h := &recordingHandler{}
	tr := NewSSETransport(nil, fastOptions(2))
	require.NoError(t, tr.Open(context.Background(), url, h))

	require.Eventually(t, func() bool {
		_, ok := h.closedWith()
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	err, _ := h.closedWith()
	assert.True(t, errors.Is(err, ErrReconnectExhausted))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.errors, 3)
	assert.Equal(t, domain.ReadyStateConnecting, h.errors[0].state)
	assert.Equal(t, domain.ReadyStateConnecting, h.errors[1].state)
}

func TestSSETransport_OpenAfterClose(t *testing.T) {
	tr := NewSSETransport(nil, fastOptions(0))
	require.NoError(t, tr.Close())
	err := tr.Open(context.Background(), "http://127.0.0.1:1", &recordingHandler{})
	assert.ErrorIs(t, err, domain.ErrTransportClosed)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func TestWebSocketTransport_DeliversFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"text_chunk","data":{"event":{"delta":"hi"}}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":{"type":"done"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	h := &recordingHandler{}
	tr := NewWebSocketTransport(nil, fastOptions(3))
	require.NoError(t, tr.Open(context.Background(), server.URL, h))

	require.Eventually(t, func() bool {
		_, ok := h.closedWith()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.opens)
	assert.Equal(t, []string{"text_chunk", ""}, h.names)
	assert.Equal(t, `{"event":{"delta":"hi"}}`, h.data[0])
	assert.Equal(t, `{"event":{"type":"done"}}`, h.data[1])
	assert.Equal(t, domain.ReadyStateClosed, tr.ReadyState())
}

func TestWebSocketTransport_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	h := &recordingHandler{}
	tr := NewWebSocketTransport(nil, fastOptions(3))
	require.NoError(t, tr.Open(context.Background(), server.URL, h))

	require.Eventually(t, func() bool {
		_, ok := h.closedWith()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	err, _ := h.closedWith()
	var httpErr *domain.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantName string
		wantData string
	}{
		{"named pair", `{"event":"tool:start","data":{"event":{"call":{"id":"t1"}}}}`, "tool:start", `{"event":{"call":{"id":"t1"}}}`},
		{"string data", `{"event":"text_chunk","data":"{\"delta\":\"x\"}"}`, "text_chunk", `{"delta":"x"}`},
		{"named without data", `{"event":"done"}`, "done", ""},
		{"bare envelope", `{"event":{"type":"done"}}`, "", `{"event":{"type":"done"}}`},
		{"not json", `hello`, "", `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, data := DecodeFrame([]byte(tt.message))
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantData, string(data))
		})
	}
}

func TestToWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:3000/api/x", ToWebSocketURL("http://localhost:3000/api/x"))
	assert.Equal(t, "wss://agent.example.com/e", ToWebSocketURL("https://agent.example.com/e"))
	assert.Equal(t, "ws://already", ToWebSocketURL("ws://already"))
}

func TestNewFactory(t *testing.T) {
	cfg := config.DefaultConfig()

	factory, err := NewFactory(cfg)
	require.NoError(t, err)
	_, ok := factory().(*SSETransport)
	assert.True(t, ok)

	cfg.Stream.Transport = KindWebSocket
	factory, err = NewFactory(cfg)
	require.NoError(t, err)
	_, ok = factory().(*WebSocketTransport)
	assert.True(t, ok)

	cfg.Stream.Transport = "carrier-pigeon"
	_, err = NewFactory(cfg)
	assert.Error(t, err)
}

func TestWebSocketTransport_AbnormalCloseReportsOpenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"text_chunk","data":{"event":{"delta":"hi"}}}`))
		// drop the connection without a close frame
		_ = conn.Close()
	}))
	defer server.Close()

	h := &recordingHandler{}
	tr := NewWebSocketTransport(nil, Options{MaxReconnectAttempts: 1, ReconnectDelay: time.Hour})
	require.NoError(t, tr.Open(context.Background(), server.URL, h))
	defer tr.Close()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.errors) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, domain.ReadyStateOpen, h.errors[0].state)
	assert.True(t, websocket.IsUnexpectedCloseError(errors.Unwrap(h.errors[0].err)))
	assert.Equal(t, domain.ReadyStateConnecting, h.errors[1].state)
	assert.Equal(t, 1, h.opens)
}
