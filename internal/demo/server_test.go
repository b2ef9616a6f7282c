package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	websocket "github.com/gorilla/websocket"
	client "github.com/kode-sdk/kode-chat/internal/client"
	config "github.com/kode-sdk/kode-chat/config"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	reconciler "github.com/kode-sdk/kode-chat/internal/reconciler"
	stream "github.com/kode-sdk/kode-chat/internal/stream"
	transport "github.com/kode-sdk/kode-chat/internal/transport"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	srv := NewServer(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func createConversation(t *testing.T, baseURL string, body any) string {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/conversations", body)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ConversationID string `json:"conversationId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ConversationID)
	return out.ConversationID
}

func TestServer_CreateAndEmptyHistory(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	id := createConversation(t, ts.URL, map[string]any{})

	resp, err := http.Get(ts.URL + "/api/conversations/" + id + "/history")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []domain.ChatEntry `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotNil(t, out.Messages)
	assert.Empty(t, out.Messages)
}

func TestServer_Errors(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	id := createConversation(t, ts.URL, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown conversation", "/api/conversations/missing/messages", map[string]string{"content": "hi"}, http.StatusNotFound},
		{"blank content", "/api/conversations/" + id + "/messages", map[string]string{"content": "   "}, http.StatusBadRequest},
		{"unknown interrupt", "/api/conversations/missing/interrupt", map[string]string{}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+tt.path, tt.body)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_SessionsFilterByUser(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	createConversation(t, ts.URL, map[string]string{"userId": "alice", "name": "Release planning"})
	createConversation(t, ts.URL, map[string]string{"userId": "bob"})

	c := client.New(ts.URL+"/api", 5*time.Second, config.RetryConfig{})

	sessions, err := c.ListSessions(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Release planning", sessions[0].Name)
	assert.Equal(t, "alice", sessions[0].UserID)

	all, err := c.ListSessions(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, srv.Sessions().List(""), 2)
}

func TestSession_SubscribeReplaysAfterLastSeq(t *testing.T) {
	s := newSession("conv-1", "", "")
	for i := 0; i < 3; i++ {
		_, err := s.Publish("text_chunk", map[string]any{"delta": "x"})
		require.NoError(t, err)
	}

	_, replay := s.Subscribe("c1", 1)
	require.Len(t, replay, 2)
	assert.Equal(t, int64(2), replay[0].Seq)
	assert.Equal(t, int64(3), replay[1].Seq)

	_, none := s.Subscribe("c2", -1)
	assert.Empty(t, none)

	s.Unsubscribe("c1")
	s.Unsubscribe("c1")
	assert.Equal(t, 1, s.ClientCount())
}

func TestSession_PublishBuildsEnvelopeAndHistory(t *testing.T) {
	s := newSession("conv-1", "", "")
	s.AddUserMessage("hello")

	frame, err := s.Publish("text_chunk", map[string]any{"delta": "Hi there"})
	require.NoError(t, err)

	ev, err := stream.ParseEnvelope(frame.Name, frame.Data)
	require.NoError(t, err)
	chunk, ok := ev.(domain.TextChunkEvent)
	require.True(t, ok)
	assert.Equal(t, "Hi there", chunk.Delta)
	require.NotNil(t, chunk.Cursor())
	assert.Equal(t, int64(1), chunk.Cursor().Seq)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, "Hi there", history[1].Content)
}

func TestServer_SSEReplayWithLastEventID(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	id := createConversation(t, ts.URL, nil)

	session, ok := srv.Sessions().Get(id)
	require.True(t, ok)
	_, err := session.Publish("text_chunk", map[string]any{"delta": "one"})
	require.NoError(t, err)
	_, err = session.Publish("text_chunk", map[string]any{"delta": "two"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/conversations/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	dec := stream.NewDecoder(resp.Body)
	var frame stream.Frame
	for {
		frame, err = dec.Next()
		require.NoError(t, err)
		if frame.HasData {
			break
		}
	}
	assert.Equal(t, "2", frame.ID)
	assert.Equal(t, "text_chunk", frame.Event)
	assert.Contains(t, frame.Data, `"two"`)
}

func waitCompleted(t *testing.T, r *reconciler.Reconciler) domain.Conversation {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Snapshot().HasCompleted
	}, 5*time.Second, 10*time.Millisecond)
	return r.Snapshot()
}

func runScriptedTurn(t *testing.T, kind string) {
	_, ts := newTestServer(t, Options{})

	cfg := config.DefaultConfig()
	cfg.Backend.URL = ts.URL
	cfg.Stream.Transport = kind
	cfg.Stream.ReconnectDelayMs = 50

	factory, err := transport.NewFactory(cfg)
	require.NoError(t, err)

	r := reconciler.New(client.NewFromConfig(cfg), factory, reconciler.Options{})
	defer r.Teardown()

	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))
	require.Eventually(t, func() bool {
		return r.Snapshot().ReadyState == domain.ReadyStateOpen
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Submit(ctx, "ship the release"))
	conv := waitCompleted(t, r)

	text, ok := conv.LastAssistantText()
	require.True(t, ok)
	assert.Contains(t, text, "ship the release")

	var tool *domain.ChatEntry
	for i := range conv.Entries {
		if conv.Entries[i].Kind == domain.EntryKindTool {
			tool = &conv.Entries[i]
		}
	}
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, domain.ToolStatusCompleted, tool.Status)
	require.NotNil(t, tool.DurationMs)
	assert.Equal(t, int64(100), *tool.DurationMs)

	assert.Greater(t, conv.Usage.Total(), int64(0))
	assert.NotNil(t, conv.LastBookmark)
	assert.Nil(t, conv.LastError)
	assert.False(t, conv.IsStreaming())
}

func TestServer_ScriptedTurnOverSSE(t *testing.T) {
	runScriptedTurn(t, transport.KindSSE)
}

func TestServer_ScriptedTurnOverWebSocket(t *testing.T) {
	runScriptedTurn(t, transport.KindWebSocket)
}

func TestServer_ResumeLoadsFoldedHistory(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	cfg := config.DefaultConfig()
	cfg.Backend.URL = ts.URL
	factory, err := transport.NewFactory(cfg)
	require.NoError(t, err)
	api := client.NewFromConfig(cfg)

	first := reconciler.New(api, factory, reconciler.Options{})
	require.NoError(t, first.Initialize(context.Background()))
	require.Eventually(t, func() bool {
		return first.Snapshot().ReadyState == domain.ReadyStateOpen
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Submit(context.Background(), "remember this"))
	done := waitCompleted(t, first)
	first.Teardown()

	second := reconciler.New(api, factory, reconciler.Options{})
	defer second.Teardown()
	require.NoError(t, second.Resume(context.Background(), done.ID))

	resumed := second.Snapshot()
	assert.Equal(t, done.ID, resumed.ID)
	require.NotEmpty(t, resumed.Entries)
	assert.Equal(t, "remember this", resumed.Entries[0].Content)

	text, ok := resumed.LastAssistantText()
	require.True(t, ok)
	assert.Contains(t, text, "remember this")
	for _, e := range resumed.Entries {
		assert.False(t, e.Streaming)
	}
}

func TestServer_InterruptEndsTurn(t *testing.T) {
	srv, ts := newTestServer(t, Options{ChunkDelay: time.Hour})
	id := createConversation(t, ts.URL, nil)

	resp := postJSON(t, ts.URL+"/api/conversations/"+id+"/messages", map[string]string{"content": "long task"})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	session, ok := srv.Sessions().Get(id)
	require.True(t, ok)

	c := client.New(ts.URL+"/api", 5*time.Second, config.RetryConfig{})
	require.Eventually(t, func() bool {
		session.cancelMu.Lock()
		running := session.cancelTurn != nil
		session.cancelMu.Unlock()
		return running
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Interrupt(context.Background(), id))

	require.Eventually(t, func() bool {
		history := session.History()
		last := history[len(history)-1]
		return last.Kind == domain.EntryKindEvent && last.Title == "Conversation complete"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_WebSocketClosesOnShutdown(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	id := createConversation(t, ts.URL, nil)

	wsURL := transport.ToWebSocketURL(ts.URL + "/api/conversations/" + id + "/events")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool {
		s, _ := srv.Sessions().Get(id)
		return s.ClientCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	srv.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway))
}

func TestDefaultScript(t *testing.T) {
	steps := DefaultScript(strings.Repeat("a", 50))

	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, "think_chunk_start", names[0])
	assert.Equal(t, "done", names[len(names)-1])
	assert.Contains(t, names, "tool:start")
	assert.Contains(t, names, "tool:end")
	assert.Contains(t, names, "token_usage")

	assert.Equal(t, []string{"abc", "de"}, splitChunks("abcde", 3))
	assert.Nil(t, splitChunks("", 3))
	assert.Equal(t, 0, estimateTokens("  "))
	assert.Equal(t, 2, estimateTokens("hello"))
}
