package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	websocket "github.com/gorilla/websocket"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
)

const closeGrace = time.Second

// WebSocketTransport receives stream events over a WebSocket. Each text
// frame is either {"event": name, "data": payload} or a bare envelope.
type WebSocketTransport struct {
	*lifecycle
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a WebSocket transport. A nil dialer uses
// websocket.DefaultDialer.
func NewWebSocketTransport(dialer *websocket.Dialer, opts Options) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketTransport{
		lifecycle: newLifecycle(opts),
		dialer:    dialer,
	}
}

// Open dials url in the background. http(s) URLs are rewritten to ws(s).
func (t *WebSocketTransport) Open(ctx context.Context, url string, handler domain.StreamHandler) error {
	wsURL := ToWebSocketURL(url)
	return t.start(ctx, wsURL, handler, func(ctx context.Context, h domain.StreamHandler, opened func()) (bool, error) {
		return t.connect(ctx, wsURL, h, opened)
	})
}

// ToWebSocketURL swaps an http scheme for the matching ws scheme
func ToWebSocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}

func (t *WebSocketTransport) connect(ctx context.Context, url string, handler domain.StreamHandler, opened func()) (bool, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols && resp.StatusCode < 500 {
			return true, &domain.HTTPError{Op: "open stream", StatusCode: resp.StatusCode}
		}
		return false, fmt.Errorf("websocket dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGrace))
		_ = conn.Close()
	})
	defer stop()

	opened()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return false, &interruptedError{err: fmt.Errorf("websocket read failed: %w", err)}
		}
		if messageType != websocket.TextMessage {
			continue
		}

		name, data := DecodeFrame(message)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		handler.OnEvent(name, data)
	}
}

type wsFrame struct {
	Event json.RawMessage `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeFrame splits a WebSocket text frame into an event name and the
// payload handed to the envelope parser. Frames that are not a named pair
// are passed through unchanged with an empty name.
func DecodeFrame(message []byte) (string, []byte) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return "", message
	}

	var name string
	if len(frame.Event) == 0 || json.Unmarshal(frame.Event, &name) != nil {
		return "", message
	}

	data := bytes.TrimSpace(frame.Data)
	var encoded string
	if len(data) > 0 && data[0] == '"' && json.Unmarshal(data, &encoded) == nil {
		return name, []byte(encoded)
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return name, nil
	}
	return name, data
}
