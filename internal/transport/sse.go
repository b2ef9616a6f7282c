package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	stream "github.com/kode-sdk/kode-chat/internal/stream"
)

// SSETransport consumes a server-sent event stream with EventSource
// semantics: dropped connections reconnect with Last-Event-ID, HTTP 204 or
// any other non-200 answer closes the stream for good.
type SSETransport struct {
	*lifecycle
	client *http.Client

	lastEventID string
}

// NewSSETransport creates an SSE transport. A nil client uses a client
// without an overall timeout, since streams are long lived.
func NewSSETransport(client *http.Client, opts Options) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	return &SSETransport{
		lifecycle: newLifecycle(opts),
		client:    client,
	}
}

// Open starts streaming url in the background
func (t *SSETransport) Open(ctx context.Context, url string, handler domain.StreamHandler) error {
	return t.start(ctx, url, handler, func(ctx context.Context, h domain.StreamHandler, opened func()) (bool, error) {
		return t.connect(ctx, url, h, opened)
	})
}

func (t *SSETransport) connect(ctx context.Context, url string, handler domain.StreamHandler, opened func()) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return true, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.lastEventID != "" {
		req.Header.Set("Last-Event-ID", t.lastEventID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("stream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return true, fmt.Errorf("server ended the stream (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return true, &domain.HTTPError{Op: "open stream", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		return true, fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type"))
	}

	opened()

	dec := stream.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, io.ErrUnexpectedEOF
			}
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if frame.Retry > 0 {
			t.delay = frame.Retry
			t.opts.ReconnectDelay = frame.Retry
		}
		if frame.HasID {
			t.lastEventID = frame.ID
		}
		if !frame.HasData {
			continue
		}

		name := frame.Event
		if name == "" {
			name = "message"
		}
		handler.OnEvent(name, []byte(frame.Data))
	}
}
