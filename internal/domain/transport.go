package domain

import (
	"context"
	"fmt"
	"strings"
)

// ReadyState mirrors the EventSource readyState values
type ReadyState int32

const (
	ReadyStateConnecting ReadyState = 0
	ReadyStateOpen       ReadyState = 1
	ReadyStateClosed     ReadyState = 2
)

func (s ReadyState) String() string {
	switch s {
	case ReadyStateConnecting:
		return "connecting"
	case ReadyStateOpen:
		return "open"
	case ReadyStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s ReadyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ReadyState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "connecting":
		*s = ReadyStateConnecting
	case "open":
		*s = ReadyStateOpen
	case "closed", "":
		*s = ReadyStateClosed
	default:
		return fmt.Errorf("unknown ready state %q", string(text))
	}
	return nil
}

// StreamHandler receives callbacks from a StreamTransport. Calls for one
// transport are made sequentially from a single goroutine.
type StreamHandler interface {
	OnOpen()
	OnEvent(name string, data []byte)
	OnError(state ReadyState, err error)
}

// StreamTransport is a persistent server-push channel for one conversation
type StreamTransport interface {
	// Open starts connecting in the background and returns immediately.
	Open(ctx context.Context, url string, handler StreamHandler) error
	// Close stops the transport. It is idempotent and does not block on
	// in-flight handler calls.
	Close() error
	ReadyState() ReadyState
}

// TransportFactory builds a fresh transport for each opened stream
type TransportFactory func() StreamTransport
