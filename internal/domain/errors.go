package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an action needs a bound conversation id
	ErrNotInitialized = errors.New("conversation is not initialized")
	// ErrEmptyMessage is returned when a submitted message trims to empty
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight is returned when a message is submitted while a previous post is outstanding
	ErrSendInFlight = errors.New("a message is already being sent")
	// ErrSuperseded is returned when a conversation was replaced while a request was pending
	ErrSuperseded = errors.New("conversation was replaced")

	// ErrConnectionLost is surfaced when the stream closes before the turn completed
	ErrConnectionLost = errors.New("event stream connection closed, restart the conversation to retry")
	// ErrStreamInterrupted is surfaced on an unexpected transport error while open
	ErrStreamInterrupted = errors.New("event stream connection interrupted, check the backend service")
	// ErrTransportClosed is returned when opening a transport that was already closed
	ErrTransportClosed = errors.New("transport is closed")

	// ErrEmptyPayload marks empty or "undefined" event data
	ErrEmptyPayload = errors.New("empty event payload")
	// ErrMalformedPayload marks event data that is not valid JSON
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrUnknownEvent marks an event type outside the accepted set
	ErrUnknownEvent = errors.New("unknown event type")
)

// HTTPError is returned for non-2xx backend responses
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ConversationError wraps a failure of a conversation-scoped operation
type ConversationError struct {
	Op             string // "create", "post", "history", "open", "interrupt"
	ConversationID string
	Err            error
}

func (e *ConversationError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("%s conversation: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s conversation %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *ConversationError) Unwrap() error {
	return e.Err
}

// PayloadError wraps a payload that could not be turned into a StreamEvent
type PayloadError struct {
	EventName string
	Err       error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("event %q: %v", e.EventName, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
