package domain

// EventKind identifies a stream event in the closed set the reconciler folds
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindTextChunk
	EventKindTextChunkEnd
	EventKindThinkChunkStart
	EventKindThinkChunk
	EventKindThinkChunkEnd
	EventKindToolStart
	EventKindToolEnd
	EventKindTokenUsage
	EventKindError
	EventKindDone
)

var eventKindNames = map[EventKind]string{
	EventKindTextChunk:       "text_chunk",
	EventKindTextChunkEnd:    "text_chunk_end",
	EventKindThinkChunkStart: "think_chunk_start",
	EventKindThinkChunk:      "think_chunk",
	EventKindThinkChunkEnd:   "think_chunk_end",
	EventKindToolStart:       "tool:start",
	EventKindToolEnd:         "tool:end",
	EventKindTokenUsage:      "token_usage",
	EventKindError:           "error",
	EventKindDone:            "done",
}

// String returns the wire name of the kind
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// EventKindFromName maps a wire name to its kind
func EventKindFromName(name string) EventKind {
	for kind, n := range eventKindNames {
		if n == name {
			return kind
		}
	}
	return EventKindUnknown
}

// StreamEvent is implemented by every event the reconciler accepts
type StreamEvent interface {
	Kind() EventKind
	Cursor() *Bookmark
}

// BaseStreamEvent carries the envelope position shared by all events
type BaseStreamEvent struct {
	Bookmark *Bookmark
}

func (e BaseStreamEvent) Cursor() *Bookmark { return e.Bookmark }

// ToolCall is the wire view of a tool invocation carried by tool events
type ToolCall struct {
	ID         string
	Name       string
	Input      any
	Output     any
	DurationMs *int64
	IsError    bool
	Error      string
}

// TextChunkEvent appends Delta to the open assistant entry
type TextChunkEvent struct {
	BaseStreamEvent
	Delta string
}

func (TextChunkEvent) Kind() EventKind { return EventKindTextChunk }

// TextChunkEndEvent finalizes the open assistant entry
type TextChunkEndEvent struct {
	BaseStreamEvent
}

func (TextChunkEndEvent) Kind() EventKind { return EventKindTextChunkEnd }

// ThinkChunkStartEvent opens a thinking entry
type ThinkChunkStartEvent struct {
	BaseStreamEvent
}

func (ThinkChunkStartEvent) Kind() EventKind { return EventKindThinkChunkStart }

// ThinkChunkEvent appends reasoning text to the open thinking entry
type ThinkChunkEvent struct {
	BaseStreamEvent
	Delta string
}

func (ThinkChunkEvent) Kind() EventKind { return EventKindThinkChunk }

// ThinkChunkEndEvent finalizes the open thinking entry
type ThinkChunkEndEvent struct {
	BaseStreamEvent
}

func (ThinkChunkEndEvent) Kind() EventKind { return EventKindThinkChunkEnd }

// ToolStartEvent reports a tool invocation has begun
type ToolStartEvent struct {
	BaseStreamEvent
	Call ToolCall
}

func (ToolStartEvent) Kind() EventKind { return EventKindToolStart }

// ToolEndEvent reports a tool invocation has finished. Content is the
// envelope-level fallback for the call output.
type ToolEndEvent struct {
	BaseStreamEvent
	Call    ToolCall
	Content any
}

func (ToolEndEvent) Kind() EventKind { return EventKindToolEnd }

// TokenUsageEvent reports token consumption for the current turn
type TokenUsageEvent struct {
	BaseStreamEvent
	InputTokens  int64
	OutputTokens int64
}

func (TokenUsageEvent) Kind() EventKind { return EventKindTokenUsage }

// StreamErrorEvent is an error reported inside the stream, not a transport error
type StreamErrorEvent struct {
	BaseStreamEvent
	Message string
}

func (StreamErrorEvent) Kind() EventKind { return EventKindError }

// DoneEvent marks the end of the agent's turn
type DoneEvent struct {
	BaseStreamEvent
}

func (DoneEvent) Kind() EventKind { return EventKindDone }
