package stream

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
)

// legacyAliases maps event names used by older front-ends onto the current set
var legacyAliases = map[string]string{
	"text":       "text_chunk",
	"thinking":   "think_chunk",
	"tool_start": "tool:start",
	"tool_end":   "tool:end",
	"complete":   "done",
}

// NormalizeEventName resolves legacy aliases to the canonical event name
func NormalizeEventName(name string) string {
	name = strings.TrimSpace(name)
	if alias, ok := legacyAliases[name]; ok {
		return alias
	}
	return name
}

type rawEnvelope struct {
	Cursor   *domain.Bookmark `json:"cursor"`
	Bookmark *domain.Bookmark `json:"bookmark"`
	Event    *rawEvent        `json:"event"`
}

type rawEvent struct {
	Type         string           `json:"type"`
	Delta        *string          `json:"delta"`
	Content      any              `json:"content"`
	Message      any              `json:"message"`
	Call         *rawCall         `json:"call"`
	ToolCall     *rawCall         `json:"toolCall"`
	InputTokens  float64          `json:"inputTokens"`
	OutputTokens float64          `json:"outputTokens"`
	Bookmark     *domain.Bookmark `json:"bookmark"`

	// flat legacy tool fields
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Input      any      `json:"input"`
	Output     any      `json:"output"`
	Result     any      `json:"result"`
	Duration   *float64 `json:"duration"`
	DurationMs *float64 `json:"durationMs"`
	IsError    bool     `json:"isError"`
	Error      any      `json:"error"`
}

type rawCall struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Input      any      `json:"input"`
	Output     any      `json:"output"`
	Result     any      `json:"result"`
	DurationMs *float64 `json:"durationMs"`
	Duration   *float64 `json:"duration"`
	IsError    bool     `json:"isError"`
	Error      any      `json:"error"`
	State      string   `json:"state"`
}

// ParseEnvelope decodes the data of a named stream event into a typed
// StreamEvent. The transport-level name wins over the type carried in the
// payload unless it is empty or the generic "message".
func ParseEnvelope(name string, data []byte) (domain.StreamEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "undefined" {
		return nil, &domain.PayloadError{EventName: name, Err: domain.ErrEmptyPayload}
	}

	var env rawEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &domain.PayloadError{EventName: name, Err: domain.ErrMalformedPayload}
	}

	ev := env.Event
	if ev == nil {
		ev = &rawEvent{}
		if err := json.Unmarshal(trimmed, ev); err != nil {
			return nil, &domain.PayloadError{EventName: name, Err: domain.ErrMalformedPayload}
		}
	}

	eventName := strings.TrimSpace(name)
	if eventName == "" || eventName == "message" {
		eventName = ev.Type
	}
	eventName = NormalizeEventName(eventName)

	base := domain.BaseStreamEvent{Bookmark: firstBookmark(env.Bookmark, env.Cursor, ev.Bookmark)}

	switch domain.EventKindFromName(eventName) {
	case domain.EventKindTextChunk:
		return domain.TextChunkEvent{BaseStreamEvent: base, Delta: ev.delta()}, nil
	case domain.EventKindTextChunkEnd:
		return domain.TextChunkEndEvent{BaseStreamEvent: base}, nil
	case domain.EventKindThinkChunkStart:
		return domain.ThinkChunkStartEvent{BaseStreamEvent: base}, nil
	case domain.EventKindThinkChunk:
		return domain.ThinkChunkEvent{BaseStreamEvent: base, Delta: ev.delta()}, nil
	case domain.EventKindThinkChunkEnd:
		return domain.ThinkChunkEndEvent{BaseStreamEvent: base}, nil
	case domain.EventKindToolStart:
		return domain.ToolStartEvent{BaseStreamEvent: base, Call: ev.call()}, nil
	case domain.EventKindToolEnd:
		return domain.ToolEndEvent{BaseStreamEvent: base, Call: ev.call(), Content: ev.Content}, nil
	case domain.EventKindTokenUsage:
		return domain.TokenUsageEvent{
			BaseStreamEvent: base,
			InputTokens:     clampInt64(ev.InputTokens),
			OutputTokens:    clampInt64(ev.OutputTokens),
		}, nil
	case domain.EventKindError:
		msg, _ := ev.Message.(string)
		return domain.StreamErrorEvent{BaseStreamEvent: base, Message: strings.TrimSpace(msg)}, nil
	case domain.EventKindDone:
		return domain.DoneEvent{BaseStreamEvent: base}, nil
	default:
		if eventName == "" {
			eventName = "(none)"
		}
		return nil, &domain.PayloadError{EventName: eventName, Err: domain.ErrUnknownEvent}
	}
}

func firstBookmark(candidates ...*domain.Bookmark) *domain.Bookmark {
	for _, b := range candidates {
		if b != nil {
			return b
		}
	}
	return nil
}

// delta prefers the explicit delta field and falls back to string content
func (e *rawEvent) delta() string {
	if e.Delta != nil {
		return *e.Delta
	}
	if s, ok := e.Content.(string); ok {
		return s
	}
	return ""
}

func (e *rawEvent) call() domain.ToolCall {
	c := e.Call
	if c == nil {
		c = e.ToolCall
	}
	if c == nil {
		c = &rawCall{
			ID:         e.ID,
			Name:       e.Name,
			Input:      e.Input,
			Output:     e.Output,
			Result:     e.Result,
			DurationMs: e.DurationMs,
			Duration:   e.Duration,
			IsError:    e.IsError,
			Error:      e.Error,
		}
	}

	out := domain.ToolCall{
		ID:      strings.TrimSpace(c.ID),
		Name:    strings.TrimSpace(c.Name),
		Input:   c.Input,
		Output:  c.Output,
		IsError: c.IsError || strings.EqualFold(c.State, "FAILED"),
	}
	if out.Output == nil {
		out.Output = c.Result
	}
	if msg, ok := c.Error.(string); ok && strings.TrimSpace(msg) != "" {
		out.Error = msg
		out.IsError = true
	}

	d := c.DurationMs
	if d == nil {
		d = c.Duration
	}
	if d != nil && !math.IsNaN(*d) && *d >= 0 {
		out.DurationMs = domain.Int64Ptr(clampInt64(math.Round(*d)))
	}

	return out
}

// clampInt64 converts a JSON number to a non-negative int64. NaN and
// negative values become zero; values past the int64 range saturate.
func clampInt64(v float64) int64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(v)
	}
}
