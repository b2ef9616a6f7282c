package demo

import (
	"fmt"
	"strings"
	"unicode/utf8"

	uuid "github.com/google/uuid"
)

// Step is one scripted stream event. Pause is measured in chunk delays
// before the event is published.
type Step struct {
	Pause int
	Name  string
	Event map[string]any
}

// Script turns a user message into the events of one agent turn
type Script func(message string) []Step

// DefaultScript thinks briefly, echoes the message back, runs an echo tool
// and reports token usage before finishing the turn
func DefaultScript(message string) []Step {
	callID := "call-" + uuid.NewString()[:8]

	steps := []Step{
		{Pause: 1, Name: "think_chunk_start", Event: map[string]any{}},
		{Pause: 1, Name: "think_chunk", Event: map[string]any{"delta": "Reading the message"}},
		{Pause: 1, Name: "think_chunk", Event: map[string]any{"delta": " and planning a reply..."}},
		{Pause: 1, Name: "think_chunk_end", Event: map[string]any{}},
		{Pause: 2, Name: "text_chunk", Event: map[string]any{"delta": "Hello! I received your message: "}},
	}

	for _, chunk := range splitChunks(message, 24) {
		steps = append(steps, Step{Pause: 1, Name: "text_chunk", Event: map[string]any{"delta": chunk}})
	}

	steps = append(steps,
		Step{Pause: 1, Name: "text_chunk", Event: map[string]any{"delta": ". This is a scripted reply from the demo backend."}},
		Step{Pause: 1, Name: "text_chunk_end", Event: map[string]any{}},
		Step{Pause: 2, Name: "tool:start", Event: map[string]any{
			"call": map[string]any{
				"id":    callID,
				"name":  "echo",
				"input": map[string]any{"message": message},
				"state": "EXECUTING",
			},
		}},
		Step{Pause: 3, Name: "tool:end", Event: map[string]any{
			"call": map[string]any{
				"id":         callID,
				"name":       "echo",
				"output":     map[string]any{"echo": message},
				"durationMs": 100,
				"state":      "COMPLETED",
			},
		}},
		Step{Pause: 1, Name: "token_usage", Event: map[string]any{
			"inputTokens":  estimateTokens(message),
			"outputTokens": estimateTokens(message) + 24,
		}},
		Step{Pause: 1, Name: "done", Event: map[string]any{}},
	)

	return steps
}

// splitChunks cuts s into pieces of at most size runes
func splitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(s) <= size {
		return []string{s}
	}

	var chunks []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// estimateTokens approximates tokens at four characters per token
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// ErrorScript reports a stream error and ends the turn
func ErrorScript(message string) Script {
	return func(string) []Step {
		return []Step{
			{Pause: 1, Name: "error", Event: map[string]any{"message": message}},
			{Pause: 1, Name: "done", Event: map[string]any{}},
		}
	}
}

func describeStep(s Step) string {
	return fmt.Sprintf("%s(%d)", s.Name, s.Pause)
}
