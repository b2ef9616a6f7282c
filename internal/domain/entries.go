package domain

import "time"

// EntryKind discriminates the ChatEntry union
type EntryKind string

const (
	EntryKindText     EntryKind = "text"
	EntryKindThinking EntryKind = "thinking"
	EntryKindTool     EntryKind = "tool"
	EntryKindEvent    EntryKind = "event"
)

// Role identifies the author of a text entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolStatus is the render-side status of a tool entry. It only moves forward:
// running -> completed | error.
type ToolStatus string

const (
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// IsTerminal reports whether the status can no longer change
func (s ToolStatus) IsTerminal() bool {
	return s == ToolStatusCompleted || s == ToolStatusError
}

// ChatEntry is one row of the transcript. The Kind field selects which of the
// remaining fields are meaningful:
//
//	text:     Role, Content, Streaming, Failed
//	thinking: Content, Streaming, Collapsed
//	tool:     Name, Status, Input, Result, DurationMs
//	event:    Title, Details
type ChatEntry struct {
	ID   string    `json:"id"`
	Kind EntryKind `json:"kind"`

	Role      Role   `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`

	Name       string     `json:"name,omitempty"`
	Status     ToolStatus `json:"status,omitempty"`
	Input      string     `json:"input,omitempty"`
	Result     string     `json:"result,omitempty"`
	DurationMs *int64     `json:"durationMs,omitempty"`

	Title   string `json:"title,omitempty"`
	Details string `json:"details,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// NewTextEntry builds a text entry
func NewTextEntry(id string, role Role, content string, streaming bool) ChatEntry {
	return ChatEntry{
		ID:        id,
		Kind:      EntryKindText,
		Role:      role,
		Content:   content,
		Streaming: streaming,
		CreatedAt: time.Now(),
	}
}

// NewThinkingEntry builds a streaming thinking entry
func NewThinkingEntry(id, content string) ChatEntry {
	return ChatEntry{
		ID:        id,
		Kind:      EntryKindThinking,
		Content:   content,
		Streaming: true,
		CreatedAt: time.Now(),
	}
}

// NewToolEntry builds a tool entry
func NewToolEntry(id, name string, status ToolStatus, input string) ChatEntry {
	return ChatEntry{
		ID:        id,
		Kind:      EntryKindTool,
		Name:      name,
		Status:    status,
		Input:     input,
		CreatedAt: time.Now(),
	}
}

// NewEventEntry builds an informational entry
func NewEventEntry(id, title, details string) ChatEntry {
	return ChatEntry{
		ID:        id,
		Kind:      EntryKindEvent,
		Title:     title,
		Details:   details,
		CreatedAt: time.Now(),
	}
}

// IsAssistantText reports whether the entry is assistant-authored text
func (e ChatEntry) IsAssistantText() bool {
	return e.Kind == EntryKindText && e.Role == RoleAssistant
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}
