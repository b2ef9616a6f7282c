package domain

import (
	"strings"
	"time"
)

// Bookmark is the backend's position marker for a stream event
type Bookmark struct {
	Seq       int64 `json:"seq"`
	Timestamp int64 `json:"timestamp"`
}

// TokenUsage accumulates token_usage notices for a conversation
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Conversation is the aggregate owned by a single reconciler for the lifetime
// of one open stream. Entries are in insertion order and never reordered.
type Conversation struct {
	ID      string      `json:"conversation_id"`
	Entries []ChatEntry `json:"entries"`

	// PendingAssistantEntryID routes text deltas; it is a lookup key only.
	PendingAssistantEntryID string `json:"pending_assistant_entry_id,omitempty"`
	PendingThinkingEntryID  string `json:"pending_thinking_entry_id,omitempty"`

	// ToolIndex maps a tool-call id to the tool entry id that renders it.
	ToolIndex map[string]string `json:"tool_index"`
	ToolCalls []ToolCallRecord  `json:"tool_calls"`

	HasCompleted bool       `json:"has_completed"`
	LastBookmark *Bookmark  `json:"last_bookmark,omitempty"`
	Usage        TokenUsage `json:"usage"`

	ReadyState ReadyState `json:"ready_state"`
	LastError  error      `json:"-"`

	// Version increases on every mutation so consumers can drop stale snapshots.
	Version   uint64    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// NewConversation returns an empty conversation bound to id
func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:         id,
		Entries:    []ChatEntry{},
		ToolIndex:  make(map[string]string),
		ToolCalls:  []ToolCallRecord{},
		ReadyState: ReadyStateClosed,
		StartedAt:  time.Now(),
	}
}

// EntryIndex returns the position of the entry with the given id, or -1
func (c *Conversation) EntryIndex(id string) int {
	if id == "" {
		return -1
	}
	for i := len(c.Entries) - 1; i >= 0; i-- {
		if c.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

// ToolCall returns the audit record for the given tool entry id
func (c *Conversation) ToolCall(entryID string) (*ToolCallRecord, bool) {
	for i := range c.ToolCalls {
		if c.ToolCalls[i].ID == entryID {
			return &c.ToolCalls[i], true
		}
	}
	return nil, false
}

// IsStreaming reports whether any text or thinking entry is still open
func (c *Conversation) IsStreaming() bool {
	return c.PendingAssistantEntryID != "" || c.PendingThinkingEntryID != ""
}

// LastAssistantText returns the content of the most recent assistant text entry
func (c *Conversation) LastAssistantText() (string, bool) {
	for i := len(c.Entries) - 1; i >= 0; i-- {
		if c.Entries[i].IsAssistantText() {
			return c.Entries[i].Content, true
		}
	}
	return "", false
}

// Clone returns a deep copy suitable for handing to renderers
func (c *Conversation) Clone() Conversation {
	out := *c

	out.Entries = make([]ChatEntry, len(c.Entries))
	copy(out.Entries, c.Entries)

	out.ToolIndex = make(map[string]string, len(c.ToolIndex))
	for k, v := range c.ToolIndex {
		out.ToolIndex[k] = v
	}

	out.ToolCalls = make([]ToolCallRecord, len(c.ToolCalls))
	copy(out.ToolCalls, c.ToolCalls)

	if c.LastBookmark != nil {
		b := *c.LastBookmark
		out.LastBookmark = &b
	}

	return out
}

// Title derives a short display title from the first user message
func (c *Conversation) Title() string {
	for _, entry := range c.Entries {
		if entry.Kind == EntryKindText && entry.Role == RoleUser {
			return CreateTitleFromMessage(entry.Content)
		}
	}
	return "New Conversation"
}

// CreateTitleFromMessage creates a short title from message content
func CreateTitleFromMessage(content string) string {
	words := strings.Fields(strings.TrimSpace(content))
	if len(words) == 0 {
		return "New Conversation"
	}

	maxWords := 10
	if len(words) < maxWords {
		maxWords = len(words)
	}

	title := []rune(strings.Join(words[:maxWords], " "))
	if len(title) > 80 {
		title = append(title[:77], []rune("...")...)
	}

	return string(title)
}
