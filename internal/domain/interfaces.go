package domain

import "context"

// ExportFormat defines the format for exporting transcripts
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "markdown"
	ExportJSON     ExportFormat = "json"
	ExportYAML     ExportFormat = "yaml"
)

// ConversationAPI is the outbound REST surface of the conversation backend
type ConversationAPI interface {
	CreateConversation(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, conversationID, content string) error
	FetchHistory(ctx context.Context, conversationID string) ([]ChatEntry, error)
	Interrupt(ctx context.Context, conversationID string) error
	EventsURL(conversationID string) string
}

// SessionSummary describes a backend session as listed by /sessions
type SessionSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AgentID       string `json:"agentId,omitempty"`
	Description   string `json:"description,omitempty"`
	MessagesCount int    `json:"messagesCount"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
	UserID        string `json:"userId,omitempty"`
}

// ConversationListener receives an immutable snapshot after each mutation
type ConversationListener func(snapshot Conversation)
