package storage

import (
	"context"
	"errors"
	"time"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
)

// ErrNotFound is returned when a transcript does not exist
var ErrNotFound = errors.New("transcript not found")

// TranscriptStorage archives conversation transcripts
type TranscriptStorage interface {
	// SaveTranscript creates or replaces the transcript with the same id
	SaveTranscript(ctx context.Context, transcript Transcript) error

	// LoadTranscript loads a transcript by conversation id
	LoadTranscript(ctx context.Context, conversationID string) (Transcript, error)

	// ListTranscripts returns metadata ordered by most recently updated
	ListTranscripts(ctx context.Context, limit, offset int) ([]TranscriptMetadata, error)

	// DeleteTranscript removes a transcript
	DeleteTranscript(ctx context.Context, conversationID string) error

	// Close closes the storage connection
	Close() error

	// Health checks if the storage is healthy and reachable
	Health(ctx context.Context) error
}

// TranscriptMetadata summarizes an archived conversation
type TranscriptMetadata struct {
	ID            string            `json:"id" yaml:"id"`
	Title         string            `json:"title" yaml:"title"`
	CreatedAt     time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" yaml:"updated_at"`
	EntryCount    int               `json:"entry_count" yaml:"entry_count"`
	ToolCallCount int               `json:"tool_call_count" yaml:"tool_call_count"`
	Usage         domain.TokenUsage `json:"usage" yaml:"usage"`
	Bookmark      *domain.Bookmark  `json:"bookmark,omitempty" yaml:"bookmark,omitempty"`
	Completed     bool              `json:"completed" yaml:"completed"`
	BackendURL    string            `json:"backend_url,omitempty" yaml:"backend_url,omitempty"`
}

// Transcript is the archived form of a conversation
type Transcript struct {
	Metadata  TranscriptMetadata      `json:"metadata" yaml:"metadata"`
	Entries   []domain.ChatEntry      `json:"entries" yaml:"entries"`
	ToolCalls []domain.ToolCallRecord `json:"tool_calls" yaml:"tool_calls"`
}

// FromConversation builds a transcript from a reconciler snapshot
func FromConversation(conv domain.Conversation, backendURL string) Transcript {
	entries := make([]domain.ChatEntry, len(conv.Entries))
	copy(entries, conv.Entries)
	toolCalls := make([]domain.ToolCallRecord, len(conv.ToolCalls))
	copy(toolCalls, conv.ToolCalls)

	var bookmark *domain.Bookmark
	if conv.LastBookmark != nil {
		b := *conv.LastBookmark
		bookmark = &b
	}

	now := time.Now()
	createdAt := conv.StartedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return Transcript{
		Metadata: TranscriptMetadata{
			ID:            conv.ID,
			Title:         conv.Title(),
			CreatedAt:     createdAt,
			UpdatedAt:     now,
			EntryCount:    len(entries),
			ToolCallCount: len(toolCalls),
			Usage:         conv.Usage,
			Bookmark:      bookmark,
			Completed:     conv.HasCompleted,
			BackendURL:    backendURL,
		},
		Entries:   entries,
		ToolCalls: toolCalls,
	}
}

// normalize fills derived metadata before a save
func (t *Transcript) normalize() {
	if t.Entries == nil {
		t.Entries = []domain.ChatEntry{}
	}
	if t.ToolCalls == nil {
		t.ToolCalls = []domain.ToolCallRecord{}
	}
	t.Metadata.EntryCount = len(t.Entries)
	t.Metadata.ToolCallCount = len(t.ToolCalls)
	if t.Metadata.UpdatedAt.IsZero() {
		t.Metadata.UpdatedAt = time.Now()
	}
	if t.Metadata.CreatedAt.IsZero() {
		t.Metadata.CreatedAt = t.Metadata.UpdatedAt
	}
	if t.Metadata.Title == "" {
		t.Metadata.Title = "New Conversation"
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
