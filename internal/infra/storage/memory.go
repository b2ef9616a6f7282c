package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage implements TranscriptStorage in process memory
type MemoryStorage struct {
	transcripts map[string]Transcript
	mutex       sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		transcripts: make(map[string]Transcript),
	}
}

func cloneTranscript(t Transcript) Transcript {
	out := t
	out.Entries = append(out.Entries[:0:0], t.Entries...)
	out.ToolCalls = append(out.ToolCalls[:0:0], t.ToolCalls...)
	if t.Metadata.Bookmark != nil {
		b := *t.Metadata.Bookmark
		out.Metadata.Bookmark = &b
	}
	return out
}

// SaveTranscript stores a copy of the transcript
func (m *MemoryStorage) SaveTranscript(ctx context.Context, transcript Transcript) error {
	if transcript.Metadata.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	transcript.normalize()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if existing, ok := m.transcripts[transcript.Metadata.ID]; ok {
		transcript.Metadata.CreatedAt = existing.Metadata.CreatedAt
	}
	m.transcripts[transcript.Metadata.ID] = cloneTranscript(transcript)
	return nil
}

// LoadTranscript loads a transcript by its ID
func (m *MemoryStorage) LoadTranscript(ctx context.Context, conversationID string) (Transcript, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	t, ok := m.transcripts[conversationID]
	if !ok {
		return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return cloneTranscript(t), nil
}

// ListTranscripts returns metadata ordered by most recently updated
func (m *MemoryStorage) ListTranscripts(ctx context.Context, limit, offset int) ([]TranscriptMetadata, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	list := make([]TranscriptMetadata, 0, len(m.transcripts))
	for _, t := range m.transcripts {
		list = append(list, t.Metadata)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return paginate(list, limit, offset), nil
}

// DeleteTranscript removes a transcript by its ID
func (m *MemoryStorage) DeleteTranscript(ctx context.Context, conversationID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.transcripts[conversationID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	delete(m.transcripts, conversationID)
	return nil
}

// Close clears the stored transcripts
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.transcripts = make(map[string]Transcript)
	return nil
}

// Health always succeeds for in-memory storage
func (m *MemoryStorage) Health(ctx context.Context) error {
	return nil
}
