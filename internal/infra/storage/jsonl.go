package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	config "github.com/kode-sdk/kode-chat/config"
)

const jsonlFormatVersion = 2

const (
	lineTypeMetadata = "metadata"
	lineTypeEntry    = "entry"
	lineTypeToolCall = "tool_call"
)

// JsonlStorage implements TranscriptStorage with one JSONL file per conversation.
// The first line carries the metadata, followed by one line per entry and tool call.
type JsonlStorage struct {
	basePath string
	mu       sync.RWMutex
}

// MetadataLine is the first line of a transcript file
type MetadataLine struct {
	Version  int                `json:"v"`
	Type     string             `json:"type"`
	Metadata TranscriptMetadata `json:"metadata"`
}

// EntryLine holds a single transcript entry
type EntryLine struct {
	Type  string           `json:"type"`
	Index int              `json:"index"`
	Entry domain.ChatEntry `json:"entry"`
}

// ToolCallLine holds a single tool-call audit record
type ToolCallLine struct {
	Type     string                `json:"type"`
	Index    int                   `json:"index"`
	ToolCall domain.ToolCallRecord `json:"tool_call"`
}

// NewJsonlStorage creates a new JSONL storage instance
func NewJsonlStorage(cfg config.JsonlStorageConfig) (*JsonlStorage, error) {
	path := expandHome(cfg.Path)
	if path == "" {
		path = config.ConversationsDir
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return nil, fmt.Errorf("conversations directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	return &JsonlStorage{basePath: path}, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func (s *JsonlStorage) transcriptFilePath(conversationID string) string {
	return filepath.Join(s.basePath, conversationID+".jsonl")
}

func validConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("transcript id is required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid transcript id: %q", id)
	}
	return nil
}

// SaveTranscript rewrites the transcript file atomically
func (s *JsonlStorage) SaveTranscript(ctx context.Context, transcript Transcript) error {
	if err := validConversationID(transcript.Metadata.ID); err != nil {
		return err
	}
	transcript.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.transcriptFilePath(transcript.Metadata.ID)
	if existing, err := readMetadataLine(filePath); err == nil {
		transcript.Metadata.CreatedAt = existing.CreatedAt
	}

	tmpPath := filePath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create transcript file: %w", err)
	}

	if err := writeTranscriptLines(file, transcript); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close transcript file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace transcript file: %w", err)
	}
	return nil
}

func writeTranscriptLines(file *os.File, transcript Transcript) error {
	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)

	if err := encoder.Encode(MetadataLine{
		Version:  jsonlFormatVersion,
		Type:     lineTypeMetadata,
		Metadata: transcript.Metadata,
	}); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	for i, entry := range transcript.Entries {
		if err := encoder.Encode(EntryLine{Type: lineTypeEntry, Index: i, Entry: entry}); err != nil {
			return fmt.Errorf("failed to write entry %d: %w", i, err)
		}
	}

	for i, record := range transcript.ToolCalls {
		if err := encoder.Encode(ToolCallLine{Type: lineTypeToolCall, Index: i, ToolCall: record}); err != nil {
			return fmt.Errorf("failed to write tool call %d: %w", i, err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush transcript file: %w", err)
	}
	return nil
}

func newLineScanner(file *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner
}

func readMetadataLine(filePath string) (TranscriptMetadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return TranscriptMetadata{}, err
	}
	defer func() { _ = file.Close() }()

	scanner := newLineScanner(file)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return TranscriptMetadata{}, err
		}
		return TranscriptMetadata{}, fmt.Errorf("empty transcript file: %s", filePath)
	}

	var line MetadataLine
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		return TranscriptMetadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if line.Type != lineTypeMetadata {
		return TranscriptMetadata{}, fmt.Errorf("unexpected first line type %q", line.Type)
	}
	return line.Metadata, nil
}

// LoadTranscript loads a transcript from its JSONL file
func (s *JsonlStorage) LoadTranscript(ctx context.Context, conversationID string) (Transcript, error) {
	if err := validConversationID(conversationID); err != nil {
		return Transcript{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.transcriptFilePath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return Transcript{}, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer func() { _ = file.Close() }()

	transcript := Transcript{
		Entries:   []domain.ChatEntry{},
		ToolCalls: []domain.ToolCallRecord{},
	}
	sawMetadata := false

	scanner := newLineScanner(file)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return Transcript{}, fmt.Errorf("failed to parse transcript line: %w", err)
		}

		switch probe.Type {
		case lineTypeMetadata:
			var line MetadataLine
			if err := json.Unmarshal(raw, &line); err != nil {
				return Transcript{}, fmt.Errorf("failed to parse metadata: %w", err)
			}
			transcript.Metadata = line.Metadata
			sawMetadata = true
		case lineTypeEntry:
			var line EntryLine
			if err := json.Unmarshal(raw, &line); err != nil {
				return Transcript{}, fmt.Errorf("failed to parse entry: %w", err)
			}
			transcript.Entries = append(transcript.Entries, line.Entry)
		case lineTypeToolCall:
			var line ToolCallLine
			if err := json.Unmarshal(raw, &line); err != nil {
				return Transcript{}, fmt.Errorf("failed to parse tool call: %w", err)
			}
			transcript.ToolCalls = append(transcript.ToolCalls, line.ToolCall)
		}
	}
	if err := scanner.Err(); err != nil {
		return Transcript{}, fmt.Errorf("failed to read transcript file: %w", err)
	}
	if !sawMetadata {
		return Transcript{}, fmt.Errorf("transcript %s has no metadata line", conversationID)
	}

	return transcript, nil
}

// ListTranscripts reads the metadata line of every transcript file
func (s *JsonlStorage) ListTranscripts(ctx context.Context, limit, offset int) ([]TranscriptMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(s.basePath, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript files: %w", err)
	}

	list := make([]TranscriptMetadata, 0, len(files))
	for _, path := range files {
		metadata, err := readMetadataLine(path)
		if err != nil {
			continue
		}
		list = append(list, metadata)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return paginate(list, limit, offset), nil
}

// DeleteTranscript removes a transcript file
func (s *JsonlStorage) DeleteTranscript(ctx context.Context, conversationID string) error {
	if err := validConversationID(conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.transcriptFilePath(conversationID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return fmt.Errorf("failed to delete transcript file: %w", err)
	}
	return nil
}

// Close is a no-op for file storage
func (s *JsonlStorage) Close() error {
	return nil
}

// Health checks that the base directory is still writable
func (s *JsonlStorage) Health(ctx context.Context) error {
	testFile := filepath.Join(s.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("conversations directory not writable: %w", err)
	}
	_ = os.Remove(testFile)
	return nil
}
