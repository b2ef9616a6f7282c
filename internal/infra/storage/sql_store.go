package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	migrations "github.com/kode-sdk/kode-chat/internal/infra/storage/migrations"
)

// sqlStore holds the transcript queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound for the dialect.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != migrations.DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	available, err := migrations.ForDialect(s.dialect)
	if err != nil {
		return err
	}
	runner := migrations.NewMigrationRunner(s.db, s.dialect)
	if _, err := runner.ApplyMigrations(ctx, available); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// timestampLayout is fixed width so SQLite orders text timestamps correctly
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", value); err == nil {
		return t
	}
	return time.Time{}
}

func (s *sqlStore) SaveTranscript(ctx context.Context, transcript Transcript) error {
	if transcript.Metadata.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	transcript.normalize()

	entriesJSON, err := json.Marshal(transcript.Entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}
	toolCallsJSON, err := json.Marshal(transcript.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}

	var bookmark sql.NullString
	if transcript.Metadata.Bookmark != nil {
		data, err := json.Marshal(transcript.Metadata.Bookmark)
		if err != nil {
			return fmt.Errorf("failed to marshal bookmark: %w", err)
		}
		bookmark = sql.NullString{String: string(data), Valid: true}
	}

	m := transcript.Metadata
	query := s.rebind(`
		INSERT INTO transcripts (id, title, entries, tool_calls, entry_count, tool_call_count,
		                         input_tokens, output_tokens, bookmark, completed, backend_url,
		                         created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			entries = excluded.entries,
			tool_calls = excluded.tool_calls,
			entry_count = excluded.entry_count,
			tool_call_count = excluded.tool_call_count,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			bookmark = excluded.bookmark,
			completed = excluded.completed,
			backend_url = excluded.backend_url,
			updated_at = excluded.updated_at
	`)

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Title, string(entriesJSON), string(toolCallsJSON), m.EntryCount, m.ToolCallCount,
		m.Usage.InputTokens, m.Usage.OutputTokens, bookmark, m.Completed, m.BackendURL,
		formatTimestamp(m.CreatedAt), formatTimestamp(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const metadataColumns = `id, title, entry_count, tool_call_count, input_tokens, output_tokens,
	bookmark, completed, backend_url, created_at, updated_at`

func scanMetadata(row rowScanner, extra ...any) (TranscriptMetadata, error) {
	var m TranscriptMetadata
	var bookmark sql.NullString
	var createdAt, updatedAt string

	dest := []any{
		&m.ID, &m.Title, &m.EntryCount, &m.ToolCallCount, &m.Usage.InputTokens, &m.Usage.OutputTokens,
		&bookmark, &m.Completed, &m.BackendURL, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return m, err
	}

	m.CreatedAt = parseTimestamp(createdAt)
	m.UpdatedAt = parseTimestamp(updatedAt)
	if bookmark.Valid && bookmark.String != "" {
		var b domain.Bookmark
		if err := json.Unmarshal([]byte(bookmark.String), &b); err == nil {
			m.Bookmark = &b
		}
	}
	return m, nil
}

func (s *sqlStore) LoadTranscript(ctx context.Context, conversationID string) (Transcript, error) {
	var entriesJSON, toolCallsJSON string

	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+metadataColumns+", entries, tool_calls FROM transcripts WHERE id = ?"),
		conversationID)

	metadata, err := scanMetadata(row, &entriesJSON, &toolCallsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return Transcript{}, fmt.Errorf("failed to load transcript: %w", err)
	}

	transcript := Transcript{Metadata: metadata}
	if err := json.Unmarshal([]byte(entriesJSON), &transcript.Entries); err != nil {
		return Transcript{}, fmt.Errorf("failed to unmarshal entries: %w", err)
	}
	if toolCallsJSON != "" {
		if err := json.Unmarshal([]byte(toolCallsJSON), &transcript.ToolCalls); err != nil {
			return Transcript{}, fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
	}
	if transcript.Entries == nil {
		transcript.Entries = []domain.ChatEntry{}
	}
	if transcript.ToolCalls == nil {
		transcript.ToolCalls = []domain.ToolCallRecord{}
	}
	return transcript, nil
}

func (s *sqlStore) ListTranscripts(ctx context.Context, limit, offset int) ([]TranscriptMetadata, error) {
	// SQLite treats a negative limit as unbounded; PostgreSQL uses LIMIT NULL.
	var limitArg any = limit
	if limit <= 0 {
		limitArg = -1
		if s.dialect == migrations.DialectPostgres {
			limitArg = nil
		}
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+metadataColumns+" FROM transcripts ORDER BY updated_at DESC LIMIT ? OFFSET ?"),
		limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []TranscriptMetadata{}
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (s *sqlStore) DeleteTranscript(ctx context.Context, conversationID string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM transcripts WHERE id = ?"), conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// MigrationStatus reports the schema migrations known for this backend
func (s *sqlStore) MigrationStatus(ctx context.Context) ([]migrations.MigrationStatus, error) {
	available, err := migrations.ForDialect(s.dialect)
	if err != nil {
		return nil, err
	}
	return migrations.NewMigrationRunner(s.db, s.dialect).GetMigrationStatus(ctx, available)
}
