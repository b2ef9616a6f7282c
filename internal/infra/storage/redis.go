package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
	config "github.com/kode-sdk/kode-chat/config"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
)

const redisIndexKey = "transcripts:index"

// RedisStorage implements TranscriptStorage using Redis. Metadata and the
// entry payload live under separate keys; a sorted set orders transcripts by
// update time.
type RedisStorage struct {
	client redis.UniversalClient
	ttl    time.Duration
}

type redisPayload struct {
	Entries   []domain.ChatEntry      `json:"entries"`
	ToolCalls []domain.ToolCallRecord `json:"tool_calls"`
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(cfg config.RedisStorageConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageWithClient(client, time.Duration(cfg.TTL)*time.Second), nil
}

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStorage {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStorage{client: client, ttl: ttl}
}

func transcriptKey(conversationID string) string {
	return fmt.Sprintf("transcript:%s", conversationID)
}

func transcriptEntriesKey(conversationID string) string {
	return fmt.Sprintf("transcript:%s:entries", conversationID)
}

// SaveTranscript writes metadata, payload and index in one pipeline
func (s *RedisStorage) SaveTranscript(ctx context.Context, transcript Transcript) error {
	if transcript.Metadata.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	transcript.normalize()

	id := transcript.Metadata.ID
	if existing, err := s.loadMetadata(ctx, id); err == nil {
		transcript.Metadata.CreatedAt = existing.CreatedAt
	}

	metadataJSON, err := json.Marshal(transcript.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	payloadJSON, err := json.Marshal(redisPayload{
		Entries:   transcript.Entries,
		ToolCalls: transcript.ToolCalls,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, transcriptKey(id), metadataJSON, s.ttl)
	pipe.Set(ctx, transcriptEntriesKey(id), payloadJSON, s.ttl)
	pipe.ZAdd(ctx, redisIndexKey, &redis.Z{
		Score:  float64(transcript.Metadata.UpdatedAt.UnixNano()),
		Member: id,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

func (s *RedisStorage) loadMetadata(ctx context.Context, conversationID string) (TranscriptMetadata, error) {
	var metadata TranscriptMetadata

	raw, err := s.client.Get(ctx, transcriptKey(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return metadata, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return metadata, fmt.Errorf("failed to get metadata: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadTranscript loads a transcript by its ID
func (s *RedisStorage) LoadTranscript(ctx context.Context, conversationID string) (Transcript, error) {
	pipe := s.client.Pipeline()
	metadataCmd := pipe.Get(ctx, transcriptKey(conversationID))
	entriesCmd := pipe.Get(ctx, transcriptEntriesKey(conversationID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Transcript{}, fmt.Errorf("failed to load transcript: %w", err)
	}

	metadataJSON, err := metadataCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return Transcript{}, fmt.Errorf("failed to get metadata: %w", err)
	}

	transcript := Transcript{}
	if err := json.Unmarshal([]byte(metadataJSON), &transcript.Metadata); err != nil {
		return Transcript{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	var payload redisPayload
	payloadJSON, err := entriesCmd.Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Transcript{}, fmt.Errorf("failed to get entries: %w", err)
	default:
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return Transcript{}, fmt.Errorf("failed to unmarshal entries: %w", err)
		}
	}

	transcript.Entries = payload.Entries
	transcript.ToolCalls = payload.ToolCalls
	if transcript.Entries == nil {
		transcript.Entries = []domain.ChatEntry{}
	}
	if transcript.ToolCalls == nil {
		transcript.ToolCalls = []domain.ToolCallRecord{}
	}
	return transcript, nil
}

// ListTranscripts returns metadata ordered by most recently updated.
// Index members whose keys have expired are pruned.
func (s *RedisStorage) ListTranscripts(ctx context.Context, limit, offset int) ([]TranscriptMetadata, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, redisIndexKey, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript index: %w", err)
	}
	if len(ids) == 0 {
		return []TranscriptMetadata{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(ctx, transcriptKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load transcript metadata: %w", err)
	}

	list := make([]TranscriptMetadata, 0, len(ids))
	var expired []any
	for i, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				expired = append(expired, ids[i])
				continue
			}
			return nil, fmt.Errorf("failed to get metadata for transcript %s: %w", ids[i], err)
		}

		var metadata TranscriptMetadata
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for transcript %s: %w", ids[i], err)
		}
		list = append(list, metadata)
	}

	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, redisIndexKey, expired...).Err()
	}

	return list, nil
}

// DeleteTranscript removes all keys of a transcript
func (s *RedisStorage) DeleteTranscript(ctx context.Context, conversationID string) error {
	pipe := s.client.TxPipeline()
	delCmd := pipe.Del(ctx, transcriptKey(conversationID), transcriptEntriesKey(conversationID))
	pipe.ZRem(ctx, redisIndexKey, conversationID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if delCmd.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Health pings Redis
func (s *RedisStorage) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
