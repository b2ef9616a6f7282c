package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	config "github.com/kode-sdk/kode-chat/config"
	client "github.com/kode-sdk/kode-chat/internal/client"
	demo "github.com/kode-sdk/kode-chat/internal/demo"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	storage "github.com/kode-sdk/kode-chat/internal/infra/storage"
	reconciler "github.com/kode-sdk/kode-chat/internal/reconciler"
	transport "github.com/kode-sdk/kode-chat/internal/transport"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func newDemoSession(t *testing.T, opts demo.Options) (*ChatSession, *storage.MemoryStorage) {
	t.Helper()

	opts.APIPrefix = "/api"
	srv := demo.NewServer(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	cfg := config.DefaultConfig()
	cfg.Backend.URL = ts.URL
	factory, err := transport.NewFactory(cfg)
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	rec := reconciler.New(client.NewFromConfig(cfg), factory, reconciler.Options{})
	session := NewChatSession(rec, store, cfg.APIBaseURL())
	t.Cleanup(func() { _ = session.Close(context.Background()) })
	return session, store
}

func TestChatSession_ArchivesOnCompletion(t *testing.T) {
	session, store := newDemoSession(t, demo.Options{ChunkDelay: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, session.Start(ctx, ""))
	require.NoError(t, session.WaitReady(ctx))
	require.NoError(t, session.Submit(ctx, "archive me"))

	snap, err := session.WaitForTurn(ctx)
	require.NoError(t, err)
	assert.True(t, snap.HasCompleted)

	require.Eventually(t, func() bool {
		_, err := store.LoadTranscript(ctx, snap.ID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	transcript, err := store.LoadTranscript(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "archive me", transcript.Metadata.Title)
	assert.True(t, transcript.Metadata.Completed)
	assert.NotEmpty(t, transcript.ToolCalls)
}

func TestChatSession_RestartStartsNewConversation(t *testing.T) {
	session, store := newDemoSession(t, demo.Options{ChunkDelay: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, session.Start(ctx, ""))
	require.NoError(t, session.WaitReady(ctx))
	require.NoError(t, session.Submit(ctx, "first"))
	first, err := session.WaitForTurn(ctx)
	require.NoError(t, err)

	require.NoError(t, session.Restart(ctx))
	second := session.Snapshot()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, second.Entries)

	_, err = store.LoadTranscript(ctx, first.ID)
	assert.NoError(t, err)
}

func TestChatSession_CloseArchivesPartialTranscript(t *testing.T) {
	session, store := newDemoSession(t, demo.Options{ChunkDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, session.Start(ctx, ""))
	require.NoError(t, session.WaitReady(ctx))
	require.NoError(t, session.Submit(ctx, "unfinished"))
	id := session.Snapshot().ID

	require.NoError(t, session.Close(ctx))
	require.NoError(t, session.Close(ctx))

	transcript, err := store.LoadTranscript(ctx, id)
	require.NoError(t, err)
	assert.False(t, transcript.Metadata.Completed)
	require.NotEmpty(t, transcript.Entries)
	assert.Equal(t, "unfinished", transcript.Entries[0].Content)
	assert.Equal(t, domain.ReadyStateClosed, session.Snapshot().ReadyState)
}

func TestChatSession_WaitForTurnHonorsContext(t *testing.T) {
	session, _ := newDemoSession(t, demo.Options{ChunkDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, session.Start(ctx, ""))
	require.NoError(t, session.WaitReady(ctx))
	require.NoError(t, session.Submit(ctx, "slow"))

	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err := session.WaitForTurn(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChatSession_ArchiveWithoutStore(t *testing.T) {
	rec := reconciler.New(nil, nil, reconciler.Options{})
	session := NewChatSession(rec, nil, "")
	assert.NoError(t, session.Archive(context.Background()))
	assert.NoError(t, session.Close(context.Background()))
}
