package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/models"
	testdb "github.com/songyu-ren/xagent/test/database"
)

func TestTokenService(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := NewRunService(client)
	drafts := NewDraftService(client)
	tokens := NewTokenService(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, runs.CreateRun(ctx, "run-1", "test", now))
	draft, err := drafts.CreateDraft(ctx, fixtureDraftRequest("run-1", now))
	require.NoError(t, err)

	t.Run("bearer string never stored, only its hash", func(t *testing.T) {
		raw, err := tokens.IssueToken(ctx, draft.ID, models.TokenActionView, now.Add(time.Hour), now)
		require.NoError(t, err)

		var count int
		require.NoError(t, client.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM action_tokens WHERE token_hash = $1`, raw))
		assert.Zero(t, count)

		require.NoError(t, client.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM action_tokens WHERE token_hash = $1`, HashToken(raw)))
		assert.Equal(t, 1, count)
	})

	t.Run("resolve, expire, and consume", func(t *testing.T) {
		raw, err := tokens.IssueToken(ctx, draft.ID, models.TokenActionApprove, now.Add(time.Minute), now)
		require.NoError(t, err)

		d, token, status, err := tokens.Resolve(ctx, models.TokenActionApprove, raw, now)
		require.NoError(t, err)
		assert.Equal(t, ResolveOK, status)
		require.NotNil(t, d)
		assert.Equal(t, draft.ID, d.ID)
		assert.Equal(t, HashToken(raw), token.TokenHash)

		// Past TTL: expired, token row returned, nothing consumed.
		d2, token2, status2, err := tokens.Resolve(ctx, models.TokenActionApprove, raw, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, ResolveExpired, status2)
		assert.Nil(t, d2)
		require.NotNil(t, token2)
		assert.False(t, token2.ConsumedAt.Valid)

		// Consume, then a second resolution observes it.
		require.NoError(t, tokens.Consume(ctx, token, now))
		d3, _, status3, err := tokens.Resolve(ctx, models.TokenActionApprove, raw, now)
		require.NoError(t, err)
		assert.Equal(t, ResolveConsumed, status3)
		assert.Nil(t, d3)
	})

	t.Run("multi-use tokens survive consumption", func(t *testing.T) {
		raw, err := tokens.IssueToken(ctx, draft.ID, models.TokenActionEdit, now.Add(time.Hour), now)
		require.NoError(t, err)

		_, token, status, err := tokens.Resolve(ctx, models.TokenActionEdit, raw, now)
		require.NoError(t, err)
		require.Equal(t, ResolveOK, status)

		require.NoError(t, tokens.Consume(ctx, token, now))
		_, _, status2, err := tokens.Resolve(ctx, models.TokenActionEdit, raw, now)
		require.NoError(t, err)
		assert.Equal(t, ResolveOK, status2)
	})

	t.Run("wrong action does not resolve", func(t *testing.T) {
		raw, err := tokens.IssueToken(ctx, draft.ID, models.TokenActionSkip, now.Add(time.Hour), now)
		require.NoError(t, err)
		_, _, status, err := tokens.Resolve(ctx, models.TokenActionApprove, raw, now)
		require.NoError(t, err)
		assert.Equal(t, ResolveNotFound, status)
	})

	t.Run("unknown action rejected at issuance", func(t *testing.T) {
		_, err := tokens.IssueToken(ctx, draft.ID, "publish", now.Add(time.Hour), now)
		assert.True(t, IsValidationError(err))
	})

	t.Run("issue full verb set", func(t *testing.T) {
		issued, err := tokens.IssueDraftTokens(ctx, draft.ID, now.Add(time.Hour), now)
		require.NoError(t, err)
		assert.Len(t, issued, 5)
		for action, raw := range issued {
			assert.NotEmpty(t, raw, action)
		}
	})

	t.Run("expired purge", func(t *testing.T) {
		n, err := tokens.DeleteExpired(ctx, now.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Greater(t, n, int64(0))
	})
}

func TestPostService_Idempotency(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := NewRunService(client)
	drafts := NewDraftService(client)
	posts := NewPostService(client)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, runs.CreateRun(ctx, "run-1", "test", now))
	draft, err := drafts.CreateDraft(ctx, fixtureDraftRequest("run-1", now))
	require.NoError(t, err)

	t.Run("duplicate position insert is a no-op", func(t *testing.T) {
		require.NoError(t, posts.InsertPostIdempotent(ctx, draft.ID, 1, "tw-1", "tweet one", now))
		require.NoError(t, posts.InsertPostIdempotent(ctx, draft.ID, 1, "tw-other", "tweet one again", now))

		existing, err := posts.ExistingThreadPosts(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, map[int]string{1: "tw-1"}, existing)
	})

	t.Run("positions are ordered", func(t *testing.T) {
		require.NoError(t, posts.InsertPostIdempotent(ctx, draft.ID, 2, "tw-2", "tweet two", now))
		records, err := posts.PostsForDraft(ctx, draft.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, PublishIdempotencyKey(draft.ID, 1), records[0].IdempotencyKey)
		assert.Equal(t, PublishIdempotencyKey(draft.ID, 2), records[1].IdempotencyKey)
	})

	t.Run("recent posts window", func(t *testing.T) {
		recent, err := posts.RecentPosts(ctx, 14, 10)
		require.NoError(t, err)
		assert.Contains(t, recent, "tweet one")
	})
}
