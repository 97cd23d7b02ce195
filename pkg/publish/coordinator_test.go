package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/services"
	testdb "github.com/songyu-ren/xagent/test/database"
)

// fakeSocial records downstream calls and can be programmed to fail.
type fakeSocial struct {
	mu      sync.Mutex
	calls   []fakeCall
	next    int
	failAll bool
}

type fakeCall struct {
	Text      string
	InReplyTo string
}

func (f *fakeSocial) CreateTweet(_ context.Context, text, inReplyTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errors.New("downstream unavailable")
	}
	f.next++
	f.calls = append(f.calls, fakeCall{Text: text, InReplyTo: inReplyTo})
	return fmt.Sprintf("tw-%d", f.next), nil
}

func setupDraft(t *testing.T, client *database.Client, thread bool) (*services.DraftRecord, *services.TokenService) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	runs := services.NewRunService(client)
	drafts := services.NewDraftService(client)
	tokens := services.NewTokenService(client)

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	require.NoError(t, runs.CreateRun(ctx, runID, "test", now))

	edited := &models.EditedDraft{
		Mode:      models.ModeSingle,
		FinalText: "Fixed login redirect bug and shipped it.",
	}
	if thread {
		edited = &models.EditedDraft{
			Mode:        models.ModeThread,
			FinalTweets: []string{"tweet one (1/3)", "tweet two (2/3)", "tweet three (3/3)"},
			FinalText:   "tweet one (1/3)",
		}
	}
	draft, err := drafts.CreateDraft(ctx, services.CreateDraftRequest{
		RunID:        runID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		Materials:    &models.Materials{},
		TopicPlan:    &models.TopicPlan{TopicBucket: 1},
		StyleProfile: models.DefaultStyleProfile(),
		ThreadPlan:   models.ThreadPlan{Enabled: thread, TweetsCount: len(edited.TweetList())},
		Candidates:   &models.DraftCandidates{Candidates: []models.DraftCandidate{{Mode: edited.Mode}}},
		EditedDraft:  edited,
		PolicyReport: &models.PolicyReport{RiskLevel: models.RiskLow, Action: models.ActionPass},
	})
	require.NoError(t, err)
	_, err = tokens.IssueDraftTokens(ctx, draft.ID, draft.ExpiresAt, now)
	require.NoError(t, err)
	return draft, tokens
}

func attemptRows(t *testing.T, client *database.Client, draftID string) []services.PublishAttemptRecord {
	t.Helper()
	var rows []services.PublishAttemptRecord
	require.NoError(t, client.SelectContext(context.Background(), &rows,
		`SELECT * FROM publish_attempts WHERE draft_id = $1 ORDER BY attempt`, draftID))
	return rows
}

func TestCoordinator_DryRunSingle(t *testing.T) {
	client := testdb.NewTestClient(t)
	posts := services.NewPostService(client)
	drafts := services.NewDraftService(client)
	coordinator := NewCoordinator(client, posts, &fakeSocial{}, true)
	ctx := context.Background()

	draft, _ := setupDraft(t, client, false)

	result, err := coordinator.Publish(ctx, draft, []string{draft.FinalText})
	require.NoError(t, err)
	require.Len(t, result.TweetIDs, 1)
	assert.Equal(t, DryRunTweetID(draft.ID, 1), result.TweetIDs[0])

	reloaded, err := drafts.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusDryRunPosted, reloaded.Status)
	assert.True(t, reloaded.TokenConsumed)
	assert.True(t, reloaded.ConsumedAt.Valid)
	assert.Equal(t, result.TweetIDs, reloaded.PublishedTweetIDs())
	require.True(t, reloaded.ApprovalKey.Valid)
	assert.Equal(t, ApprovalIdempotencyKey(draft.ID), reloaded.ApprovalKey.String)

	records, err := posts.PostsForDraft(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, services.PublishIdempotencyKey(draft.ID, 1), records[0].IdempotencyKey)

	rows := attemptRows(t, client, draft.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AttemptStatusCompleted, rows[0].Status)

	// Second publish observes the completed attempt: idempotent success.
	_, err = coordinator.Publish(ctx, reloaded, []string{draft.FinalText})
	assert.ErrorIs(t, err, services.ErrAlreadyExists)
}

func TestCoordinator_ThreadOrderAndReplyChain(t *testing.T) {
	client := testdb.NewTestClient(t)
	posts := services.NewPostService(client)
	social := &fakeSocial{}
	coordinator := NewCoordinator(client, posts, social, false)
	ctx := context.Background()

	draft, _ := setupDraft(t, client, true)
	tweets := []string{"tweet one (1/3)", "tweet two (2/3)", "tweet three (3/3)"}

	result, err := coordinator.Publish(ctx, draft, tweets)
	require.NoError(t, err)
	assert.Equal(t, []string{"tw-1", "tw-2", "tw-3"}, result.TweetIDs)

	require.Len(t, social.calls, 3)
	assert.Empty(t, social.calls[0].InReplyTo)
	assert.Equal(t, "tw-1", social.calls[1].InReplyTo)
	assert.Equal(t, "tw-2", social.calls[2].InReplyTo)

	records, err := posts.PostsForDraft(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Position)
		assert.Equal(t, tweets[i], rec.Content)
	}
}

func TestCoordinator_ResumeAfterCrash(t *testing.T) {
	client := testdb.NewTestClient(t)
	posts := services.NewPostService(client)
	social := &fakeSocial{}
	coordinator := NewCoordinator(client, posts, social, false)
	ctx := context.Background()

	draft, _ := setupDraft(t, client, true)
	tweets := []string{"tweet one (1/3)", "tweet two (2/3)", "tweet three (3/3)"}

	// Simulate a crash: lease held, first tweet published, then the worker
	// dies before positions 2 and 3.
	_, err := coordinator.acquireLease(ctx, draft, 1)
	require.NoError(t, err)
	require.NoError(t, posts.InsertPostIdempotent(ctx, draft.ID, 1, "tw-pre", tweets[0], time.Now().UTC()))

	result, err := coordinator.Resume(ctx, draft, tweets)
	require.NoError(t, err)
	assert.Equal(t, []string{"tw-pre", "tw-1", "tw-2"}, result.TweetIDs)

	// Position 1 was reused, not re-posted; position 2 chains off it.
	require.Len(t, social.calls, 2)
	assert.Equal(t, "tw-pre", social.calls[0].InReplyTo)

	rows := attemptRows(t, client, draft.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AttemptStatusCompleted, rows[0].Status)
}

func TestCoordinator_FailureThenResume(t *testing.T) {
	client := testdb.NewTestClient(t)
	posts := services.NewPostService(client)
	social := &fakeSocial{failAll: true}
	coordinator := NewCoordinator(client, posts, social, false)
	drafts := services.NewDraftService(client)
	ctx := context.Background()

	draft, _ := setupDraft(t, client, false)

	_, err := coordinator.Publish(ctx, draft, []string{draft.FinalText})
	require.Error(t, err)

	reloaded, err := drafts.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusError, reloaded.Status)
	assert.True(t, reloaded.LastError.Valid)

	rows := attemptRows(t, client, draft.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AttemptStatusFailed, rows[0].Status)

	// A direct retry is refused; resume opens attempt 2.
	_, err = coordinator.Publish(ctx, reloaded, []string{draft.FinalText})
	assert.ErrorIs(t, err, services.ErrPreviousAttemptFailed)

	social.mu.Lock()
	social.failAll = false
	social.mu.Unlock()

	result, err := coordinator.Resume(ctx, reloaded, []string{draft.FinalText})
	require.NoError(t, err)
	require.Len(t, result.TweetIDs, 1)

	rows = attemptRows(t, client, draft.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, models.AttemptStatusCompleted, rows[1].Status)
}

func TestCoordinator_ConcurrentApprovers(t *testing.T) {
	client := testdb.NewTestClient(t)
	posts := services.NewPostService(client)
	coordinator := NewCoordinator(client, posts, &fakeSocial{}, true)
	ctx := context.Background()

	draft, _ := setupDraft(t, client, false)
	tweets := []string{draft.FinalText}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coordinator.Publish(ctx, draft, tweets)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t,
				errors.Is(err, services.ErrPublishInProgress) || errors.Is(err, services.ErrAlreadyExists),
				"unexpected loser error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	rows := attemptRows(t, client, draft.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AttemptStatusCompleted, rows[0].Status)

	records, err := posts.PostsForDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// The approve token was consumed exactly once by the lease.
	var consumed int
	require.NoError(t, client.GetContext(ctx, &consumed, `
		SELECT COUNT(*) FROM action_tokens
		WHERE draft_id = $1 AND action = 'approve' AND consumed_at IS NOT NULL`, draft.ID))
	assert.Equal(t, 1, consumed)
}

func TestDryRunTweetID(t *testing.T) {
	assert.Equal(t, "dry_abcdefgh_2", DryRunTweetID("abcdefgh-rest-of-uuid", 2))
	assert.Equal(t, "dry_short_1", DryRunTweetID("short", 1))
}
