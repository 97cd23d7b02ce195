// Package publish implements the exactly-once publish coordinator. It must
// hold against three adversaries: concurrent approvers, process crashes
// mid-publish, and transient downstream failures. The unique
// (draft_id, attempt) index on publish_attempts is the lock; the per-position
// publish_idempotency_key on posts makes every downstream call replay-safe.
package publish

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/services"
	"github.com/songyu-ren/xagent/pkg/twitter"
)

// Downstream retry policy: bounded exponential backoff.
const (
	publishRetries     = 3
	publishBackoffBase = 500 * time.Millisecond
)

// Coordinator serializes publication of a draft's tweets.
type Coordinator struct {
	client *database.Client
	posts  *services.PostService
	social twitter.Client
	dryRun bool
}

// NewCoordinator creates a publish coordinator.
func NewCoordinator(client *database.Client, posts *services.PostService, social twitter.Client, dryRun bool) *Coordinator {
	return &Coordinator{client: client, posts: posts, social: social, dryRun: dryRun}
}

// Publish runs the full approve-path protocol for a pending draft: acquire
// the attempt-1 lease, publish each position idempotently, then finalize.
//
// Error mapping for callers: ErrPublishInProgress and
// ErrPreviousAttemptFailed are contention (409); ErrAlreadyExists signals the
// idempotent-success path (200 already processed).
func (c *Coordinator) Publish(ctx context.Context, draft *services.DraftRecord, tweets []string) (*models.PublishResult, error) {
	if len(tweets) == 0 {
		return nil, services.NewValidationError("tweets", "nothing to publish")
	}

	attempt, err := c.acquireLease(ctx, draft, 1)
	if err != nil {
		return nil, err
	}
	return c.runAttempt(ctx, draft, tweets, attempt)
}

// Resume re-enters the publish loop for a draft whose attempt was left
// started by a crash, or opens a fresh attempt after an explicit failure.
func (c *Coordinator) Resume(ctx context.Context, draft *services.DraftRecord, tweets []string) (*models.PublishResult, error) {
	if len(tweets) == 0 {
		return nil, services.NewValidationError("tweets", "nothing to publish")
	}

	latest, err := c.latestAttempt(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, services.ErrNotFound
	}

	switch latest.Status {
	case models.AttemptStatusCompleted:
		return nil, services.ErrAlreadyExists
	case models.AttemptStatusStarted:
		// Crash recovery: continue the same attempt, reusing existing posts.
		slog.Info("Resuming started publish attempt",
			"draft_id", draft.ID, "attempt", latest.Attempt)
		return c.runAttempt(ctx, draft, tweets, latest)
	case models.AttemptStatusFailed:
		next, err := c.acquireLease(ctx, draft, latest.Attempt+1)
		if err != nil {
			return nil, err
		}
		return c.runAttempt(ctx, draft, tweets, next)
	default:
		return nil, fmt.Errorf("unexpected attempt status %q for draft %s", latest.Status, draft.ID)
	}
}

// acquireLease inserts the attempt row, flips the draft to publishing, and
// consumes the approve token, all in one transaction. Losing the insert race
// maps the existing row's status onto the caller-visible outcome.
func (c *Coordinator) acquireLease(ctx context.Context, draft *services.DraftRecord, attemptNo int) (*services.PublishAttemptRecord, error) {
	now := time.Now().UTC()
	owner := uuid.New().String()

	tx, err := c.client.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO publish_attempts (draft_id, attempt, owner, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		draft.ID, attemptNo, owner, models.AttemptStatusStarted, now)
	if err != nil {
		_ = tx.Rollback()
		if !services.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to insert publish attempt: %w", err)
		}
		existing, lookupErr := c.attemptByNumber(ctx, draft.ID, attemptNo)
		if lookupErr != nil {
			return nil, lookupErr
		}
		switch existing.Status {
		case models.AttemptStatusStarted:
			return nil, services.ErrPublishInProgress
		case models.AttemptStatusCompleted:
			return nil, services.ErrAlreadyExists
		default:
			return nil, services.ErrPreviousAttemptFailed
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE drafts SET status = $1 WHERE id = $2`,
		models.DraftStatusPublishing, draft.ID); err != nil {
		return nil, fmt.Errorf("failed to mark draft publishing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE action_tokens SET consumed_at = $1
		WHERE draft_id = $2 AND action = $3 AND one_time AND consumed_at IS NULL`,
		now, draft.ID, models.TokenActionApprove); err != nil {
		return nil, fmt.Errorf("failed to consume approve token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}

	return &services.PublishAttemptRecord{
		DraftID:   draft.ID,
		Attempt:   attemptNo,
		Owner:     sql.NullString{String: owner, Valid: true},
		Status:    models.AttemptStatusStarted,
		CreatedAt: now,
	}, nil
}

// runAttempt executes the publish loop and finalization for a held lease.
func (c *Coordinator) runAttempt(ctx context.Context, draft *services.DraftRecord, tweets []string, attempt *services.PublishAttemptRecord) (*models.PublishResult, error) {
	result, err := c.publishLoop(ctx, draft, tweets)
	if err != nil {
		c.failAttempt(ctx, draft.ID, attempt.Attempt, err)
		return nil, fmt.Errorf("publish exhausted: %w", err)
	}
	if err := c.finalize(ctx, draft.ID, attempt.Attempt, result.TweetIDs); err != nil {
		return nil, err
	}
	return result, nil
}

// publishLoop walks positions in order, reusing persisted posts and chaining
// replies by the previous position's tweet id.
func (c *Coordinator) publishLoop(ctx context.Context, draft *services.DraftRecord, tweets []string) (*models.PublishResult, error) {
	existing, err := c.posts.ExistingThreadPosts(ctx, draft.ID)
	if err != nil {
		return nil, err
	}

	tweetIDs := make([]string, 0, len(tweets))
	replyTo := ""
	for i, text := range tweets {
		position := i + 1
		if tweetID, ok := existing[position]; ok {
			tweetIDs = append(tweetIDs, tweetID)
			replyTo = tweetID
			continue
		}

		var tweetID string
		if c.dryRun {
			tweetID = DryRunTweetID(draft.ID, position)
		} else {
			tweetID, err = c.postWithRetry(ctx, text, replyTo)
			if err != nil {
				return nil, err
			}
		}

		if err := c.posts.InsertPostIdempotent(ctx, draft.ID, position, tweetID, text, time.Now().UTC()); err != nil {
			return nil, err
		}
		// A conflicting insert means another worker published this position
		// first; its row is authoritative.
		persisted, err := c.posts.ExistingThreadPosts(ctx, draft.ID)
		if err != nil {
			return nil, err
		}
		if persistedID, ok := persisted[position]; ok {
			tweetID = persistedID
		}

		tweetIDs = append(tweetIDs, tweetID)
		replyTo = tweetID
	}
	return &models.PublishResult{TweetIDs: tweetIDs}, nil
}

// postWithRetry calls the downstream API with bounded exponential backoff.
func (c *Coordinator) postWithRetry(ctx context.Context, text, replyTo string) (string, error) {
	delay := publishBackoffBase
	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		tweetID, err := c.social.CreateTweet(ctx, text, replyTo)
		if err == nil {
			return tweetID, nil
		}
		lastErr = err
		slog.Warn("Downstream tweet attempt failed", "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

// finalize records the terminal draft state and completes the attempt.
func (c *Coordinator) finalize(ctx context.Context, draftID string, attemptNo int, tweetIDs []string) error {
	now := time.Now().UTC()
	status := models.DraftStatusPosted
	if c.dryRun {
		status = models.DraftStatusDryRunPosted
	}
	idsJSON, err := json.Marshal(tweetIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal tweet ids: %w", err)
	}

	tx, err := c.client.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE drafts
		SET status = $1, published_tweet_ids_json = $2, token_consumed = TRUE,
			consumed_at = $3, approval_idempotency_key = $4
		WHERE id = $5`,
		status, idsJSON, now, ApprovalIdempotencyKey(draftID), draftID); err != nil {
		return fmt.Errorf("failed to finalize draft: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE publish_attempts SET status = $1, completed_at = $2
		WHERE draft_id = $3 AND attempt = $4`,
		models.AttemptStatusCompleted, now, draftID, attemptNo); err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit finalize: %w", err)
	}
	slog.Info("Draft published", "draft_id", draftID, "status", status, "tweets", len(tweetIDs))
	return nil
}

// failAttempt records an unrecoverable publish failure. Resume stays
// possible but is never automatic.
func (c *Coordinator) failAttempt(ctx context.Context, draftID string, attemptNo int, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if _, err := c.client.ExecContext(ctx, `
		UPDATE publish_attempts SET status = $1, last_error = $2, completed_at = $3
		WHERE draft_id = $4 AND attempt = $5`,
		models.AttemptStatusFailed, msg, now, draftID, attemptNo); err != nil {
		slog.Error("Failed to mark attempt failed", "draft_id", draftID, "error", err)
	}
	if _, err := c.client.ExecContext(ctx,
		`UPDATE drafts SET status = $1, last_error = $2 WHERE id = $3`,
		models.DraftStatusError, msg, draftID); err != nil {
		slog.Error("Failed to mark draft errored", "draft_id", draftID, "error", err)
	}
}

// latestAttempt returns the highest-numbered attempt for a draft, or nil.
func (c *Coordinator) latestAttempt(ctx context.Context, draftID string) (*services.PublishAttemptRecord, error) {
	var attempt services.PublishAttemptRecord
	err := c.client.GetContext(ctx, &attempt, `
		SELECT * FROM publish_attempts
		WHERE draft_id = $1 ORDER BY attempt DESC LIMIT 1`, draftID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load publish attempt: %w", err)
	}
	return &attempt, nil
}

func (c *Coordinator) attemptByNumber(ctx context.Context, draftID string, attemptNo int) (*services.PublishAttemptRecord, error) {
	var attempt services.PublishAttemptRecord
	err := c.client.GetContext(ctx, &attempt,
		`SELECT * FROM publish_attempts WHERE draft_id = $1 AND attempt = $2`,
		draftID, attemptNo)
	if err != nil {
		return nil, fmt.Errorf("failed to load publish attempt: %w", err)
	}
	return &attempt, nil
}

// ApprovalIdempotencyKey is the deterministic key recorded for the approval
// act itself; uniqueness across drafts makes a replayed finalize harmless.
func ApprovalIdempotencyKey(draftID string) string {
	return "approve:" + draftID
}

// DryRunTweetID synthesizes the deterministic id used when DRY_RUN skips the
// downstream call.
func DryRunTweetID(draftID string, position int) string {
	short := draftID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("dry_%s_%d", short, position)
}
