package services

import (
	"context"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/database"
)

// PostService manages published tweet rows.
type PostService struct {
	client *database.Client
}

// NewPostService creates a new PostService.
func NewPostService(client *database.Client) *PostService {
	return &PostService{client: client}
}

// InsertPostIdempotent records a published tweet. A conflicting insert (crash
// recovery, concurrent resume) is treated as success; the surviving row wins.
func (s *PostService) InsertPostIdempotent(ctx context.Context, draftID string, position int, tweetID, content string, postedAt time.Time) error {
	key := PublishIdempotencyKey(draftID, position)
	_, err := s.client.ExecContext(ctx, `
		INSERT INTO posts (draft_id, position, tweet_id, content, posted_at, publish_idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		draftID, position, tweetID, content, postedAt, key)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// PublishIdempotencyKey is the canonical per-position key.
func PublishIdempotencyKey(draftID string, position int) string {
	return fmt.Sprintf("%s:%d", draftID, position)
}

// ExistingThreadPosts returns position -> tweet_id for a draft's already
// published tweets. The resume path uses this to skip downstream calls.
func (s *PostService) ExistingThreadPosts(ctx context.Context, draftID string) (map[int]string, error) {
	rows, err := s.client.QueryContext(ctx,
		`SELECT position, tweet_id FROM posts WHERE draft_id = $1`, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]string)
	for rows.Next() {
		var pos int
		var tweetID string
		if err := rows.Scan(&pos, &tweetID); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out[pos] = tweetID
	}
	return out, rows.Err()
}

// PostsForDraft returns a draft's posts ordered by position.
func (s *PostService) PostsForDraft(ctx context.Context, draftID string) ([]PostRecord, error) {
	var posts []PostRecord
	err := s.client.SelectContext(ctx, &posts,
		`SELECT * FROM posts WHERE draft_id = $1 ORDER BY position ASC`, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// RecentPosts returns post contents inside the de-duplication window,
// newest first.
func (s *PostService) RecentPosts(ctx context.Context, days, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var contents []string
	err := s.client.SelectContext(ctx, &contents, fmt.Sprintf(`
		SELECT content FROM posts
		WHERE posted_at > $1
		ORDER BY posted_at DESC LIMIT %d`, limit), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent posts: %w", err)
	}
	return contents, nil
}

// PostsInWindow returns post contents in [start, end), newest first.
func (s *PostService) PostsInWindow(ctx context.Context, start, end time.Time) ([]string, error) {
	var contents []string
	err := s.client.SelectContext(ctx, &contents, `
		SELECT content FROM posts
		WHERE posted_at >= $1 AND posted_at < $2
		ORDER BY posted_at DESC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts in window: %w", err)
	}
	return contents, nil
}
