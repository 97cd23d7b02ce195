package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
)

// ResolveStatus is the outcome of a token resolution.
type ResolveStatus string

// Token resolution outcomes.
const (
	ResolveOK       ResolveStatus = "ok"
	ResolveNotFound ResolveStatus = "not_found"
	ResolveExpired  ResolveStatus = "expired"
	ResolveConsumed ResolveStatus = "consumed"
)

// tokenIssueRetries bounds retries on token_hash collisions.
const tokenIssueRetries = 3

// TokenService issues and resolves action tokens. Bearer strings are random,
// URL-safe, and never persisted; only their SHA-256 hash is stored.
type TokenService struct {
	client *database.Client
}

// NewTokenService creates a new TokenService.
func NewTokenService(client *database.Client) *TokenService {
	return &TokenService{client: client}
}

// HashToken returns the hex SHA-256 of a raw bearer string.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// newRawToken generates a 256-bit URL-safe bearer string.
func newRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// oneTimeActions maps each verb to its consumption semantics.
var oneTimeActions = map[string]bool{
	models.TokenActionView:       false,
	models.TokenActionEdit:       false,
	models.TokenActionRegenerate: false,
	models.TokenActionApprove:    true,
	models.TokenActionSkip:       true,
}

// IssueToken creates a token for (draft, action) and returns the raw bearer
// string. Hash collisions retry with fresh randomness; the unique constraint
// on token_hash is the guard.
func (s *TokenService) IssueToken(ctx context.Context, draftID, action string, expiresAt time.Time, now time.Time) (string, error) {
	oneTime, ok := oneTimeActions[action]
	if !ok {
		return "", NewValidationError("action", fmt.Sprintf("unknown action %q", action))
	}

	var lastErr error
	for range tokenIssueRetries {
		raw, err := newRawToken()
		if err != nil {
			return "", err
		}
		_, err = s.client.ExecContext(ctx, `
			INSERT INTO action_tokens (draft_id, action, token_hash, created_at, expires_at, one_time)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			draftID, action, HashToken(raw), now, expiresAt, oneTime)
		if err == nil {
			return raw, nil
		}
		if !IsUniqueViolation(err) {
			return "", fmt.Errorf("failed to issue token: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to issue token after %d attempts: %w", tokenIssueRetries, lastErr)
}

// IssueDraftTokens issues the full verb set for a freshly created draft and
// returns the raw bearer strings keyed by action.
func (s *TokenService) IssueDraftTokens(ctx context.Context, draftID string, expiresAt, now time.Time) (map[string]string, error) {
	actions := []string{
		models.TokenActionView,
		models.TokenActionEdit,
		models.TokenActionRegenerate,
		models.TokenActionApprove,
		models.TokenActionSkip,
	}
	out := make(map[string]string, len(actions))
	for _, action := range actions {
		raw, err := s.IssueToken(ctx, draftID, action, expiresAt, now)
		if err != nil {
			return nil, err
		}
		out[action] = raw
	}
	return out, nil
}

// Resolve looks up a token by (action, hash) and checks TTL and one-time
// semantics. Resolution never consumes; callers consume explicitly after the
// guarded operation succeeds.
func (s *TokenService) Resolve(ctx context.Context, action, raw string, now time.Time) (*DraftRecord, *ActionTokenRecord, ResolveStatus, error) {
	var token ActionTokenRecord
	err := s.client.GetContext(ctx, &token,
		`SELECT * FROM action_tokens WHERE action = $1 AND token_hash = $2`,
		action, HashToken(raw))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ResolveNotFound, nil
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to look up token: %w", err)
	}

	if now.After(token.ExpiresAt) {
		return nil, &token, ResolveExpired, nil
	}
	if token.OneTime && token.ConsumedAt.Valid {
		return nil, &token, ResolveConsumed, nil
	}

	var draft DraftRecord
	err = s.client.GetContext(ctx, &draft, `SELECT * FROM drafts WHERE id = $1`, token.DraftID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &token, ResolveNotFound, nil
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load draft for token: %w", err)
	}

	return &draft, &token, ResolveOK, nil
}

// Consume marks a one-time token used. Multi-use tokens are untouched.
func (s *TokenService) Consume(ctx context.Context, token *ActionTokenRecord, now time.Time) error {
	if !token.OneTime {
		return nil
	}
	_, err := s.client.ExecContext(ctx,
		`UPDATE action_tokens SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`,
		now, token.ID)
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	return nil
}

// DeleteExpired purges tokens whose TTL elapsed before the cutoff. Returns
// the number of rows removed.
func (s *TokenService) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.client.ExecContext(ctx,
		`DELETE FROM action_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
