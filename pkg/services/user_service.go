package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/songyu-ren/xagent/pkg/database"
)

// sessionTTL bounds admin session lifetime.
const sessionTTL = 24 * time.Hour

// UserService manages admin users, their sessions, and the audit trail.
type UserService struct {
	client *database.Client
}

// NewUserService creates a new UserService.
func NewUserService(client *database.Client) *UserService {
	return &UserService{client: client}
}

// CreateUser inserts an admin user with a bcrypt-hashed password.
func (s *UserService) CreateUser(ctx context.Context, username, password, role string) (*UserRecord, error) {
	if username == "" {
		return nil, NewValidationError("username", "required")
	}
	if len(password) < 8 {
		return nil, NewValidationError("password", "must be at least 8 characters")
	}
	if role == "" {
		role = "admin"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &UserRecord{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.client.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user on success.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*UserRecord, error) {
	var user UserRecord
	err := s.client.GetContext(ctx, &user, `SELECT * FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrNotFound
	}
	return &user, nil
}

// CreateSession opens an admin session with a fresh CSRF token.
func (s *UserService) CreateSession(ctx context.Context, userID, ipAddress, userAgent string) (*UserSessionRecord, error) {
	id, err := randomToken()
	if err != nil {
		return nil, err
	}
	csrf, err := randomToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &UserSessionRecord{
		ID:        id,
		UserID:    userID,
		CSRFToken: csrf,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	_, err = s.client.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, csrf_token, created_at, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.CSRFToken, session.CreatedAt, session.ExpiresAt,
		nullable(ipAddress), nullable(userAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession returns a live session, updating last_seen_at. Expired sessions
// resolve to ErrNotFound.
func (s *UserService) GetSession(ctx context.Context, sessionID string) (*UserSessionRecord, error) {
	var session UserSessionRecord
	err := s.client.GetContext(ctx, &session, `SELECT * FROM user_sessions WHERE id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return nil, ErrNotFound
	}
	_, _ = s.client.ExecContext(ctx,
		`UPDATE user_sessions SET last_seen_at = $1 WHERE id = $2`, time.Now().UTC(), sessionID)
	return &session, nil
}

// DeleteSession logs an admin out.
func (s *UserService) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.client.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RecordAudit appends an audit row for an admin action.
func (s *UserService) RecordAudit(ctx context.Context, userID, action, draftID, ipAddress string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}
	var draftVal any
	if draftID != "" {
		draftVal = draftID
	}
	_, err = s.client.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, draft_id, created_at, ip_address, details_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, action, draftVal, time.Now().UTC(), nullable(ipAddress), detailsJSON)
	if err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
