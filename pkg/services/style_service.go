package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
)

// StyleService persists learned style profiles.
type StyleService struct {
	client *database.Client
}

// NewStyleService creates a new StyleService.
func NewStyleService(client *database.Client) *StyleService {
	return &StyleService{client: client}
}

// SaveProfile appends a new style profile snapshot.
func (s *StyleService) SaveProfile(ctx context.Context, profile models.StyleProfile, createdAt time.Time) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal style profile: %w", err)
	}
	_, err = s.client.ExecContext(ctx,
		`INSERT INTO style_profiles (created_at, profile_json) VALUES ($1, $2)`,
		createdAt, profileJSON)
	if err != nil {
		return fmt.Errorf("failed to save style profile: %w", err)
	}
	return nil
}

// LatestProfile returns the most recent profile, or the built-in default when
// none exists or the stored row is unreadable.
func (s *StyleService) LatestProfile(ctx context.Context) (models.StyleProfile, error) {
	var profileJSON []byte
	err := s.client.GetContext(ctx, &profileJSON,
		`SELECT profile_json FROM style_profiles ORDER BY created_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultStyleProfile(), nil
	}
	if err != nil {
		return models.StyleProfile{}, fmt.Errorf("failed to load style profile: %w", err)
	}
	var profile models.StyleProfile
	if err := json.Unmarshal(profileJSON, &profile); err != nil {
		return models.DefaultStyleProfile(), nil
	}
	return profile, nil
}
