package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/database"
)

// ConfigService reads and writes runtime-tunable overrides in app_config.
// Reads always hit the store; there is no in-process cache.
type ConfigService struct {
	client *database.Client
}

// NewConfigService creates a new ConfigService.
func NewConfigService(client *database.Client) *ConfigService {
	return &ConfigService{client: client}
}

type configPayload struct {
	Value     any    `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// Get returns the raw value for key, or nil when unset.
func (s *ConfigService) Get(ctx context.Context, key string) (any, error) {
	var rec AppConfigRecord
	err := s.client.GetContext(ctx, &rec, `SELECT * FROM app_config WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read app config: %w", err)
	}
	var payload configPayload
	if err := json.Unmarshal(rec.ValueJSON, &payload); err != nil {
		return nil, fmt.Errorf("corrupted app_config value for %q: %w", key, err)
	}
	return payload.Value, nil
}

// Set upserts the value for key.
func (s *ConfigService) Set(ctx context.Context, key string, value any) error {
	now := time.Now().UTC()
	payload, err := json.Marshal(configPayload{Value: value, UpdatedAt: now.Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("failed to marshal app config value: %w", err)
	}
	_, err = s.client.ExecContext(ctx, `
		INSERT INTO app_config (key, value_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value_json = EXCLUDED.value_json, updated_at = EXCLUDED.updated_at`,
		key, payload, now)
	if err != nil {
		return fmt.Errorf("failed to write app config: %w", err)
	}
	return nil
}

// GetBool returns the boolean override for key, or def when unset or unreadable.
func (s *ConfigService) GetBool(ctx context.Context, key string, def bool) bool {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	case float64:
		return v != 0
	}
	return def
}

// GetInt returns the integer override for key, or def when unset or unreadable.
func (s *ConfigService) GetInt(ctx context.Context, key string, def int) int {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns the float override for key, or def when unset or unreadable.
func (s *ConfigService) GetFloat(ctx context.Context, key string, def float64) float64 {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return def
	}
	if v, ok := raw.(float64); ok {
		return v
	}
	return def
}

// GetString returns the string override for key, or def when unset.
func (s *ConfigService) GetString(ctx context.Context, key string, def string) string {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return def
	}
	if v, ok := raw.(string); ok {
		return v
	}
	return def
}
