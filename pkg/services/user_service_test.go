package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/songyu-ren/xagent/test/database"
)

func TestUserService(t *testing.T) {
	client := testdb.NewTestClient(t)
	users := NewUserService(client)
	ctx := context.Background()

	t.Run("create and authenticate", func(t *testing.T) {
		user, err := users.CreateUser(ctx, "admin", "correct-horse-battery", "")
		require.NoError(t, err)
		assert.Equal(t, "admin", user.Role)
		assert.NotEqual(t, "correct-horse-battery", user.PasswordHash)

		authed, err := users.Authenticate(ctx, "admin", "correct-horse-battery")
		require.NoError(t, err)
		assert.Equal(t, user.ID, authed.ID)

		_, err = users.Authenticate(ctx, "admin", "wrong-password-here")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		_, err := users.CreateUser(ctx, "admin", "another-password", "")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("weak password rejected", func(t *testing.T) {
		_, err := users.CreateUser(ctx, "second", "short", "")
		assert.True(t, IsValidationError(err))
	})

	t.Run("session lifecycle", func(t *testing.T) {
		user, err := users.Authenticate(ctx, "admin", "correct-horse-battery")
		require.NoError(t, err)

		session, err := users.CreateSession(ctx, user.ID, "127.0.0.1", "test-agent")
		require.NoError(t, err)
		assert.NotEmpty(t, session.CSRFToken)

		loaded, err := users.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, loaded.UserID)

		require.NoError(t, users.DeleteSession(ctx, session.ID))
		_, err = users.GetSession(ctx, session.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("audit rows record actions", func(t *testing.T) {
		user, err := users.Authenticate(ctx, "admin", "correct-horse-battery")
		require.NoError(t, err)

		require.NoError(t, users.RecordAudit(ctx, user.ID, "approve", "", "127.0.0.1",
			map[string]any{"code": 200}))

		var count int
		require.NoError(t, client.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM audit_logs WHERE user_id = $1 AND action = 'approve'`, user.ID))
		assert.Equal(t, 1, count)
	})
}

func TestConfigService(t *testing.T) {
	client := testdb.NewTestClient(t)
	cfg := NewConfigService(client)
	ctx := context.Background()

	t.Run("unset keys fall back to defaults", func(t *testing.T) {
		assert.Equal(t, 1, cfg.GetInt(ctx, "REWRITE_MAX", 1))
		assert.True(t, cfg.GetBool(ctx, "THREAD_ENABLED", true))
		assert.Equal(t, 0.6, cfg.GetFloat(ctx, "SIMILARITY_THRESHOLD", 0.6))
		assert.Equal(t, "x", cfg.GetString(ctx, "MISSING", "x"))
	})

	t.Run("overrides round-trip", func(t *testing.T) {
		require.NoError(t, cfg.Set(ctx, "REWRITE_MAX", 3))
		require.NoError(t, cfg.Set(ctx, "THREAD_ENABLED", true))
		require.NoError(t, cfg.Set(ctx, "SIMILARITY_THRESHOLD", 0.8))

		assert.Equal(t, 3, cfg.GetInt(ctx, "REWRITE_MAX", 1))
		assert.True(t, cfg.GetBool(ctx, "THREAD_ENABLED", false))
		assert.Equal(t, 0.8, cfg.GetFloat(ctx, "SIMILARITY_THRESHOLD", 0.6))
	})

	t.Run("set replaces prior value", func(t *testing.T) {
		require.NoError(t, cfg.Set(ctx, "REWRITE_MAX", 5))
		assert.Equal(t, 5, cfg.GetInt(ctx, "REWRITE_MAX", 1))
	})
}
