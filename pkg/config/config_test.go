package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, s.RewriteMax)
	assert.Equal(t, 0.6, s.SimilarityThreshold)
	assert.Equal(t, 36, s.TokenTTLHours)
	assert.True(t, s.DryRun)
	assert.False(t, s.ThreadEnabled)
	assert.Equal(t, 5, s.ThreadMaxTweets)
	assert.True(t, s.ThreadNumberingEnabled)
	assert.Equal(t, 14, s.RecentPostsDays)
}

func TestLoadOverridesAndValidation(t *testing.T) {
	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("REWRITE_MAX", "3")
		t.Setenv("SIMILARITY_THRESHOLD", "0.8")
		t.Setenv("THREAD_ENABLED", "true")
		t.Setenv("DRY_RUN", "false")

		s, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 3, s.RewriteMax)
		assert.Equal(t, 0.8, s.SimilarityThreshold)
		assert.True(t, s.ThreadEnabled)
		assert.False(t, s.DryRun)
	})

	t.Run("rejects bad similarity threshold", func(t *testing.T) {
		t.Setenv("SIMILARITY_THRESHOLD", "1.5")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("rejects negative rewrite max", func(t *testing.T) {
		t.Setenv("REWRITE_MAX", "-1")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("rejects unparsable int", func(t *testing.T) {
		t.Setenv("TOKEN_TTL_HOURS", "soon")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestTokenTTL(t *testing.T) {
	s := &Settings{TokenTTLHours: 36}
	assert.Equal(t, "36h0m0s", s.TokenTTL().String())
}

func TestLoadBlockedTerms(t *testing.T) {
	t.Run("reads yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blocked.yaml")
		require.NoError(t, os.WriteFile(path, []byte("blocked_terms:\n  - Password\n  - \" api key \"\n  - \"\"\n"), 0o644))

		terms := LoadBlockedTerms(path)
		assert.Equal(t, []string{"password", "api key"}, terms)
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		terms := LoadBlockedTerms(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Equal(t, defaultBlockedTerms, terms)
	})

	t.Run("malformed yaml falls back to defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blocked.yaml")
		require.NoError(t, os.WriteFile(path, []byte(":\n\t- broken"), 0o644))
		assert.Equal(t, defaultBlockedTerms, LoadBlockedTerms(path))
	})
}

func TestParseBlockedTermsYAML(t *testing.T) {
	terms, err := ParseBlockedTermsYAML("blocked_terms: [Secret, token]")
	require.NoError(t, err)
	assert.Equal(t, []string{"secret", "token"}, terms)

	_, err = ParseBlockedTermsYAML(":\n\t- broken")
	assert.Error(t, err)
}
