package agent

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/models"
)

func TestAddNumbering(t *testing.T) {
	t.Run("suffixes position over total", func(t *testing.T) {
		numbered := AddNumbering([]string{"first point", "second point", "third point"})
		assert.Equal(t, []string{
			"first point (1/3)",
			"second point (2/3)",
			"third point (3/3)",
		}, numbered)
	})

	t.Run("truncates to stay within the hard limit", func(t *testing.T) {
		long := strings.Repeat("x", 300)
		numbered := AddNumbering([]string{long, "short"})
		require.Len(t, numbered, 2)
		assert.LessOrEqual(t, utf8.RuneCountInString(numbered[0]), 280)
		assert.True(t, strings.HasSuffix(numbered[0], " (1/2)"))
	})
}

func TestCritic_Fallback(t *testing.T) {
	critic := NewCritic(nil)
	ctx := context.Background()

	t.Run("selects the first single candidate", func(t *testing.T) {
		candidates := &models.DraftCandidates{Candidates: []models.DraftCandidate{
			{Mode: models.ModeSingle, Text: "first candidate"},
			{Mode: models.ModeSingle, Text: "second candidate"},
		}}
		plan := &models.ThreadPlan{Enabled: false, TweetsCount: 1}

		edited, log := critic.Execute(ctx, candidates, &models.Materials{}, models.DefaultStyleProfile(), plan)
		assert.Equal(t, "first candidate", edited.FinalText)
		assert.Equal(t, models.ModeSingle, edited.Mode)
		assert.Equal(t, "Critic", log.AgentName)
	})

	t.Run("numbers thread tweets when enabled", func(t *testing.T) {
		candidates := &models.DraftCandidates{Candidates: []models.DraftCandidate{
			{Mode: models.ModeThread, Tweets: []string{"one", "two", "three"}},
		}}
		plan := &models.ThreadPlan{Enabled: true, TweetsCount: 3, NumberingEnabled: true}

		edited, _ := critic.Execute(ctx, candidates, &models.Materials{}, models.DefaultStyleProfile(), plan)
		assert.True(t, edited.NumberingAdded)
		assert.Equal(t, []string{"one (1/3)", "two (2/3)", "three (3/3)"}, edited.FinalTweets)
	})

	t.Run("leaves thread unnumbered when disabled", func(t *testing.T) {
		candidates := &models.DraftCandidates{Candidates: []models.DraftCandidate{
			{Mode: models.ModeThread, Tweets: []string{"one", "two"}},
		}}
		plan := &models.ThreadPlan{Enabled: true, TweetsCount: 2, NumberingEnabled: false}

		edited, _ := critic.Execute(ctx, candidates, &models.Materials{}, models.DefaultStyleProfile(), plan)
		assert.False(t, edited.NumberingAdded)
		assert.Equal(t, []string{"one", "two"}, edited.FinalTweets)
	})
}
