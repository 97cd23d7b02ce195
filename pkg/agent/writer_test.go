package agent

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/models"
)

func TestWriter_Fallback(t *testing.T) {
	writer := NewWriter(nil)
	ctx := context.Background()
	style := models.DefaultStyleProfile()

	t.Run("single fallback composes from key points", func(t *testing.T) {
		topicPlan := &models.TopicPlan{KeyPoints: []string{"Shipped the retry logic", "Fixed a flaky test"}}
		plan := &models.ThreadPlan{Enabled: false, TweetsCount: 1}

		candidates, log := writer.Execute(ctx, topicPlan, plan, style, &models.Materials{})
		require.Len(t, candidates.Candidates, 1)
		c := candidates.Candidates[0]
		assert.Equal(t, models.ModeSingle, c.Mode)
		assert.Contains(t, c.Text, "Shipped the retry logic")
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), singleCandidateLimit)
		assert.Equal(t, "Writer", log.AgentName)
	})

	t.Run("thread fallback yields one tweet per position", func(t *testing.T) {
		topicPlan := &models.TopicPlan{KeyPoints: []string{"point one", "point two", "point three"}}
		plan := &models.ThreadPlan{Enabled: true, TweetsCount: 3}

		candidates, _ := writer.Execute(ctx, topicPlan, plan, style, &models.Materials{})
		require.Len(t, candidates.Candidates, 1)
		c := candidates.Candidates[0]
		assert.Equal(t, models.ModeThread, c.Mode)
		assert.Len(t, c.Tweets, 3)
	})

	t.Run("empty key points fall back to angles", func(t *testing.T) {
		topicPlan := &models.TopicPlan{Angles: []string{"a small reflection"}}
		plan := &models.ThreadPlan{Enabled: false, TweetsCount: 1}

		candidates, _ := writer.Execute(ctx, topicPlan, plan, style, &models.Materials{})
		require.Len(t, candidates.Candidates, 1)
		assert.Equal(t, "a small reflection", candidates.Candidates[0].Text)
	})
}

func TestClampText(t *testing.T) {
	assert.Equal(t, "short", clampText("short", 10))
	assert.Equal(t, "abcde", clampText("abcdefghij", 5))
	assert.Equal(t, "日本語", clampText("日本語のテキスト", 3))
}
