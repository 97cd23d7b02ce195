package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/songyu-ren/xagent/pkg/models"
)

func TestThreadPlanner(t *testing.T) {
	planner := NewThreadPlanner(nil)
	ctx := context.Background()
	style := models.DefaultStyleProfile()

	plan3 := &models.TopicPlan{KeyPoints: []string{"a", "b", "c"}}
	plan2 := &models.TopicPlan{KeyPoints: []string{"a", "b"}}

	t.Run("single when threading disabled", func(t *testing.T) {
		out, _ := planner.Execute(ctx, plan3, &models.Materials{}, style,
			ThreadSettings{Enabled: false, MaxTweets: 5, NumberingEnabled: true})
		assert.False(t, out.Enabled)
		assert.Equal(t, 1, out.TweetsCount)
	})

	t.Run("single below three key points", func(t *testing.T) {
		out, _ := planner.Execute(ctx, plan2, &models.Materials{}, style,
			ThreadSettings{Enabled: true, MaxTweets: 5, NumberingEnabled: true})
		assert.False(t, out.Enabled)
	})

	t.Run("thread at three key points", func(t *testing.T) {
		out, _ := planner.Execute(ctx, plan3, &models.Materials{}, style,
			ThreadSettings{Enabled: true, MaxTweets: 5, NumberingEnabled: true})
		assert.True(t, out.Enabled)
		assert.Equal(t, 3, out.TweetsCount)
		assert.Len(t, out.TweetKeyPoints, 3)
	})

	t.Run("devlog marker forces thread", func(t *testing.T) {
		materials := &models.Materials{Devlog: &models.EvidenceItem{
			SourceName: "devlog",
			RawSnippet: "long day\nTHREAD: true\nmore notes",
		}}
		out, _ := planner.Execute(ctx, plan2, materials, style,
			ThreadSettings{Enabled: true, MaxTweets: 5, NumberingEnabled: true})
		assert.True(t, out.Enabled)
		assert.GreaterOrEqual(t, out.TweetsCount, 2)
	})

	t.Run("max tweets clamps count", func(t *testing.T) {
		big := &models.TopicPlan{KeyPoints: []string{"a", "b", "c", "d", "e", "f", "g"}}
		out, _ := planner.Execute(ctx, big, &models.Materials{}, style,
			ThreadSettings{Enabled: true, MaxTweets: 4, NumberingEnabled: true})
		assert.True(t, out.Enabled)
		assert.Equal(t, 4, out.TweetsCount)
	})
}
