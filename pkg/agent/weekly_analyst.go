package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/models"
)

// WeeklyAnalyst summarizes a trailing week of posts into topic buckets,
// recommendations, and next-week topics.
type WeeklyAnalyst struct {
	llm llm.Chatter
}

// NewWeeklyAnalyst creates the weekly report stage.
func NewWeeklyAnalyst(chatter llm.Chatter) *WeeklyAnalyst {
	return &WeeklyAnalyst{llm: chatter}
}

// Execute produces the weekly report and its stage log.
func (a *WeeklyAnalyst) Execute(ctx context.Context, weekStart, weekEnd time.Time, posts []string) (*models.WeeklyReport, models.AgentLog) {
	report, log, _ := runStage("WeeklyAnalyst", fmt.Sprintf("posts=%d", len(posts)),
		func(out *stageOutcome) (*models.WeeklyReport, error) {
			base := &models.WeeklyReport{
				WeekStart:       weekStart,
				WeekEnd:         weekEnd,
				TopTopicBuckets: []string{},
				Recommendations: []string{"Keep posting daily", "Prefer concrete details over summaries"},
				NextWeekTopics:  []string{},
			}
			if a.llm == nil || len(posts) == 0 {
				return base, nil
			}
			prompt := fmt.Sprintf(`You are reviewing one week of posts from a developer building in public.

Posts: %s

Return JSON only:
{
  "top_topic_buckets": ["..."],
  "recommendations": ["..."],
  "next_week_topics": ["..."]
}`, mustJSON(clip(posts, 100)))

			raw, err := llm.ChatWithRetry(ctx, a.llm, prompt)
			if err != nil {
				llm.LogFallback("WeeklyAnalyst", err)
				out.Warnings = append(out.Warnings, "llm fallback: "+truncateErr(err, 200))
				return base, nil
			}
			var parsed struct {
				TopTopicBuckets []string `json:"top_topic_buckets"`
				Recommendations []string `json:"recommendations"`
				NextWeekTopics  []string `json:"next_week_topics"`
			}
			if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &parsed); err != nil {
				llm.LogFallback("WeeklyAnalyst", err)
				return base, nil
			}
			return &models.WeeklyReport{
				WeekStart:       weekStart,
				WeekEnd:         weekEnd,
				TopTopicBuckets: parsed.TopTopicBuckets,
				Recommendations: parsed.Recommendations,
				NextWeekTopics:  parsed.NextWeekTopics,
			}, nil
		})
	return report, log
}
