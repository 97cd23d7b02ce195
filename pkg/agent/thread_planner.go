package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/models"
)

// threadForceMarker in the devlog forces thread mode regardless of key-point
// count.
const threadForceMarker = "THREAD: true"

// ThreadSettings are the resolved thread policy knobs for one run.
type ThreadSettings struct {
	Enabled          bool
	MaxTweets        int
	NumberingEnabled bool
}

// ThreadPlanner decides single vs. thread and, for threads, distributes key
// points across tweets.
type ThreadPlanner struct {
	llm llm.Chatter
}

// NewThreadPlanner creates the thread planner stage.
func NewThreadPlanner(chatter llm.Chatter) *ThreadPlanner {
	return &ThreadPlanner{llm: chatter}
}

// Execute produces the thread plan and its stage log.
func (p *ThreadPlanner) Execute(ctx context.Context, topicPlan *models.TopicPlan, materials *models.Materials, style models.StyleProfile, settings ThreadSettings) (*models.ThreadPlan, models.AgentLog) {
	plan, log, _ := runStage("ThreadPlanner", summarize(topicPlan),
		func(out *stageOutcome) (*models.ThreadPlan, error) {
			devlog := devlogExcerpt(materials, devlogTailChars)
			userForce := strings.Contains(devlog, threadForceMarker)

			shouldThread := settings.Enabled && (userForce || len(topicPlan.KeyPoints) >= 3)
			if !shouldThread {
				return &models.ThreadPlan{
					Enabled:          false,
					TweetsCount:      1,
					NumberingEnabled: settings.NumberingEnabled,
					Reason:           "single",
				}, nil
			}

			tweetsCount := len(topicPlan.KeyPoints)
			if tweetsCount > 5 {
				tweetsCount = 5
			}
			if tweetsCount < 2 {
				tweetsCount = 2
			}
			if tweetsCount > settings.MaxTweets {
				tweetsCount = settings.MaxTweets
			}

			if p.llm != nil {
				if plan, err := p.planWithLLM(ctx, topicPlan, style, tweetsCount, settings.NumberingEnabled); err == nil {
					return plan, nil
				} else {
					llm.LogFallback("ThreadPlanner", err)
					out.Warnings = append(out.Warnings, "llm fallback: "+truncateErr(err, 200))
				}
			}
			return heuristicThreadPlan(topicPlan, tweetsCount, settings.NumberingEnabled), nil
		})
	return plan, log
}

func (p *ThreadPlanner) planWithLLM(ctx context.Context, topicPlan *models.TopicPlan, style models.StyleProfile, tweetsCount int, numbering bool) (*models.ThreadPlan, error) {
	prompt := fmt.Sprintf(`You are planning an X thread.

Topic angles: %s
Key points: %s
Style rules: openers=%s, forbidden=%s

Return JSON:
{
  "enabled": true,
  "tweets_count": %d,
  "numbering_enabled": %v,
  "reason": "...",
  "tweet_key_points": [["..."],["..."]]
}`,
		mustJSON(topicPlan.Angles), mustJSON(topicPlan.KeyPoints),
		mustJSON(style.PreferredOpeners), mustJSON(style.ForbiddenPhrases),
		tweetsCount, numbering)

	raw, err := llm.ChatWithRetry(ctx, p.llm, prompt)
	if err != nil {
		return nil, err
	}
	var plan models.ThreadPlan
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &plan); err != nil {
		return nil, err
	}
	if !plan.Enabled || plan.TweetsCount < 2 {
		return nil, fmt.Errorf("llm returned unusable thread plan")
	}
	return &plan, nil
}

// heuristicThreadPlan distributes key points one per tweet.
func heuristicThreadPlan(topicPlan *models.TopicPlan, tweetsCount int, numbering bool) *models.ThreadPlan {
	chunks := make([][]string, tweetsCount)
	for i := range tweetsCount {
		if i < len(topicPlan.KeyPoints) {
			chunks[i] = []string{topicPlan.KeyPoints[i]}
		} else {
			chunks[i] = []string{}
		}
	}
	return &models.ThreadPlan{
		Enabled:          true,
		TweetsCount:      tweetsCount,
		NumberingEnabled: numbering,
		Reason:           "heuristic",
		TweetKeyPoints:   chunks,
	}
}
