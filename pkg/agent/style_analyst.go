package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/models"
)

// StyleAnalyst learns a style profile from recent posts and the devlog.
type StyleAnalyst struct {
	llm llm.Chatter
}

// NewStyleAnalyst creates the style stage.
func NewStyleAnalyst(chatter llm.Chatter) *StyleAnalyst {
	return &StyleAnalyst{llm: chatter}
}

// Execute produces the learned profile and its stage log, degrading to the
// default profile on any LLM failure.
func (a *StyleAnalyst) Execute(ctx context.Context, posts []string, devlogExcerpt string) (models.StyleProfile, models.AgentLog) {
	profile, log, _ := runStage("Style", fmt.Sprintf("posts=%d", len(posts)),
		func(out *stageOutcome) (models.StyleProfile, error) {
			if a.llm == nil {
				return models.DefaultStyleProfile(), nil
			}
			if len(devlogExcerpt) > 2000 {
				devlogExcerpt = devlogExcerpt[:2000]
			}
			prompt := fmt.Sprintf(`You are learning a writer's personal style.

Inputs:
- Approved/posted tweets (most recent first): %s
- Devlog excerpt (may be empty): %s

Output a JSON style profile:
{
  "preferred_openers": ["..."],
  "forbidden_phrases": ["..."],
  "sentence_length_preference": "short"|"medium",
  "tone_rules": ["..."],
  "formatting_rules": ["...", "optional: multiline"]
}`, mustJSON(clip(posts, 50)), devlogExcerpt)

			raw, err := llm.ChatWithRetry(ctx, a.llm, prompt)
			if err != nil {
				llm.LogFallback("Style", err)
				out.Warnings = append(out.Warnings, "llm fallback: "+truncateErr(err, 200))
				return models.DefaultStyleProfile(), nil
			}
			var profile models.StyleProfile
			if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &profile); err != nil {
				llm.LogFallback("Style", err)
				return models.DefaultStyleProfile(), nil
			}
			return profile, nil
		})
	return profile, log
}
