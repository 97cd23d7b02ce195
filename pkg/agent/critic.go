package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/models"
)

// tweetHardLimit is the downstream platform's hard per-tweet bound.
const tweetHardLimit = 280

// Critic selects the best candidate and edits it into the final draft. For
// numbered threads it suffixes " (i/N)", truncating to the hard limit.
type Critic struct {
	llm llm.Chatter
}

// NewCritic creates the critic stage.
func NewCritic(chatter llm.Chatter) *Critic {
	return &Critic{llm: chatter}
}

// Execute produces the edited draft and its stage log.
func (c *Critic) Execute(ctx context.Context, candidates *models.DraftCandidates, materials *models.Materials, style models.StyleProfile, threadPlan *models.ThreadPlan) (*models.EditedDraft, models.AgentLog) {
	edited, log, _ := runStage("Critic", summarize(candidates),
		func(out *stageOutcome) (*models.EditedDraft, error) {
			var edited *models.EditedDraft
			if c.llm != nil {
				var err error
				edited, err = c.editWithLLM(ctx, candidates, materials, style, threadPlan)
				if err != nil {
					llm.LogFallback("Critic", err)
					out.Warnings = append(out.Warnings, "llm fallback: "+truncateErr(err, 200))
					edited = nil
				}
			}
			if edited == nil {
				edited = fallbackEdit(candidates, threadPlan)
			}

			if edited.Mode == models.ModeThread && len(edited.FinalTweets) > 0 && threadPlan.NumberingEnabled {
				edited.FinalTweets = AddNumbering(edited.FinalTweets)
				edited.NumberingAdded = true
			}
			return edited, nil
		})
	return edited, log
}

func (c *Critic) editWithLLM(ctx context.Context, candidates *models.DraftCandidates, materials *models.Materials, style models.StyleProfile, threadPlan *models.ThreadPlan) (*models.EditedDraft, error) {
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`You are a senior editor.

Candidates JSON:
%s

Context summary:
- git commits: %d
- notes: %d
- links: %d
- thread_enabled: %v
- numbering_enabled: %v

Personal style:
- forbidden_phrases: %s
- tone_rules: %s

Task:
- Pick the best candidate.
- Edit to reduce fluff, improve first sentence, and keep it grounded.
- If thread: ensure consistent flow across tweets.
- Strict char limit: each final tweet <= %d.

Return JSON only:
{
  "mode": "single"|"thread",
  "selected_candidate_index": 0,
  "original": {...},
  "final_text": "...",
  "final_tweets": ["..."],
  "numbering_added": false,
  "edit_notes": "..."
}`,
		candidatesJSON,
		len(materials.GitCommits), len(materials.Notes), len(materials.Links),
		threadPlan.Enabled, threadPlan.NumberingEnabled,
		mustJSON(style.ForbiddenPhrases), mustJSON(style.ToneRules),
		tweetHardLimit)

	raw, err := llm.ChatWithRetry(ctx, c.llm, prompt)
	if err != nil {
		return nil, err
	}
	var edited models.EditedDraft
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &edited); err != nil {
		return nil, err
	}
	if edited.Mode == "" || (edited.FinalText == "" && len(edited.FinalTweets) == 0) {
		return nil, fmt.Errorf("unusable critic output")
	}
	return &edited, nil
}

// fallbackEdit selects the first candidate unmodified.
func fallbackEdit(candidates *models.DraftCandidates, threadPlan *models.ThreadPlan) *models.EditedDraft {
	if len(candidates.Candidates) == 0 {
		mode := models.ModeSingle
		if threadPlan.Enabled {
			mode = models.ModeThread
		}
		return &models.EditedDraft{Mode: mode, EditNotes: "no candidates"}
	}
	first := candidates.Candidates[0]
	edited := &models.EditedDraft{
		Mode:      first.Mode,
		Original:  first,
		EditNotes: "selected first candidate without edits",
	}
	if first.Mode == models.ModeThread {
		edited.FinalTweets = first.Tweets
		if len(first.Tweets) > 0 {
			edited.FinalText = first.Tweets[0]
		}
	} else {
		edited.FinalText = first.Text
	}
	return edited
}

// AddNumbering suffixes " (i/N)" to each tweet, truncating the body so the
// result stays within the hard limit. Limits count runes, not bytes.
func AddNumbering(tweets []string) []string {
	n := len(tweets)
	out := make([]string, 0, n)
	for i, t := range tweets {
		suffix := fmt.Sprintf(" (%d/%d)", i+1, n)
		text := []rune(strings.TrimSpace(t))
		if len(text)+len(suffix) <= tweetHardLimit {
			out = append(out, string(text)+suffix)
			continue
		}
		keep := tweetHardLimit - len(suffix)
		if keep < 0 {
			keep = 0
		}
		out = append(out, strings.TrimRight(string(text[:keep]), " ")+suffix)
	}
	return out
}
