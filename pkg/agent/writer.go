package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/models"
)

// Character budgets leave edit headroom below the hard 280 limit.
const (
	singleCandidateLimit = 260
	threadCandidateLimit = 270
)

// Writer drafts candidate posts from the topic plan, thread plan, learned
// style, and materials.
type Writer struct {
	llm llm.Chatter
}

// NewWriter creates the writer stage.
func NewWriter(chatter llm.Chatter) *Writer {
	return &Writer{llm: chatter}
}

// Execute produces candidates and the stage log. The LLM path degrades to a
// deterministic composition from the topic plan.
func (w *Writer) Execute(ctx context.Context, topicPlan *models.TopicPlan, threadPlan *models.ThreadPlan, style models.StyleProfile, materials *models.Materials) (*models.DraftCandidates, models.AgentLog) {
	candidates, log, _ := runStage("Writer", summarize(topicPlan),
		func(out *stageOutcome) (*models.DraftCandidates, error) {
			if w.llm != nil {
				prompt := w.buildPrompt(topicPlan, threadPlan, style, materials)
				raw, err := llm.ChatWithRetry(ctx, w.llm, prompt)
				if err == nil {
					var cands models.DraftCandidates
					if jsonErr := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &cands); jsonErr == nil && len(cands.Candidates) > 0 {
						return &cands, nil
					}
					err = fmt.Errorf("unusable writer output")
				}
				llm.LogFallback("Writer", err)
				out.Warnings = append(out.Warnings, "llm fallback: "+truncateErr(err, 200))
			}
			return fallbackCandidates(topicPlan, threadPlan), nil
		})
	return candidates, log
}

func (w *Writer) buildPrompt(topicPlan *models.TopicPlan, threadPlan *models.ThreadPlan, style models.StyleProfile, materials *models.Materials) string {
	common := fmt.Sprintf(`Materials (facts only):
- git subjects: %s
- devlog: %s
- notes: %s
- links: %s
`,
		mustJSON(gitSubjects(materials, 50)),
		devlogExcerpt(materials, 2000),
		mustJSON(noteSnippets(materials, 20)),
		mustJSON(linkSummaries(materials, 20)))

	if !threadPlan.Enabled {
		return fmt.Sprintf(`You are a ghostwriter for a senior full-stack engineer building in public.

%s
Topic angles: %s
Key points: %s

Personal style:
- preferred_openers: %s
- forbidden_phrases: %s
- sentence_length_preference: %s
- tone_rules: %s
- formatting_rules: %s

Hard rules:
- No emojis. No hashtags. No marketing tone.
- Do not invent facts. If materials are empty, produce a reflection and clearly label it as opinion.
- Each candidate must be <= %d characters.

Return JSON only:
{"candidates": [{"mode":"single","text":"..."},{"mode":"single","text":"..."},{"mode":"single","text":"..."}]}`,
			common, mustJSON(topicPlan.Angles), mustJSON(topicPlan.KeyPoints),
			mustJSON(style.PreferredOpeners), mustJSON(style.ForbiddenPhrases),
			style.SentenceLengthPreference, mustJSON(style.ToneRules), mustJSON(style.FormattingRules),
			singleCandidateLimit)
	}

	return fmt.Sprintf(`You are a ghostwriter for an X thread (2-5 tweets).

%s
Thread plan: tweets_count=%d; tweet_key_points=%s
Personal style:
- preferred_openers: %s
- forbidden_phrases: %s

Hard rules:
- No emojis. No hashtags. No marketing tone.
- Do not invent facts. If materials are empty, produce opinions and label them as opinion.
- Produce 3 candidate threads; each thread is a list of %d tweets.
- Each tweet must be <= %d characters (leaving space for numbering if enabled).

Return JSON only:
{"candidates": [
  {"mode":"thread","tweets":["...","..."]},
  {"mode":"thread","tweets":["...","..."]},
  {"mode":"thread","tweets":["...","..."]}
]}`,
		common, threadPlan.TweetsCount, mustJSON(threadPlan.TweetKeyPoints),
		mustJSON(style.PreferredOpeners), mustJSON(style.ForbiddenPhrases),
		threadPlan.TweetsCount, threadCandidateLimit)
}

// fallbackCandidates composes a single candidate straight from the topic
// plan's key points.
func fallbackCandidates(topicPlan *models.TopicPlan, threadPlan *models.ThreadPlan) *models.DraftCandidates {
	if threadPlan.Enabled {
		tweets := make([]string, 0, threadPlan.TweetsCount)
		for i := range threadPlan.TweetsCount {
			var point string
			if i < len(topicPlan.KeyPoints) {
				point = topicPlan.KeyPoints[i]
			} else if len(topicPlan.KeyPoints) > 0 {
				point = topicPlan.KeyPoints[len(topicPlan.KeyPoints)-1]
			}
			tweets = append(tweets, clampText(point, threadCandidateLimit))
		}
		return &models.DraftCandidates{Candidates: []models.DraftCandidate{
			{Mode: models.ModeThread, Tweets: tweets},
		}}
	}

	text := strings.Join(topicPlan.KeyPoints, " ")
	if text == "" && len(topicPlan.Angles) > 0 {
		text = topicPlan.Angles[0]
	}
	return &models.DraftCandidates{Candidates: []models.DraftCandidate{
		{Mode: models.ModeSingle, Text: clampText(text, singleCandidateLimit)},
	}}
}

// clampText truncates at a rune-safe boundary.
func clampText(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
