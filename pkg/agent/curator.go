package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/models"
)

// Curator chooses the day's topic plan from the collected materials. When
// materials are empty or the LLM path fails, it falls back to a reflection
// plan.
type Curator struct {
	llm llm.Chatter
}

// NewCurator creates the curator stage.
func NewCurator(chatter llm.Chatter) *Curator {
	return &Curator{llm: chatter}
}

// Execute produces the topic plan and its stage log.
func (c *Curator) Execute(ctx context.Context, materials *models.Materials, recentPosts []string) (*models.TopicPlan, models.AgentLog) {
	plan, log, _ := runStage("Curator", summarize(materials),
		func(out *stageOutcome) (*models.TopicPlan, error) {
			if c.llm == nil || materials.IsEmpty() {
				return reflectionPlan(), nil
			}
			prompt := c.buildPrompt(materials, recentPosts)
			raw, err := llm.ChatWithRetry(ctx, c.llm, prompt)
			if err != nil {
				llm.LogFallback("Curator", err)
				out.Warnings = append(out.Warnings, "llm fallback: "+truncateErr(err, 200))
				return reflectionPlan(), nil
			}
			var plan models.TopicPlan
			if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &plan); err != nil {
				llm.LogFallback("Curator", err)
				out.Warnings = append(out.Warnings, "llm parse fallback")
				return reflectionPlan(), nil
			}
			if len(plan.KeyPoints) == 0 {
				return reflectionPlan(), nil
			}
			return &plan, nil
		})
	return plan, log
}

func (c *Curator) buildPrompt(materials *models.Materials, recentPosts []string) string {
	return fmt.Sprintf(`You are a content strategist for a developer building in public.

Materials (last 24h):
- Git commit subjects: %s
- Devlog excerpt: %s
- Notes: %s
- Links: %s

Recent approved/posted texts (avoid repeating):
%s

Task:
- Choose a topic plan for today.
- If materials are empty, choose a reflection/lesson and clearly label it as an opinion.
- Produce 2-3 possible angles.

Output JSON only:
{
  "topic_bucket": 1,
  "angles": ["...", "..."],
  "key_points": ["...", "..."],
  "evidence_map": {
    "<key_point>": [{"source_name":"git|devlog|github|rss","source_id":"...","quote":"..."}]
  }
}`,
		mustJSON(gitSubjects(materials, 50)),
		devlogExcerpt(materials, 2000),
		mustJSON(noteSnippets(materials, 20)),
		mustJSON(linkSummaries(materials, 20)),
		mustJSON(clip(recentPosts, 50)))
}

// reflectionPlan is the deterministic fallback when there is nothing to
// curate from.
func reflectionPlan() *models.TopicPlan {
	return &models.TopicPlan{
		TopicBucket: 3,
		Angles:      []string{"A small reflection from today"},
		KeyPoints:   []string{"A small, honest reflection is better than a vague claim"},
		EvidenceMap: map[string][]models.EvidenceRef{},
	}
}

func gitSubjects(m *models.Materials, limit int) []string {
	out := make([]string, 0, limit)
	for _, c := range m.GitCommits {
		if len(out) >= limit {
			break
		}
		out = append(out, c.RawSnippet)
	}
	return out
}

func devlogExcerpt(m *models.Materials, limit int) string {
	if m.Devlog == nil {
		return ""
	}
	s := m.Devlog.RawSnippet
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func noteSnippets(m *models.Materials, limit int) []string {
	out := make([]string, 0, limit)
	for _, n := range m.Notes {
		if len(out) >= limit {
			break
		}
		out = append(out, n.RawSnippet)
	}
	return out
}

func linkSummaries(m *models.Materials, limit int) []string {
	out := make([]string, 0, limit)
	for _, l := range m.Links {
		if len(out) >= limit {
			break
		}
		s := l.Title
		if l.URL != "" {
			if s != "" {
				s += " "
			}
			s += l.URL
		}
		out = append(out, s)
	}
	return out
}

func clip(xs []string, limit int) []string {
	if len(xs) > limit {
		return xs[:limit]
	}
	return xs
}

// mustJSON renders a value for prompt interpolation. Inputs are always
// marshalable slices and maps of strings.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
