// Package agent implements the generation pipeline stages. Each stage is a
// pure transformation over the accumulated run state; the only side effect is
// the AgentLog it emits.
package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/songyu-ren/xagent/pkg/models"
)

// stageOutcome collects what a stage reports back besides its output.
type stageOutcome struct {
	ModelUsed string
	Warnings  []string
}

// runStage wraps a stage body with timing, logging, and AgentLog capture.
// The stage's error is recorded on the log and returned as-is.
func runStage[T any](name, inputSummary string, fn func(out *stageOutcome) (T, error)) (T, models.AgentLog, error) {
	start := time.Now().UTC()
	slog.Info("Stage starting", "stage", name)

	outcome := &stageOutcome{}
	result, err := fn(outcome)

	end := time.Now().UTC()
	log := models.AgentLog{
		AgentName:     name,
		StartTS:       start,
		EndTS:         end,
		DurationMS:    int(end.Sub(start).Milliseconds()),
		InputSummary:  inputSummary,
		OutputSummary: summarize(result),
		ModelUsed:     outcome.ModelUsed,
		Warnings:      outcome.Warnings,
	}
	if err != nil {
		log.Errors = err.Error()
		slog.Error("Stage failed", "stage", name, "duration_ms", log.DurationMS, "error", err)
	} else {
		slog.Info("Stage finished", "stage", name, "duration_ms", log.DurationMS)
	}
	return result, log, err
}

// summarize renders a compact description of a stage output for the log.
func summarize(v any) string {
	switch t := v.(type) {
	case nil:
		return "none"
	case *models.Materials:
		if t == nil {
			return "none"
		}
		return fmt.Sprintf("Materials(git_commits=%d, notes=%d, links=%d, errors=%d)",
			len(t.GitCommits), len(t.Notes), len(t.Links), len(t.Errors))
	case *models.TopicPlan:
		if t == nil {
			return "none"
		}
		return fmt.Sprintf("TopicPlan(bucket=%d, angles=%d, key_points=%d)",
			t.TopicBucket, len(t.Angles), len(t.KeyPoints))
	case *models.ThreadPlan:
		if t == nil {
			return "none"
		}
		return fmt.Sprintf("ThreadPlan(enabled=%v, tweets=%d)", t.Enabled, t.TweetsCount)
	case *models.DraftCandidates:
		if t == nil {
			return "none"
		}
		return fmt.Sprintf("DraftCandidates(len=%d)", len(t.Candidates))
	case *models.EditedDraft:
		if t == nil {
			return "none"
		}
		return fmt.Sprintf("EditedDraft(mode=%s, tweets=%d)", t.Mode, len(t.FinalTweets))
	case *models.PolicyReport:
		if t == nil {
			return "none"
		}
		return fmt.Sprintf("PolicyReport(action=%s, risk=%s, checks=%d)",
			t.Action, t.RiskLevel, len(t.Checks))
	case *models.WeeklyReport:
		if t == nil {
			return "none"
		}
		return "WeeklyReport"
	default:
		return fmt.Sprintf("%T", v)
	}
}
