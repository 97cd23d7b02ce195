// Package orchestrator drives the generation pipeline end to end: collect,
// curate, plan, write, criticize, and gate through policy, persisting
// progress after every stage and bounding the rewrite loop. It also hosts the
// externally invoked draft actions (approve, edit, skip, regenerate, resume).
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/songyu-ren/xagent/pkg/agent"
	"github.com/songyu-ren/xagent/pkg/config"
	"github.com/songyu-ren/xagent/pkg/metrics"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/notify"
	"github.com/songyu-ren/xagent/pkg/publish"
	"github.com/songyu-ren/xagent/pkg/services"
)

// Stages groups the pipeline stage implementations.
type Stages struct {
	Collector     *agent.Collector
	Curator       *agent.Curator
	ThreadPlanner *agent.ThreadPlanner
	Writer        *agent.Writer
	Critic        *agent.Critic
	Policy        *agent.PolicyEngine
	StyleAnalyst  *agent.StyleAnalyst
	WeeklyAnalyst *agent.WeeklyAnalyst
}

// Services groups the persistence services the orchestrator writes through.
type Services struct {
	Runs      *services.RunService
	Drafts    *services.DraftService
	Posts     *services.PostService
	Tokens    *services.TokenService
	Styles    *services.StyleService
	Reports   *services.ReportService
	AppConfig *services.ConfigService
}

// Orchestrator owns runs from creation to finalization.
type Orchestrator struct {
	settings    *config.Settings
	svc         Services
	stages      Stages
	notifier    *notify.Notifier
	coordinator *publish.Coordinator
}

// New creates an orchestrator.
func New(settings *config.Settings, svc Services, stages Stages, notifier *notify.Notifier, coordinator *publish.Coordinator) *Orchestrator {
	return &Orchestrator{
		settings:    settings,
		svc:         svc,
		stages:      stages,
		notifier:    notifier,
		coordinator: coordinator,
	}
}

// StartRun creates a run, executes the pipeline, and finalizes the run
// exactly once. The run id is returned even when the pipeline fails; the
// failure lands on the run row.
func (o *Orchestrator) StartRun(ctx context.Context, source, runID string) (string, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	startedAt := time.Now().UTC()
	if err := o.svc.Runs.CreateRun(ctx, runID, source, startedAt); err != nil {
		return "", err
	}
	metrics.RunsStarted.WithLabelValues(source).Inc()

	state := &models.RunState{RunID: runID, Source: source, CreatedAt: startedAt}
	var logs []models.AgentLog

	err := o.executeWorkflow(ctx, state, &logs)
	finishedAt := time.Now().UTC()
	if err != nil {
		slog.Error("Run failed", "run_id", runID, "error", err)
		metrics.RunsFinished.WithLabelValues(models.RunStatusFailed).Inc()
		if finalizeErr := o.svc.Runs.FinalizeRun(ctx, runID, models.RunStatusFailed, startedAt, finishedAt, err.Error()); finalizeErr != nil {
			slog.Error("Failed to finalize run", "run_id", runID, "error", finalizeErr)
		}
		return runID, err
	}

	metrics.RunsFinished.WithLabelValues(models.RunStatusCompleted).Inc()
	metrics.RunDuration.Observe(finishedAt.Sub(startedAt).Seconds())
	if err := o.svc.Runs.FinalizeRun(ctx, runID, models.RunStatusCompleted, startedAt, finishedAt, ""); err != nil {
		slog.Error("Failed to finalize run", "run_id", runID, "error", err)
	}
	return runID, nil
}

// executeWorkflow runs the stage sequence, saving logs after every stage.
func (o *Orchestrator) executeWorkflow(ctx context.Context, state *models.RunState, logs *[]models.AgentLog) error {
	appendLog := func(l models.AgentLog) {
		*logs = append(*logs, l)
		if err := o.svc.Runs.ReplaceAgentLogs(ctx, state.RunID, *logs); err != nil {
			slog.Warn("Failed to persist agent logs", "run_id", state.RunID, "error", err)
		}
	}

	materials, log := o.stages.Collector.Execute(ctx)
	state.Materials = materials
	appendLog(log)

	recentPosts, err := o.svc.Posts.RecentPosts(ctx, o.settings.RecentPostsDays, 200)
	if err != nil {
		return fmt.Errorf("loading recent posts: %w", err)
	}
	state.RecentPosts = recentPosts

	topicPlan, log := o.stages.Curator.Execute(ctx, materials, recentPosts)
	state.TopicPlan = topicPlan
	appendLog(log)

	style, err := o.svc.Styles.LatestProfile(ctx)
	if err != nil {
		return fmt.Errorf("loading style profile: %w", err)
	}
	state.StyleProfile = &style

	threadPlan, log := o.stages.ThreadPlanner.Execute(ctx, topicPlan, materials, style, o.threadSettings(ctx))
	state.ThreadPlan = threadPlan
	appendLog(log)

	rewriteMax := o.svc.AppConfig.GetInt(ctx, "REWRITE_MAX", o.settings.RewriteMax)
	policyInput := o.policyInput(ctx, materials, recentPosts, style)

	for {
		candidates, log := o.stages.Writer.Execute(ctx, topicPlan, threadPlan, style, materials)
		state.Candidates = candidates
		appendLog(log)

		edited, log := o.stages.Critic.Execute(ctx, candidates, materials, style, threadPlan)
		state.EditedDraft = edited
		appendLog(log)

		policyInput.Edited = edited
		report, log := o.stages.Policy.Execute(ctx, policyInput)
		state.PolicyReport = report
		appendLog(log)

		if report.Action == models.ActionPass {
			break
		}
		if report.Action == models.ActionRewrite && state.Rewrites < rewriteMax {
			state.Rewrites++
			slog.Info("Policy requested rewrite",
				"run_id", state.RunID, "rewrite", state.Rewrites, "max", rewriteMax)
			continue
		}
		break
	}

	draft, tokens, err := o.createDraft(ctx, state)
	if err != nil {
		return err
	}
	state.DraftID = draft.ID

	record := &models.ApprovedDraftRecord{
		DraftID:      draft.ID,
		ApproveToken: tokens[models.TokenActionApprove],
		EditToken:    tokens[models.TokenActionEdit],
		SkipToken:    tokens[models.TokenActionSkip],
		ViewToken:    tokens[models.TokenActionView],
		Mode:         state.EditedDraft.Mode,
		Text:         state.EditedDraft.FinalText,
		Tweets:       state.EditedDraft.FinalTweets,
		PolicyReport: *state.PolicyReport,
	}
	_, log = o.notifier.Execute(ctx, record)
	appendLog(log)

	return nil
}

// createDraft persists the pipeline output and issues the action token set.
func (o *Orchestrator) createDraft(ctx context.Context, state *models.RunState) (*services.DraftRecord, map[string]string, error) {
	now := time.Now().UTC()
	ttlHours := o.svc.AppConfig.GetInt(ctx, "TOKEN_TTL_HOURS", o.settings.TokenTTLHours)
	expiresAt := now.Add(time.Duration(ttlHours) * time.Hour)

	draft, err := o.svc.Drafts.CreateDraft(ctx, services.CreateDraftRequest{
		RunID:        state.RunID,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		Materials:    state.Materials,
		TopicPlan:    state.TopicPlan,
		StyleProfile: *state.StyleProfile,
		ThreadPlan:   *state.ThreadPlan,
		Candidates:   state.Candidates,
		EditedDraft:  state.EditedDraft,
		PolicyReport: state.PolicyReport,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating draft: %w", err)
	}

	tokens, err := o.svc.Tokens.IssueDraftTokens(ctx, draft.ID, draft.ExpiresAt, now)
	if err != nil {
		return nil, nil, fmt.Errorf("issuing action tokens: %w", err)
	}
	metrics.DraftsCreated.WithLabelValues(draft.Status).Inc()
	slog.Info("Draft created", "run_id", state.RunID, "draft_id", draft.ID, "status", draft.Status)
	return draft, tokens, nil
}

// threadSettings resolves the thread policy with app_config overrides.
func (o *Orchestrator) threadSettings(ctx context.Context) agent.ThreadSettings {
	return agent.ThreadSettings{
		Enabled:          o.svc.AppConfig.GetBool(ctx, "THREAD_ENABLED", o.settings.ThreadEnabled),
		MaxTweets:        o.svc.AppConfig.GetInt(ctx, "THREAD_MAX_TWEETS", o.settings.ThreadMaxTweets),
		NumberingEnabled: o.svc.AppConfig.GetBool(ctx, "THREAD_NUMBERING_ENABLED", o.settings.ThreadNumberingEnabled),
	}
}

// policyInput assembles the deterministic inputs of a policy evaluation.
// Blocked terms come from the file, with an app_config override replacing the
// file contents when present.
func (o *Orchestrator) policyInput(ctx context.Context, materials *models.Materials, recentPosts []string, style models.StyleProfile) agent.PolicyInput {
	blocked := config.LoadBlockedTerms(o.settings.BlockedTermsPath)
	if override := o.svc.AppConfig.GetString(ctx, "BLOCKED_TERMS", ""); override != "" {
		if terms, err := config.ParseBlockedTermsYAML(override); err == nil && len(terms) > 0 {
			blocked = terms
		}
	}
	return agent.PolicyInput{
		Materials:           materials,
		RecentPosts:         recentPosts,
		Style:               style,
		BlockedTerms:        blocked,
		SimilarityThreshold: o.svc.AppConfig.GetFloat(ctx, "SIMILARITY_THRESHOLD", o.settings.SimilarityThreshold),
	}
}

// UpdateStyleProfile relearns the style profile from recent posts and the
// devlog tail, persisting the result.
func (o *Orchestrator) UpdateStyleProfile(ctx context.Context) error {
	posts, err := o.svc.Posts.RecentPosts(ctx, 365, o.settings.StyleInputPosts)
	if err != nil {
		return fmt.Errorf("loading posts for style update: %w", err)
	}
	devlog := readDevlogTail(o.settings.DevlogPath, 2000)

	profile, _ := o.stages.StyleAnalyst.Execute(ctx, posts, devlog)
	if err := o.svc.Styles.SaveProfile(ctx, profile, time.Now().UTC()); err != nil {
		return err
	}
	writeStyleCache(profile)
	slog.Info("Style profile updated", "posts", len(posts))
	return nil
}

// writeStyleCache drops a local copy of the profile for inspection.
// Best-effort; the database row is authoritative.
func writeStyleCache(profile models.StyleProfile) {
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := os.WriteFile("style_profile.json", data, 0o644); err != nil {
		slog.Warn("Failed to write style cache", "error", err)
	}
}

// GenerateWeeklyReport summarizes the trailing week and persists the report.
func (o *Orchestrator) GenerateWeeklyReport(ctx context.Context) (*models.WeeklyReport, error) {
	now := time.Now().UTC()
	weekStart := now.AddDate(0, 0, -7)

	posts, err := o.svc.Posts.PostsInWindow(ctx, weekStart, now)
	if err != nil {
		return nil, fmt.Errorf("loading posts for weekly report: %w", err)
	}
	report, _ := o.stages.WeeklyAnalyst.Execute(ctx, weekStart, now, posts)
	if err := o.svc.Reports.SaveWeeklyReport(ctx, report, now); err != nil {
		return nil, err
	}
	slog.Info("Weekly report generated", "posts", len(posts))
	return report, nil
}

// errToCode maps coordinator errors onto HTTP-style numeric codes.
func errToCode(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrAlreadyExists):
		return 200, "already processed"
	case errors.Is(err, services.ErrPublishInProgress):
		return 409, "publish_in_progress"
	case errors.Is(err, services.ErrPreviousAttemptFailed):
		return 409, "previous_attempt_failed; use resume"
	case errors.Is(err, services.ErrNotFound):
		return 404, "not found"
	case services.IsValidationError(err):
		return 400, err.Error()
	default:
		return 500, "publish failed"
	}
}
