package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/songyu-ren/xagent/pkg/metrics"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/services"
)

// ActionResult is the outcome of an externally invoked draft action, carrying
// an HTTP-style code for the admin surface to translate.
type ActionResult struct {
	Code    int
	Message string
	Report  *models.PolicyReport
	Draft   *services.DraftRecord
}

// resolveForAction maps token resolution outcomes onto caller-visible codes.
// A nil result means the token resolved and the action may proceed.
func (o *Orchestrator) resolveForAction(ctx context.Context, action, rawToken string) (*services.DraftRecord, *services.ActionTokenRecord, *ActionResult) {
	now := time.Now().UTC()
	draft, token, status, err := o.svc.Tokens.Resolve(ctx, action, rawToken, now)
	if err != nil {
		slog.Error("Token resolution failed", "action", action, "error", err)
		return nil, nil, &ActionResult{Code: 500, Message: "internal error"}
	}
	switch status {
	case services.ResolveNotFound:
		return nil, nil, &ActionResult{Code: 404, Message: "not found"}
	case services.ResolveExpired:
		return nil, nil, &ActionResult{Code: 410, Message: "expired"}
	case services.ResolveConsumed:
		return nil, nil, &ActionResult{Code: 200, Message: "already processed"}
	}
	return draft, token, nil
}

// Approve validates the approve token, re-checks policy from the stored
// snapshots, and hands the draft to the publish coordinator.
func (o *Orchestrator) Approve(ctx context.Context, rawToken string) ActionResult {
	draft, _, failure := o.resolveForAction(ctx, models.TokenActionApprove, rawToken)
	if failure != nil {
		return *failure
	}
	return o.approveDraft(ctx, draft)
}

// ApproveByDraftID is the admin-session entry point; the approve token is
// still consumed by the publish lease so the emailed link dies with the act.
func (o *Orchestrator) ApproveByDraftID(ctx context.Context, draftID string) ActionResult {
	draft, err := o.svc.Drafts.GetDraft(ctx, draftID)
	if err != nil {
		code, msg := errToCode(err)
		return ActionResult{Code: code, Message: msg}
	}
	return o.approveDraft(ctx, draft)
}

func (o *Orchestrator) approveDraft(ctx context.Context, draft *services.DraftRecord) ActionResult {
	if draft.IsTerminal() {
		return ActionResult{Code: 200, Message: fmt.Sprintf("already %s", draft.Status)}
	}
	if time.Now().UTC().After(draft.ExpiresAt) {
		return ActionResult{Code: 410, Message: "expired"}
	}

	report, err := o.reloadPolicy(ctx, draft)
	if err != nil {
		return ActionResult{Code: 500, Message: "internal error"}
	}
	if report.Action != models.ActionPass {
		return ActionResult{Code: 403, Message: "policy check failed", Report: report}
	}

	edited, err := draft.EditedDraft()
	if err != nil {
		slog.Error("Corrupted draft snapshot", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}
	tweets := edited.TweetList()

	result, err := o.coordinator.Publish(ctx, draft, tweets)
	if err != nil {
		code, msg := errToCode(err)
		if code >= 500 {
			slog.Error("Publish failed", "draft_id", draft.ID, "error", err)
		}
		return ActionResult{Code: code, Message: msg}
	}
	metrics.DraftsPublished.Inc()
	return ActionResult{Code: 200, Message: fmt.Sprintf("published: %v", result.TweetIDs)}
}

// Resume re-enters a publish attempt that a crash or failure left behind.
func (o *Orchestrator) Resume(ctx context.Context, draftID string) ActionResult {
	draft, err := o.svc.Drafts.GetDraft(ctx, draftID)
	if err != nil {
		code, msg := errToCode(err)
		return ActionResult{Code: code, Message: msg}
	}
	if draft.IsTerminal() {
		return ActionResult{Code: 200, Message: fmt.Sprintf("already %s", draft.Status)}
	}

	edited, err := draft.EditedDraft()
	if err != nil {
		return ActionResult{Code: 500, Message: "internal error"}
	}
	result, err := o.coordinator.Resume(ctx, draft, edited.TweetList())
	if err != nil {
		code, msg := errToCode(err)
		return ActionResult{Code: code, Message: msg}
	}
	return ActionResult{Code: 200, Message: fmt.Sprintf("published: %v", result.TweetIDs)}
}

// Edit replaces the draft texts and re-runs policy over the stored snapshots.
func (o *Orchestrator) Edit(ctx context.Context, rawToken string, newTexts []string) ActionResult {
	draft, _, failure := o.resolveForAction(ctx, models.TokenActionEdit, rawToken)
	if failure != nil {
		return *failure
	}
	if draft.TokenConsumed {
		return ActionResult{Code: 409, Message: "already consumed"}
	}

	if err := o.svc.Drafts.UpdateTexts(ctx, draft, newTexts); err != nil {
		if services.IsValidationError(err) {
			return ActionResult{Code: 400, Message: err.Error()}
		}
		slog.Error("Edit failed", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}

	report, err := o.reloadPolicy(ctx, draft)
	if err != nil {
		return ActionResult{Code: 500, Message: "internal error"}
	}
	if err := o.svc.Drafts.UpdatePolicyReport(ctx, draft.ID, report, time.Now().UTC()); err != nil {
		slog.Error("Failed to store policy report", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}
	return ActionResult{Code: 200, Message: "updated", Report: report}
}

// Regenerate reruns writer, critic, and policy reusing the stored topic plan
// and materials.
func (o *Orchestrator) Regenerate(ctx context.Context, rawToken string) ActionResult {
	draft, _, failure := o.resolveForAction(ctx, models.TokenActionRegenerate, rawToken)
	if failure != nil {
		return *failure
	}
	if draft.TokenConsumed {
		return ActionResult{Code: 409, Message: "already consumed"}
	}

	materials, err := draft.Materials()
	if err != nil {
		slog.Error("Corrupted draft snapshot", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}
	topicPlan, err := draft.TopicPlan()
	if err != nil {
		slog.Error("Corrupted draft snapshot", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}
	style := draft.StyleProfile()
	threadPlan := draft.ThreadPlan()

	recentPosts, err := o.svc.Posts.RecentPosts(ctx, o.settings.RecentPostsDays, 200)
	if err != nil {
		return ActionResult{Code: 500, Message: "internal error"}
	}

	candidates, _ := o.stages.Writer.Execute(ctx, topicPlan, &threadPlan, style, materials)
	edited, _ := o.stages.Critic.Execute(ctx, candidates, materials, style, &threadPlan)

	input := o.policyInput(ctx, materials, recentPosts, style)
	input.Edited = edited
	report, _ := o.stages.Policy.Execute(ctx, input)

	if err := o.svc.Drafts.UpdateGeneration(ctx, draft.ID, candidates, edited, report, style, threadPlan, time.Now().UTC()); err != nil {
		slog.Error("Failed to store regeneration", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}
	return ActionResult{Code: 200, Message: "regenerated", Report: report}
}

// Skip consumes the draft without publishing.
func (o *Orchestrator) Skip(ctx context.Context, rawToken string) ActionResult {
	draft, token, failure := o.resolveForAction(ctx, models.TokenActionSkip, rawToken)
	if failure != nil {
		return *failure
	}
	now := time.Now().UTC()
	if err := o.svc.Drafts.MarkSkipped(ctx, draft.ID, now); err != nil {
		if err == services.ErrTokenConsumed {
			return ActionResult{Code: 409, Message: "already consumed"}
		}
		slog.Error("Skip failed", "draft_id", draft.ID, "error", err)
		return ActionResult{Code: 500, Message: "internal error"}
	}
	if err := o.svc.Tokens.Consume(ctx, token, now); err != nil {
		slog.Warn("Failed to consume skip token", "draft_id", draft.ID, "error", err)
	}
	return ActionResult{Code: 200, Message: "skipped"}
}

// View returns the draft for a view token without mutating anything.
func (o *Orchestrator) View(ctx context.Context, rawToken string) ActionResult {
	draft, _, failure := o.resolveForAction(ctx, models.TokenActionView, rawToken)
	if failure != nil {
		return *failure
	}
	return ActionResult{Code: 200, Message: "ok", Draft: draft}
}

// reloadPolicy deterministically re-evaluates policy from the draft's stored
// snapshots and the current recent-post window.
func (o *Orchestrator) reloadPolicy(ctx context.Context, draft *services.DraftRecord) (*models.PolicyReport, error) {
	materials, err := draft.Materials()
	if err != nil {
		slog.Error("Corrupted draft snapshot", "draft_id", draft.ID, "error", err)
		return nil, err
	}
	edited, err := draft.EditedDraft()
	if err != nil {
		slog.Error("Corrupted draft snapshot", "draft_id", draft.ID, "error", err)
		return nil, err
	}
	recentPosts, err := o.svc.Posts.RecentPosts(ctx, o.settings.RecentPostsDays, 200)
	if err != nil {
		return nil, err
	}

	input := o.policyInput(ctx, materials, recentPosts, draft.StyleProfile())
	input.Edited = edited
	return o.stages.Policy.Evaluate(ctx, input), nil
}

// readDevlogTail returns the trailing chars of the devlog file, or empty.
func readDevlogTail(path string, limit int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
