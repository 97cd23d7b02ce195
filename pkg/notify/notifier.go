// Package notify delivers draft review links to the reviewer over email and
// Slack. Delivery is best-effort: failures are reported back so the
// orchestrator can record them as warnings, never as run failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/songyu-ren/xagent/pkg/metrics"
	"github.com/songyu-ren/xagent/pkg/models"
)

// Channel is one outbound notification transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, record *models.ApprovedDraftRecord) error
}

// Notifier fans a draft record out to the configured channels.
type Notifier struct {
	baseURL string
	email   Channel
	slack   Channel
}

// NewNotifier creates a notifier. Either channel may be nil (disabled).
func NewNotifier(baseURL string, email, slack Channel) *Notifier {
	return &Notifier{baseURL: strings.TrimRight(baseURL, "/"), email: email, slack: slack}
}

// Execute sends the record on every enabled channel and returns the delivery
// outcomes plus a stage log entry.
func (n *Notifier) Execute(ctx context.Context, record *models.ApprovedDraftRecord) (*models.NotificationResult, models.AgentLog) {
	start := time.Now().UTC()
	result := &models.NotificationResult{Errors: []string{}}
	warnings := []string{}

	if n.email != nil {
		if err := n.email.Send(ctx, record); err != nil {
			msg := fmt.Sprintf("email_failed:%s", truncate(err.Error(), 200))
			result.Errors = append(result.Errors, msg)
			warnings = append(warnings, msg)
			metrics.NotificationFailures.WithLabelValues("email").Inc()
			slog.Error("Email notification failed", "draft_id", record.DraftID, "error", err)
		} else {
			result.EmailSent = true
		}
	}
	if n.slack != nil {
		if err := n.slack.Send(ctx, record); err != nil {
			msg := fmt.Sprintf("slack_failed:%s", truncate(err.Error(), 200))
			result.Errors = append(result.Errors, msg)
			warnings = append(warnings, msg)
			metrics.NotificationFailures.WithLabelValues("slack").Inc()
			slog.Error("Slack notification failed", "draft_id", record.DraftID, "error", err)
		} else {
			result.SlackSent = true
		}
	}

	end := time.Now().UTC()
	log := models.AgentLog{
		AgentName:     "Notifier",
		StartTS:       start,
		EndTS:         end,
		DurationMS:    int(end.Sub(start).Milliseconds()),
		InputSummary:  fmt.Sprintf("draft=%s", record.DraftID),
		OutputSummary: fmt.Sprintf("email=%v slack=%v", result.EmailSent, result.SlackSent),
		Warnings:      warnings,
	}
	return result, log
}

// ActionLinks renders the token-bearing review URLs for a record.
func ActionLinks(baseURL string, record *models.ApprovedDraftRecord) (approve, edit, skip string) {
	base := strings.TrimRight(baseURL, "/")
	approve = fmt.Sprintf("%s/approve/%s", base, record.ApproveToken)
	edit = fmt.Sprintf("%s/edit/%s", base, record.EditToken)
	skip = fmt.Sprintf("%s/skip/%s", base, record.SkipToken)
	return approve, edit, skip
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
