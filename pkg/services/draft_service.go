package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
)

// DraftService manages draft rows and their pipeline snapshots.
type DraftService struct {
	client *database.Client
}

// NewDraftService creates a new DraftService.
func NewDraftService(client *database.Client) *DraftService {
	return &DraftService{client: client}
}

// DraftIDForRun derives the stable draft id for a run. UUIDv5 over the run id
// keeps re-creation idempotent across retries of the same run.
func DraftIDForRun(runID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("draft_id:"+runID)).String()
}

// CreateDraftRequest carries everything persisted on a new draft.
type CreateDraftRequest struct {
	RunID        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Materials    *models.Materials
	TopicPlan    *models.TopicPlan
	StyleProfile models.StyleProfile
	ThreadPlan   models.ThreadPlan
	Candidates   *models.DraftCandidates
	EditedDraft  *models.EditedDraft
	PolicyReport *models.PolicyReport
}

// CreateDraft inserts the draft plus its initial policy report row in one
// transaction. Creation is idempotent: an existing draft for the run is
// returned unchanged.
func (s *DraftService) CreateDraft(ctx context.Context, req CreateDraftRequest) (*DraftRecord, error) {
	if req.RunID == "" {
		return nil, NewValidationError("run_id", "required")
	}
	if req.EditedDraft == nil || req.PolicyReport == nil {
		return nil, NewValidationError("edited_draft", "required")
	}

	draftID := DraftIDForRun(req.RunID)
	if existing, err := s.GetDraft(ctx, draftID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	status := models.DraftStatusPending
	if req.PolicyReport.Action != models.ActionPass {
		status = models.DraftStatusNeedsAttention
	}

	finalText := req.EditedDraft.FinalText
	var tweetsJSON []byte
	if req.EditedDraft.Mode == models.ModeThread && len(req.EditedDraft.FinalTweets) > 0 {
		var err error
		if tweetsJSON, err = json.Marshal(req.EditedDraft.FinalTweets); err != nil {
			return nil, fmt.Errorf("failed to marshal tweets: %w", err)
		}
		if finalText == "" {
			finalText = req.EditedDraft.FinalTweets[0]
		}
	}

	cols, err := marshalSnapshots(req)
	if err != nil {
		return nil, err
	}

	tx, err := s.client.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO drafts (id, run_id, created_at, expires_at, status,
			token_consumed, thread_enabled, thread_plan_json, tweets_json,
			materials_json, topic_plan_json, style_profile_json,
			candidates_json, edited_draft_json, policy_report_json, final_text)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		draftID, req.RunID, req.CreatedAt, req.ExpiresAt, status,
		req.EditedDraft.Mode == models.ModeThread, cols.threadPlan, tweetsJSON,
		cols.materials, cols.topicPlan, cols.style, cols.candidates, cols.edited, cols.report,
		finalText)
	if err != nil {
		if IsUniqueViolation(err) {
			// Lost a race with a retry of the same run; the winner's row is ours.
			_ = tx.Rollback()
			return s.GetDraft(ctx, draftID)
		}
		return nil, fmt.Errorf("failed to insert draft: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policy_reports (draft_id, created_at, action, risk_level, report_json)
		VALUES ($1, $2, $3, $4, $5)`,
		draftID, req.CreatedAt, req.PolicyReport.Action, req.PolicyReport.RiskLevel, cols.report)
	if err != nil {
		return nil, fmt.Errorf("failed to insert policy report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetDraft(ctx, draftID)
}

// GetDraft fetches a draft by id.
func (s *DraftService) GetDraft(ctx context.Context, draftID string) (*DraftRecord, error) {
	var d DraftRecord
	err := s.client.GetContext(ctx, &d, `SELECT * FROM drafts WHERE id = $1`, draftID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return &d, nil
}

// ListRecent returns draft summaries created since the cutoff, newest first.
func (s *DraftService) ListRecent(ctx context.Context, since time.Time, statusFilter string, limit int) ([]DraftRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT * FROM drafts WHERE created_at >= $1`
	args := []any{since}
	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	var drafts []DraftRecord
	if err := s.client.SelectContext(ctx, &drafts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// UpdateTexts replaces the reviewer-edited texts. For threads, blanks are
// dropped and the first tweet mirrors into final_text.
func (s *DraftService) UpdateTexts(ctx context.Context, draft *DraftRecord, newTexts []string) error {
	if draft.ThreadEnabled {
		tweets := make([]string, 0, len(newTexts))
		for _, t := range newTexts {
			if t = strings.TrimSpace(t); t != "" {
				tweets = append(tweets, t)
			}
		}
		if len(tweets) == 0 {
			return NewValidationError("texts", "at least one non-empty tweet required")
		}
		tweetsJSON, err := json.Marshal(tweets)
		if err != nil {
			return fmt.Errorf("failed to marshal tweets: %w", err)
		}
		_, err = s.client.ExecContext(ctx,
			`UPDATE drafts SET tweets_json = $1, final_text = $2 WHERE id = $3`,
			tweetsJSON, tweets[0], draft.ID)
		if err != nil {
			return fmt.Errorf("failed to update draft texts: %w", err)
		}
		draft.TweetsJSON = tweetsJSON
		draft.FinalText = tweets[0]
		return nil
	}

	if len(newTexts) == 0 || strings.TrimSpace(newTexts[0]) == "" {
		return NewValidationError("texts", "non-empty text required")
	}
	text := strings.TrimSpace(newTexts[0])
	_, err := s.client.ExecContext(ctx,
		`UPDATE drafts SET final_text = $1 WHERE id = $2`, text, draft.ID)
	if err != nil {
		return fmt.Errorf("failed to update draft text: %w", err)
	}
	draft.FinalText = text
	return nil
}

// UpdatePolicyReport stores a fresh report, recomputes the draft status, and
// appends a policy_reports history row.
func (s *DraftService) UpdatePolicyReport(ctx context.Context, draftID string, report *models.PolicyReport, now time.Time) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal policy report: %w", err)
	}
	status := models.DraftStatusPending
	if report.Action != models.ActionPass {
		status = models.DraftStatusNeedsAttention
	}

	tx, err := s.client.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE drafts SET policy_report_json = $1, status = $2 WHERE id = $3`,
		reportJSON, status, draftID); err != nil {
		return fmt.Errorf("failed to update policy report: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policy_reports (draft_id, created_at, action, risk_level, report_json)
		VALUES ($1, $2, $3, $4, $5)`,
		draftID, now, report.Action, report.RiskLevel, reportJSON); err != nil {
		return fmt.Errorf("failed to insert policy report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateGeneration replaces the generation artifacts after a regenerate.
func (s *DraftService) UpdateGeneration(
	ctx context.Context,
	draftID string,
	candidates *models.DraftCandidates,
	edited *models.EditedDraft,
	report *models.PolicyReport,
	style models.StyleProfile,
	threadPlan models.ThreadPlan,
	now time.Time,
) error {
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}
	editedJSON, err := json.Marshal(edited)
	if err != nil {
		return fmt.Errorf("failed to marshal edited draft: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal policy report: %w", err)
	}
	styleJSON, err := json.Marshal(style)
	if err != nil {
		return fmt.Errorf("failed to marshal style profile: %w", err)
	}
	threadPlanJSON, err := json.Marshal(threadPlan)
	if err != nil {
		return fmt.Errorf("failed to marshal thread plan: %w", err)
	}

	finalText := edited.FinalText
	var tweetsJSON []byte
	if edited.Mode == models.ModeThread && len(edited.FinalTweets) > 0 {
		if tweetsJSON, err = json.Marshal(edited.FinalTweets); err != nil {
			return fmt.Errorf("failed to marshal tweets: %w", err)
		}
		if finalText == "" {
			finalText = edited.FinalTweets[0]
		}
	}
	status := models.DraftStatusPending
	if report.Action != models.ActionPass {
		status = models.DraftStatusNeedsAttention
	}

	tx, err := s.client.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE drafts
		SET candidates_json = $1, edited_draft_json = $2, policy_report_json = $3,
			final_text = $4, tweets_json = $5, style_profile_json = $6,
			thread_plan_json = $7, status = $8
		WHERE id = $9`,
		candidatesJSON, editedJSON, reportJSON, finalText, tweetsJSON,
		styleJSON, threadPlanJSON, status, draftID); err != nil {
		return fmt.Errorf("failed to update draft generation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policy_reports (draft_id, created_at, action, risk_level, report_json)
		VALUES ($1, $2, $3, $4, $5)`,
		draftID, now, report.Action, report.RiskLevel, reportJSON); err != nil {
		return fmt.Errorf("failed to insert policy report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkSkipped consumes the draft into the skipped state.
func (s *DraftService) MarkSkipped(ctx context.Context, draftID string, now time.Time) error {
	res, err := s.client.ExecContext(ctx, `
		UPDATE drafts
		SET status = $1, token_consumed = TRUE, consumed_at = $2
		WHERE id = $3 AND token_consumed = FALSE`,
		models.DraftStatusSkipped, now, draftID)
	if err != nil {
		return fmt.Errorf("failed to mark draft skipped: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrTokenConsumed
	}
	return nil
}

type snapshotColumns struct {
	materials, topicPlan, style, candidates, edited, report, threadPlan []byte
}

func marshalSnapshots(req CreateDraftRequest) (*snapshotColumns, error) {
	var cols snapshotColumns
	var err error
	if cols.materials, err = json.Marshal(req.Materials); err != nil {
		return nil, fmt.Errorf("failed to marshal materials: %w", err)
	}
	if cols.topicPlan, err = json.Marshal(req.TopicPlan); err != nil {
		return nil, fmt.Errorf("failed to marshal topic plan: %w", err)
	}
	if cols.style, err = json.Marshal(req.StyleProfile); err != nil {
		return nil, fmt.Errorf("failed to marshal style profile: %w", err)
	}
	if cols.candidates, err = json.Marshal(req.Candidates); err != nil {
		return nil, fmt.Errorf("failed to marshal candidates: %w", err)
	}
	if cols.edited, err = json.Marshal(req.EditedDraft); err != nil {
		return nil, fmt.Errorf("failed to marshal edited draft: %w", err)
	}
	if cols.report, err = json.Marshal(req.PolicyReport); err != nil {
		return nil, fmt.Errorf("failed to marshal policy report: %w", err)
	}
	if cols.threadPlan, err = json.Marshal(req.ThreadPlan); err != nil {
		return nil, fmt.Errorf("failed to marshal thread plan: %w", err)
	}
	return &cols, nil
}
