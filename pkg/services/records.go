package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/models"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID      string         `db:"run_id"`
	Source     string         `db:"source"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
	DurationMS sql.NullInt64  `db:"duration_ms"`
	LastError  sql.NullString `db:"last_error"`
}

// DraftRecord is one row of the drafts table. JSON columns hold the pipeline
// snapshots verbatim for post-hoc inspection and regenerate/edit flows.
type DraftRecord struct {
	ID             string       `db:"id"`
	RunID          string       `db:"run_id"`
	CreatedAt      time.Time    `db:"created_at"`
	ExpiresAt      time.Time    `db:"expires_at"`
	Status         string       `db:"status"`
	TokenConsumed  bool         `db:"token_consumed"`
	ConsumedAt     sql.NullTime `db:"consumed_at"`
	ThreadEnabled  bool         `db:"thread_enabled"`
	ThreadPlanJSON []byte       `db:"thread_plan_json"`
	TweetsJSON     []byte       `db:"tweets_json"`

	MaterialsJSON    []byte `db:"materials_json"`
	TopicPlanJSON    []byte `db:"topic_plan_json"`
	StyleProfileJSON []byte `db:"style_profile_json"`
	CandidatesJSON   []byte `db:"candidates_json"`
	EditedDraftJSON  []byte `db:"edited_draft_json"`
	PolicyReportJSON []byte `db:"policy_report_json"`

	FinalText             string         `db:"final_text"`
	PublishedTweetIDsJSON []byte         `db:"published_tweet_ids_json"`
	LastError             sql.NullString `db:"last_error"`
	ApprovalKey           sql.NullString `db:"approval_idempotency_key"`
}

// Materials decodes the stored materials snapshot.
func (d *DraftRecord) Materials() (*models.Materials, error) {
	var m models.Materials
	if err := json.Unmarshal(d.MaterialsJSON, &m); err != nil {
		return nil, fmt.Errorf("corrupted materials_json for draft %s: %w", d.ID, err)
	}
	return &m, nil
}

// TopicPlan decodes the stored topic plan snapshot.
func (d *DraftRecord) TopicPlan() (*models.TopicPlan, error) {
	var p models.TopicPlan
	if err := json.Unmarshal(d.TopicPlanJSON, &p); err != nil {
		return nil, fmt.Errorf("corrupted topic_plan_json for draft %s: %w", d.ID, err)
	}
	return &p, nil
}

// StyleProfile decodes the stored style snapshot, falling back to the default
// profile when the column is unreadable.
func (d *DraftRecord) StyleProfile() models.StyleProfile {
	var s models.StyleProfile
	if err := json.Unmarshal(d.StyleProfileJSON, &s); err != nil {
		return models.DefaultStyleProfile()
	}
	return s
}

// ThreadPlan decodes the stored thread plan; a missing column yields a
// single-tweet plan.
func (d *DraftRecord) ThreadPlan() models.ThreadPlan {
	if len(d.ThreadPlanJSON) == 0 {
		return models.ThreadPlan{Enabled: false, TweetsCount: 1}
	}
	var p models.ThreadPlan
	if err := json.Unmarshal(d.ThreadPlanJSON, &p); err != nil {
		return models.ThreadPlan{Enabled: false, TweetsCount: 1}
	}
	return p
}

// EditedDraft decodes the stored edited draft, with final_text and tweets_json
// layered on top (edits update those columns, not the snapshot).
func (d *DraftRecord) EditedDraft() (*models.EditedDraft, error) {
	var e models.EditedDraft
	if err := json.Unmarshal(d.EditedDraftJSON, &e); err != nil {
		return nil, fmt.Errorf("corrupted edited_draft_json for draft %s: %w", d.ID, err)
	}
	e.FinalText = d.FinalText
	if len(d.TweetsJSON) > 0 {
		var tweets []string
		if err := json.Unmarshal(d.TweetsJSON, &tweets); err == nil {
			e.FinalTweets = tweets
		}
	}
	return &e, nil
}

// PolicyReport decodes the latest stored policy report.
func (d *DraftRecord) PolicyReport() (*models.PolicyReport, error) {
	var r models.PolicyReport
	if err := json.Unmarshal(d.PolicyReportJSON, &r); err != nil {
		return nil, fmt.Errorf("corrupted policy_report_json for draft %s: %w", d.ID, err)
	}
	return &r, nil
}

// PublishedTweetIDs decodes the published id list; nil when unpublished.
func (d *DraftRecord) PublishedTweetIDs() []string {
	if len(d.PublishedTweetIDsJSON) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(d.PublishedTweetIDsJSON, &ids); err != nil {
		return nil
	}
	return ids
}

// IsTerminal reports whether the draft reached a consumed end state.
func (d *DraftRecord) IsTerminal() bool {
	switch d.Status {
	case models.DraftStatusPosted, models.DraftStatusDryRunPosted, models.DraftStatusSkipped:
		return true
	}
	return false
}

// PostRecord is one row of the posts table: one published tweet.
type PostRecord struct {
	ID             int64     `db:"id"`
	DraftID        string    `db:"draft_id"`
	Position       int       `db:"position"`
	TweetID        string    `db:"tweet_id"`
	Content        string    `db:"content"`
	PostedAt       time.Time `db:"posted_at"`
	IdempotencyKey string    `db:"publish_idempotency_key"`
}

// PublishAttemptRecord is one row of publish_attempts. The unique
// (draft_id, attempt) index is the publish lock.
type PublishAttemptRecord struct {
	ID          int64          `db:"id"`
	DraftID     string         `db:"draft_id"`
	Attempt     int            `db:"attempt"`
	Owner       sql.NullString `db:"owner"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	LastError   sql.NullString `db:"last_error"`
}

// ActionTokenRecord is one row of action_tokens. Only the SHA-256 of the
// bearer string is stored.
type ActionTokenRecord struct {
	ID         int64        `db:"id"`
	DraftID    string       `db:"draft_id"`
	Action     string       `db:"action"`
	TokenHash  string       `db:"token_hash"`
	CreatedAt  time.Time    `db:"created_at"`
	ExpiresAt  time.Time    `db:"expires_at"`
	OneTime    bool         `db:"one_time"`
	ConsumedAt sql.NullTime `db:"consumed_at"`
}

// AgentLogRecord is one row of agent_logs.
type AgentLogRecord struct {
	ID            int64          `db:"id"`
	RunID         string         `db:"run_id"`
	AgentName     string         `db:"agent_name"`
	StartTS       time.Time      `db:"start_ts"`
	EndTS         time.Time      `db:"end_ts"`
	DurationMS    int            `db:"duration_ms"`
	InputSummary  string         `db:"input_summary"`
	OutputSummary string         `db:"output_summary"`
	ModelUsed     sql.NullString `db:"model_used"`
	Errors        sql.NullString `db:"errors"`
	WarningsJSON  []byte         `db:"warnings_json"`
}

// UserRecord is one row of users.
type UserRecord struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

// UserSessionRecord is one row of user_sessions.
type UserSessionRecord struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	CSRFToken  string         `db:"csrf_token"`
	CreatedAt  time.Time      `db:"created_at"`
	ExpiresAt  time.Time      `db:"expires_at"`
	LastSeenAt sql.NullTime   `db:"last_seen_at"`
	IPAddress  sql.NullString `db:"ip_address"`
	UserAgent  sql.NullString `db:"user_agent"`
}

// AppConfigRecord is one row of app_config.
type AppConfigRecord struct {
	Key       string    `db:"key"`
	ValueJSON []byte    `db:"value_json"`
	UpdatedAt time.Time `db:"updated_at"`
}
