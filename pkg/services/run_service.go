package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
)

// RunService manages run lifecycle and the per-run agent logs.
type RunService struct {
	client *database.Client
}

// NewRunService creates a new RunService.
func NewRunService(client *database.Client) *RunService {
	return &RunService{client: client}
}

// CreateRun inserts a run in the running state. Re-creating an existing
// run id is a no-op so scheduler retries stay idempotent.
func (s *RunService) CreateRun(ctx context.Context, runID, source string, createdAt time.Time) error {
	if runID == "" {
		return NewValidationError("run_id", "required")
	}
	if source == "" {
		source = "scheduler"
	}
	_, err := s.client.ExecContext(ctx, `
		INSERT INTO runs (run_id, source, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO NOTHING`,
		runID, source, models.RunStatusRunning, createdAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *RunService) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var run RunRecord
	err := s.client.GetContext(ctx, &run, `SELECT * FROM runs WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// FinalizeRun writes the terminal status exactly once. The last error is
// truncated to the column width.
func (s *RunService) FinalizeRun(ctx context.Context, runID, status string, startedAt, finishedAt time.Time, lastError string) error {
	durationMS := int(finishedAt.Sub(startedAt).Milliseconds())
	var errVal any
	if lastError != "" {
		errVal = truncate(lastError, 500)
	}
	_, err := s.client.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, finished_at = $2, duration_ms = $3, last_error = $4
		WHERE run_id = $5`,
		status, finishedAt, durationMS, errVal, runID)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	return nil
}

// ReplaceAgentLogs atomically replaces the agent logs for a run. Called
// after each stage so a crash leaves the latest persisted prefix.
func (s *RunService) ReplaceAgentLogs(ctx context.Context, runID string, logs []models.AgentLog) error {
	tx, err := s.client.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_logs WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear agent logs: %w", err)
	}
	for _, l := range logs {
		warnings := l.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		warningsJSON, err := json.Marshal(warnings)
		if err != nil {
			return fmt.Errorf("failed to marshal warnings: %w", err)
		}
		var modelUsed, errMsg any
		if l.ModelUsed != "" {
			modelUsed = l.ModelUsed
		}
		if l.Errors != "" {
			errMsg = truncate(l.Errors, 500)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_logs (run_id, agent_name, start_ts, end_ts, duration_ms,
				input_summary, output_summary, model_used, errors, warnings_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			runID, l.AgentName, l.StartTS, l.EndTS, l.DurationMS,
			truncate(l.InputSummary, 200), truncate(l.OutputSummary, 200),
			modelUsed, errMsg, warningsJSON)
		if err != nil {
			return fmt.Errorf("failed to insert agent log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AgentLogsForRun returns the stage logs of a run in execution order.
func (s *RunService) AgentLogsForRun(ctx context.Context, runID string) ([]AgentLogRecord, error) {
	var logs []AgentLogRecord
	err := s.client.SelectContext(ctx, &logs,
		`SELECT * FROM agent_logs WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent logs: %w", err)
	}
	return logs, nil
}

// RunsByStatus returns run counts grouped by status.
func (s *RunService) RunsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.client.QueryContext(ctx,
		`SELECT status, COUNT(run_id) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to group runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan run counts: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}

// AvgRunDurationMS returns the average duration of finished runs.
func (s *RunService) AvgRunDurationMS(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.client.GetContext(ctx, &avg,
		`SELECT AVG(duration_ms) FROM runs WHERE duration_ms IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to compute average duration: %w", err)
	}
	return avg.Float64, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
