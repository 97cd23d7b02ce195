package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
)

// ReportService persists weekly reports.
type ReportService struct {
	client *database.Client
}

// NewReportService creates a new ReportService.
func NewReportService(client *database.Client) *ReportService {
	return &ReportService{client: client}
}

// SaveWeeklyReport inserts a report for its window. The unique
// (week_start, week_end) index makes duplicate generation idempotent.
func (s *ReportService) SaveWeeklyReport(ctx context.Context, report *models.WeeklyReport, now time.Time) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal weekly report: %w", err)
	}
	_, err = s.client.ExecContext(ctx, `
		INSERT INTO weekly_reports (week_start, week_end, created_at, report_json)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		report.WeekStart, report.WeekEnd, now, reportJSON)
	if err != nil {
		return fmt.Errorf("failed to save weekly report: %w", err)
	}
	return nil
}

// DraftsCount returns the total draft count.
func (s *ReportService) DraftsCount(ctx context.Context) (int, error) {
	var n int
	if err := s.client.GetContext(ctx, &n, `SELECT COUNT(id) FROM drafts`); err != nil {
		return 0, fmt.Errorf("failed to count drafts: %w", err)
	}
	return n, nil
}

// PostsCount returns the total published post count.
func (s *ReportService) PostsCount(ctx context.Context) (int, error) {
	var n int
	if err := s.client.GetContext(ctx, &n, `SELECT COUNT(id) FROM posts`); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}
