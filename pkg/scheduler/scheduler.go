// Package scheduler wires the cron triggers: the daily generation run, the
// weekly style refresh, and the weekly report.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/songyu-ren/xagent/pkg/config"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/queue"
)

// StyleUpdater and ReportGenerator are the orchestrator entry points the
// scheduler invokes besides run submission.
type StyleUpdater interface {
	UpdateStyleProfile(ctx context.Context) error
}

// ReportGenerator produces the weekly report.
type ReportGenerator interface {
	GenerateWeeklyReport(ctx context.Context) (*models.WeeklyReport, error)
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron *cron.Cron
	pool *queue.WorkerPool
}

// New builds the scheduler with the configured cadences.
func New(settings *config.Settings, pool *queue.WorkerPool, style StyleUpdater, reports ReportGenerator) (*Scheduler, error) {
	c := cron.New()

	if _, err := c.AddFunc(settings.ScheduleCron, func() {
		if _, err := pool.Enqueue("scheduler"); err != nil {
			slog.Error("Failed to enqueue scheduled run", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_CRON %q: %w", settings.ScheduleCron, err)
	}

	if _, err := c.AddFunc(settings.StyleCron, func() {
		if err := style.UpdateStyleProfile(context.Background()); err != nil {
			slog.Error("Scheduled style update failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid STYLE_CRON %q: %w", settings.StyleCron, err)
	}

	if _, err := c.AddFunc(settings.WeeklyReportCron, func() {
		if _, err := reports.GenerateWeeklyReport(context.Background()); err != nil {
			slog.Error("Scheduled weekly report failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid WEEKLY_REPORT_CRON %q: %w", settings.WeeklyReportCron, err)
	}

	return &Scheduler{cron: c, pool: pool}, nil
}

// Start begins firing cron entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the cron instance, waiting for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}
