package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/config"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/queue"
)

type nopJobs struct{}

func (nopJobs) UpdateStyleProfile(context.Context) error { return nil }
func (nopJobs) GenerateWeeklyReport(context.Context) (*models.WeeklyReport, error) {
	return &models.WeeklyReport{}, nil
}

type nopExecutor struct{}

func (nopExecutor) StartRun(_ context.Context, _, runID string) (string, error) {
	return runID, nil
}

func TestNew(t *testing.T) {
	pool := queue.NewWorkerPool(1, 1, nopExecutor{})

	t.Run("builds with valid cron specs", func(t *testing.T) {
		settings := &config.Settings{
			ScheduleCron:     "0 9 * * *",
			StyleCron:        "30 8 * * 1",
			WeeklyReportCron: "0 10 * * 1",
		}
		s, err := New(settings, pool, nopJobs{}, nopJobs{})
		require.NoError(t, err)
		require.NotNil(t, s)
	})

	t.Run("rejects malformed specs", func(t *testing.T) {
		settings := &config.Settings{
			ScheduleCron:     "not a cron",
			StyleCron:        "30 8 * * 1",
			WeeklyReportCron: "0 10 * * 1",
		}
		_, err := New(settings, pool, nopJobs{}, nopJobs{})
		assert.Error(t, err)
	})
}
