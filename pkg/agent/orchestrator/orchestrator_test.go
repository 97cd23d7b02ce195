package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/agent"
	"github.com/songyu-ren/xagent/pkg/config"
	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/notify"
	"github.com/songyu-ren/xagent/pkg/publish"
	"github.com/songyu-ren/xagent/pkg/services"
	testdb "github.com/songyu-ren/xagent/test/database"
)

// scriptedChatter routes prompts to canned stage outputs and counts writer
// invocations.
type scriptedChatter struct {
	mu          sync.Mutex
	writerCalls int
	writerText  string
}

func (s *scriptedChatter) Chat(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(prompt, "content strategist"):
		return `{"topic_bucket":1,"angles":["shipping log"],"key_points":["fixed the login redirect bug"],"evidence_map":{}}`, nil
	case strings.Contains(prompt, "ghostwriter"):
		s.writerCalls++
		return `{"candidates":[{"mode":"single","text":"` + s.writerText + `"}]}`, nil
	case strings.Contains(prompt, "senior editor"):
		return `{"mode":"single","selected_candidate_index":0,"original":{"mode":"single","text":"` +
			s.writerText + `"},"final_text":"` + s.writerText + `","numbering_added":false,"edit_notes":""}`, nil
	default:
		return `{}`, nil
	}
}

func (s *scriptedChatter) WriterCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writerCalls
}

type socialStub struct{}

func (socialStub) CreateTweet(context.Context, string, string) (string, error) {
	return "tw-live", nil
}

func newTestOrchestrator(t *testing.T, client *database.Client, chatter *scriptedChatter) (*Orchestrator, Services, *config.Settings) {
	t.Helper()
	dir := t.TempDir()
	devlog := filepath.Join(dir, "devlog.md")
	require.NoError(t, os.WriteFile(devlog, []byte("fixed the login redirect bug and shipped it"), 0o644))

	t.Setenv("GIT_REPO_PATH", dir)
	t.Setenv("DEVLOG_PATH", devlog)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("BLOCKED_TERMS_PATH", filepath.Join(dir, "absent.yaml"))

	settings, err := config.Load()
	require.NoError(t, err)

	svc := Services{
		Runs:      services.NewRunService(client),
		Drafts:    services.NewDraftService(client),
		Posts:     services.NewPostService(client),
		Tokens:    services.NewTokenService(client),
		Styles:    services.NewStyleService(client),
		Reports:   services.NewReportService(client),
		AppConfig: services.NewConfigService(client),
	}
	stages := Stages{
		Collector:     agent.NewCollector(settings.GitRepoPath, settings.DevlogPath, nil),
		Curator:       agent.NewCurator(chatter),
		ThreadPlanner: agent.NewThreadPlanner(chatter),
		Writer:        agent.NewWriter(chatter),
		Critic:        agent.NewCritic(chatter),
		Policy:        agent.NewPolicyEngine(nil),
		StyleAnalyst:  agent.NewStyleAnalyst(chatter),
		WeeklyAnalyst: agent.NewWeeklyAnalyst(chatter),
	}
	notifier := notify.NewNotifier(settings.BasePublicURL, nil, nil)
	coordinator := publish.NewCoordinator(client, svc.Posts, socialStub{}, true)

	return New(settings, svc, stages, notifier, coordinator), svc, settings
}

func TestOrchestrator_HappyPath(t *testing.T) {
	client := testdb.NewTestClient(t)
	chatter := &scriptedChatter{writerText: "Fixed the login redirect bug and shipped it"}
	orch, svc, _ := newTestOrchestrator(t, client, chatter)
	ctx := context.Background()

	runID, err := orch.StartRun(ctx, "test", "")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := svc.Runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.True(t, run.FinishedAt.Valid)
	assert.True(t, run.DurationMS.Valid)

	logs, err := svc.Runs.AgentLogsForRun(ctx, runID)
	require.NoError(t, err)
	stageNames := make([]string, 0, len(logs))
	for _, l := range logs {
		stageNames = append(stageNames, l.AgentName)
	}
	assert.Equal(t, []string{"Collector", "Curator", "ThreadPlanner", "Writer", "Critic", "Policy", "Notifier"}, stageNames)

	// Exactly one draft, pending, with PASS policy.
	draft, err := svc.Drafts.GetDraft(ctx, services.DraftIDForRun(runID))
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusPending, draft.Status)
	report, err := draft.PolicyReport()
	require.NoError(t, err)
	assert.Equal(t, models.ActionPass, report.Action)

	// Single writer pass on a clean draft.
	assert.Equal(t, 1, chatter.WriterCalls())

	t.Run("approve publishes in dry-run", func(t *testing.T) {
		result := orch.ApproveByDraftID(ctx, draft.ID)
		require.Equal(t, 200, result.Code, result.Message)

		reloaded, err := svc.Drafts.GetDraft(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DraftStatusDryRunPosted, reloaded.Status)
		assert.True(t, reloaded.TokenConsumed)

		records, err := svc.Posts.PostsForDraft(ctx, draft.ID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, services.PublishIdempotencyKey(draft.ID, 1), records[0].IdempotencyKey)
	})

	t.Run("second approve is idempotent", func(t *testing.T) {
		result := orch.ApproveByDraftID(ctx, draft.ID)
		assert.Equal(t, 200, result.Code)
		assert.Contains(t, result.Message, "already")
	})
}

func TestOrchestrator_RewriteBound(t *testing.T) {
	client := testdb.NewTestClient(t)
	// Tone check flags the exaggeration on every iteration, forcing REWRITE
	// until the bound is hit.
	chatter := &scriptedChatter{writerText: "The performance win today was insane and massive"}
	orch, svc, settings := newTestOrchestrator(t, client, chatter)
	require.Equal(t, 1, settings.RewriteMax)
	ctx := context.Background()

	runID, err := orch.StartRun(ctx, "test", "")
	require.NoError(t, err)

	// Writer ran REWRITE_MAX+1 times.
	assert.Equal(t, 2, chatter.WriterCalls())

	draft, err := svc.Drafts.GetDraft(ctx, services.DraftIDForRun(runID))
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusNeedsAttention, draft.Status)

	t.Run("approve refuses a failing draft", func(t *testing.T) {
		result := orch.ApproveByDraftID(ctx, draft.ID)
		assert.Equal(t, 403, result.Code)
	})
}

func TestOrchestrator_TokenActions(t *testing.T) {
	client := testdb.NewTestClient(t)
	chatter := &scriptedChatter{writerText: "Fixed the login redirect bug and shipped it"}
	orch, svc, _ := newTestOrchestrator(t, client, chatter)
	ctx := context.Background()
	now := time.Now().UTC()

	runID, err := orch.StartRun(ctx, "test", "")
	require.NoError(t, err)
	draft, err := svc.Drafts.GetDraft(ctx, services.DraftIDForRun(runID))
	require.NoError(t, err)

	t.Run("unknown token is 404", func(t *testing.T) {
		result := orch.Approve(ctx, "not-a-real-token")
		assert.Equal(t, 404, result.Code)
	})

	t.Run("expired token is 410 and mutates nothing", func(t *testing.T) {
		raw, err := svc.Tokens.IssueToken(ctx, draft.ID, models.TokenActionApprove, now.Add(-time.Hour), now.Add(-2*time.Hour))
		require.NoError(t, err)

		result := orch.Approve(ctx, raw)
		assert.Equal(t, 410, result.Code)

		reloaded, err := svc.Drafts.GetDraft(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DraftStatusPending, reloaded.Status)
		assert.False(t, reloaded.TokenConsumed)
	})

	t.Run("edit updates text and re-runs policy", func(t *testing.T) {
		raw, err := svc.Tokens.IssueToken(ctx, draft.ID, models.TokenActionEdit, now.Add(time.Hour), now)
		require.NoError(t, err)

		result := orch.Edit(ctx, raw, []string{"Fixed the login redirect bug and shipped it today"})
		require.Equal(t, 200, result.Code, result.Message)
		require.NotNil(t, result.Report)
		assert.Equal(t, models.ActionPass, result.Report.Action)

		// An edit that trips policy flips the draft to needs_human_attention.
		result = orch.Edit(ctx, raw, []string{"This insane rewrite guarantees massive growth for everyone"})
		require.Equal(t, 200, result.Code)
		assert.Equal(t, models.ActionRewrite, result.Report.Action)

		reloaded, err := svc.Drafts.GetDraft(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DraftStatusNeedsAttention, reloaded.Status)
	})

	t.Run("skip consumes the draft once", func(t *testing.T) {
		raw, err := svc.Tokens.IssueToken(ctx, draft.ID, models.TokenActionSkip, now.Add(time.Hour), now)
		require.NoError(t, err)

		result := orch.Skip(ctx, raw)
		require.Equal(t, 200, result.Code)

		reloaded, err := svc.Drafts.GetDraft(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DraftStatusSkipped, reloaded.Status)
		assert.True(t, reloaded.TokenConsumed)

		// The one-time token cannot be replayed.
		result = orch.Skip(ctx, raw)
		assert.Equal(t, 200, result.Code)
		assert.Equal(t, "already processed", result.Message)
	})
}

func TestOrchestrator_Regenerate(t *testing.T) {
	client := testdb.NewTestClient(t)
	chatter := &scriptedChatter{writerText: "Fixed the login redirect bug and shipped it"}
	orch, svc, _ := newTestOrchestrator(t, client, chatter)
	ctx := context.Background()
	now := time.Now().UTC()

	runID, err := orch.StartRun(ctx, "test", "")
	require.NoError(t, err)
	draft, err := svc.Drafts.GetDraft(ctx, services.DraftIDForRun(runID))
	require.NoError(t, err)

	writerBefore := chatter.WriterCalls()
	raw, err := svc.Tokens.IssueToken(ctx, draft.ID, models.TokenActionRegenerate, now.Add(time.Hour), now)
	require.NoError(t, err)

	result := orch.Regenerate(ctx, raw)
	require.Equal(t, 200, result.Code, result.Message)
	assert.Equal(t, writerBefore+1, chatter.WriterCalls())

	// Regenerate reuses the stored topic plan and materials; the token is
	// multi-use, so a second call also succeeds.
	result = orch.Regenerate(ctx, raw)
	assert.Equal(t, 200, result.Code)
}
