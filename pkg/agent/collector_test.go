package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/sources"
)

type stubSource struct {
	name  string
	items []models.EvidenceItem
	err   error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Fetch(context.Context) ([]models.EvidenceItem, error) {
	return s.items, s.err
}

var _ sources.Source = (*stubSource)(nil)

func TestCollector(t *testing.T) {
	ctx := context.Background()

	t.Run("reads devlog tail", func(t *testing.T) {
		dir := t.TempDir()
		devlog := filepath.Join(dir, "devlog.md")
		require.NoError(t, os.WriteFile(devlog, []byte("today I refactored the worker pool"), 0o644))

		collector := NewCollector(dir, devlog, nil)
		materials, log := collector.Execute(ctx)

		require.NotNil(t, materials.Devlog)
		assert.Equal(t, "devlog", materials.Devlog.SourceName)
		assert.Contains(t, materials.Devlog.RawSnippet, "worker pool")
		assert.Empty(t, materials.GitCommits) // no .git in temp dir
		assert.Equal(t, "Collector", log.AgentName)
	})

	t.Run("missing devlog is not an error", func(t *testing.T) {
		dir := t.TempDir()
		collector := NewCollector(dir, filepath.Join(dir, "absent.md"), nil)
		materials, _ := collector.Execute(ctx)
		assert.Nil(t, materials.Devlog)
		assert.Empty(t, materials.Errors)
	})

	t.Run("source failure lands in errors, never fatal", func(t *testing.T) {
		dir := t.TempDir()
		good := &stubSource{name: "notes", items: []models.EvidenceItem{
			{SourceName: "notes", SourceID: "n1", RawSnippet: "a note"},
		}}
		bad := &stubSource{name: "rss", err: errors.New("connection refused")}

		collector := NewCollector(dir, filepath.Join(dir, "absent.md"), []sources.Source{good, bad})
		materials, log := collector.Execute(ctx)

		assert.Len(t, materials.Notes, 1)
		require.Len(t, materials.Errors, 1)
		assert.Contains(t, materials.Errors[0], "source:rss failed")
		assert.NotEmpty(t, log.Warnings)
	})

	t.Run("items with urls become links", func(t *testing.T) {
		dir := t.TempDir()
		src := &stubSource{name: "rss", items: []models.EvidenceItem{
			{SourceName: "rss", SourceID: "u1", RawSnippet: "a post", URL: "https://example.com/p"},
			{SourceName: "rss", SourceID: "n2", RawSnippet: "plain"},
		}}
		collector := NewCollector(dir, filepath.Join(dir, "absent.md"), []sources.Source{src})
		materials, _ := collector.Execute(ctx)

		assert.Len(t, materials.Links, 1)
		assert.Len(t, materials.Notes, 1)
	})
}

func TestDevlogTailTruncation(t *testing.T) {
	dir := t.TempDir()
	devlog := filepath.Join(dir, "devlog.md")
	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(devlog, big, 0o644))

	collector := NewCollector(dir, devlog, nil)
	materials, _ := collector.Execute(context.Background())
	require.NotNil(t, materials.Devlog)
	assert.Len(t, materials.Devlog.RawSnippet, devlogTailChars)
}
