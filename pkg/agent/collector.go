package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/songyu-ren/xagent/pkg/models"
	"github.com/songyu-ren/xagent/pkg/sources"
)

// devlogTailChars bounds how much of the devlog is carried as evidence.
const devlogTailChars = 2000

// Collector gathers evidence from the local git repository, the devlog file,
// and any enabled source adapters. It never fails: per-source errors land in
// Materials.Errors.
type Collector struct {
	gitRepoPath string
	devlogPath  string
	sources     []sources.Source
}

// NewCollector creates a collector over the configured evidence providers.
func NewCollector(gitRepoPath, devlogPath string, srcs []sources.Source) *Collector {
	return &Collector{
		gitRepoPath: gitRepoPath,
		devlogPath:  devlogPath,
		sources:     srcs,
	}
}

// Execute runs the collection and returns the materials plus its stage log.
func (c *Collector) Execute(ctx context.Context) (*models.Materials, models.AgentLog) {
	materials, log, _ := runStage("Collector", fmt.Sprintf("sources=%d", len(c.sources)),
		func(out *stageOutcome) (*models.Materials, error) {
			m := &models.Materials{
				GitCommits: c.collectGitCommits(ctx, 24),
				Devlog:     c.collectDevlog(),
				Errors:     []string{},
			}
			for _, src := range c.sources {
				items, err := src.Fetch(ctx)
				if err != nil {
					msg := fmt.Sprintf("source:%s failed: %s", src.Name(), truncateErr(err, 200))
					m.Errors = append(m.Errors, msg)
					out.Warnings = append(out.Warnings, msg)
					continue
				}
				for _, item := range items {
					if item.URL != "" {
						m.Links = append(m.Links, item)
					} else {
						m.Notes = append(m.Notes, item)
					}
				}
			}
			return m, nil
		})
	return materials, log
}

// collectGitCommits shells out to git log for the trailing window. A missing
// repository or git failure yields no commits, not an error.
func (c *Collector) collectGitCommits(ctx context.Context, hours int) []models.EvidenceItem {
	if _, err := os.Stat(filepath.Join(c.gitRepoPath, ".git")); err != nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "-C", c.gitRepoPath, "log",
		fmt.Sprintf("--since=%dhours", hours), "--pretty=format:%H|%ct|%s")
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var items []models.EvidenceItem
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		commitHash, epochStr, subject := parts[0], parts[1], parts[2]
		ts := time.Now().UTC()
		if epoch, err := strconv.ParseInt(epochStr, 10, 64); err == nil {
			ts = time.Unix(epoch, 0).UTC()
		}
		items = append(items, models.EvidenceItem{
			SourceName: "git",
			SourceID:   commitHash,
			Timestamp:  ts,
			RawSnippet: subject,
			Title:      subject,
		})
	}
	return items
}

// collectDevlog tails the devlog file. Absent or unreadable files yield nil.
func (c *Collector) collectDevlog() *models.EvidenceItem {
	info, err := os.Stat(c.devlogPath)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(c.devlogPath)
	if err != nil {
		return nil
	}
	content := string(data)
	if len(content) > devlogTailChars {
		content = content[len(content)-devlogTailChars:]
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	abs, err := filepath.Abs(c.devlogPath)
	if err != nil {
		abs = c.devlogPath
	}
	return &models.EvidenceItem{
		SourceName: "devlog",
		SourceID:   abs,
		Timestamp:  info.ModTime().UTC(),
		RawSnippet: content,
		Title:      filepath.Base(c.devlogPath),
	}
}

func truncateErr(err error, n int) string {
	s := err.Error()
	if len(s) > n {
		return s[:n]
	}
	return s
}
