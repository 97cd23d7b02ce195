package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/songyu-ren/xagent/pkg/models"
)

// GitHubSource pulls recently closed issues and merged pull requests from a
// single repository.
type GitHubSource struct {
	client *github.Client
	owner  string
	repo   string
	window time.Duration
}

// NewGitHubSource creates a source for "owner/repo". The token may be empty
// for public repositories.
func NewGitHubSource(token, ownerRepo string) (*GitHubSource, error) {
	parts := strings.SplitN(ownerRepo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid GITHUB_REPO %q, expected owner/repo", ownerRepo)
	}
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubSource{
		client: client,
		owner:  parts[0],
		repo:   parts[1],
		window: 24 * time.Hour,
	}, nil
}

// Name implements Source.
func (s *GitHubSource) Name() string { return "github" }

// Fetch implements Source.
func (s *GitHubSource) Fetch(ctx context.Context) ([]models.EvidenceItem, error) {
	since := time.Now().UTC().Add(-s.window)
	issues, _, err := s.client.Issues.ListByRepo(ctx, s.owner, s.repo, &github.IssueListByRepoOptions{
		State:       "closed",
		Since:       since,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, fmt.Errorf("github list issues: %w", err)
	}

	items := make([]models.EvidenceItem, 0, len(issues))
	for _, issue := range issues {
		if issue.GetClosedAt().Before(since) {
			continue
		}
		kind := "issue"
		if issue.IsPullRequest() {
			kind = "pr"
		}
		items = append(items, models.EvidenceItem{
			SourceName: s.Name(),
			SourceID:   fmt.Sprintf("%s/%s#%d", s.owner, s.repo, issue.GetNumber()),
			Timestamp:  issue.GetClosedAt().Time,
			RawSnippet: fmt.Sprintf("closed %s: %s", kind, issue.GetTitle()),
			Title:      issue.GetTitle(),
			URL:        issue.GetHTMLURL(),
		})
	}
	return items, nil
}
