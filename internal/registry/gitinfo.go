package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
)

// GitInfo is read-only metadata about a service's upstream repository. It
// is not stored on the catalog entry; the orchestrator only logs its
// DisplayString. A lookup failure or a non-GitHub host simply means an
// empty GitInfo —
// never fatal, since this is cosmetic.
type GitInfo struct {
	DefaultBranch string
	LatestCommit  string
	UpdatedAt     time.Time
}

// FetchGitInfo looks up repository metadata for gitURL if it points at
// github.com; any other host, a malformed URL, or an API error yields a
// zero-value GitInfo (this enrichment never blocks boot).
func FetchGitInfo(ctx context.Context, client *github.Client, gitURL string) GitInfo {
	owner, repo, ok := parseGitHubURL(gitURL)
	if !ok {
		return GitInfo{}
	}

	repository, _, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return GitInfo{}
	}

	info := GitInfo{DefaultBranch: repository.GetDefaultBranch()}
	if repository.PushedAt != nil {
		info.UpdatedAt = repository.PushedAt.Time
	}

	branch, _, err := client.Repositories.GetBranch(ctx, owner, repo, info.DefaultBranch, 1)
	if err == nil && branch != nil && branch.Commit != nil {
		info.LatestCommit = branch.Commit.GetSHA()
	}
	return info
}

func parseGitHubURL(raw string) (owner, repo string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	if !strings.EqualFold(u.Host, "github.com") {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

// DisplayString is a human-readable one-liner for CLI/dashboard output.
func (g GitInfo) DisplayString() string {
	if g.DefaultBranch == "" {
		return ""
	}
	commit := g.LatestCommit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("%s@%s", g.DefaultBranch, commit)
}
