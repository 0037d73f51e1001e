// internal/domains/repokeeper/collector.go
package repokeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
)

// Collector observes one GitHub repository: open pull requests with their CI
// status, open issues, and any messages peers have dropped into the inbox.
// Each source degrades independently; the repository being fully unreachable
// still produces a snapshot with every section marked unavailable.
type Collector struct {
	logger *zap.Logger
	api    RepoAPI
	inbox  *inbox.Inbox
	cfg    config.RepokeeperConfig
}

// NewCollector builds the repokeeper observation collector. The inbox may be
// nil when no ingress is configured.
func NewCollector(logger *zap.Logger, api RepoAPI, ibx *inbox.Inbox, cfg config.RepokeeperConfig) *Collector {
	return &Collector{
		logger: logger.Named("collector"),
		api:    api,
		inbox:  ibx,
		cfg:    cfg,
	}
}

func (c *Collector) Observe(ctx context.Context) (schemas.Snapshot, error) {
	snap := schemas.Snapshot{TakenAt: time.Now().UTC()}

	var (
		pulls  []*github.PullRequest
		issues []*github.Issue

		pullSection   schemas.SnapshotSection
		statusSection schemas.SnapshotSection
		issueSection  schemas.SnapshotSection
	)

	// Sources run concurrently but never abort each other; failures land in
	// the section's Err field instead.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		pulls, err = c.api.ListOpenPulls(gctx)
		if err != nil {
			pullSection = schemas.SnapshotSection{Name: "pull_requests", Err: err.Error()}
			statusSection = schemas.SnapshotSection{Name: "ci_status", Err: "skipped: pull request listing failed"}
			return nil
		}
		pullSection = schemas.SnapshotSection{Name: "pull_requests", Content: renderPulls(pulls)}
		statusSection = c.observeStatuses(gctx, pulls)
		return nil
	})

	g.Go(func() error {
		var err error
		issues, err = c.api.ListOpenIssues(gctx)
		if err != nil {
			issueSection = schemas.SnapshotSection{Name: "issues", Err: err.Error()}
			return nil
		}
		issueSection = schemas.SnapshotSection{Name: "issues", Content: renderIssues(issues)}
		return nil
	})

	_ = g.Wait()

	snap.Sections = []schemas.SnapshotSection{pullSection, statusSection, issueSection}
	snap.Proposals = append(proposalsFromPulls(pulls), proposalsFromIssues(issues)...)

	if c.inbox != nil {
		snap.Messages = c.inbox.DrainAll()
	}

	c.logger.Debug("Observation complete",
		zap.Int("pulls", len(pulls)),
		zap.Int("issues", len(issues)),
		zap.Int("messages", len(snap.Messages)))
	return snap, nil
}

// observeStatuses fetches the combined CI status for each open pull request's
// head. A single failed status lookup degrades only that line.
func (c *Collector) observeStatuses(ctx context.Context, pulls []*github.PullRequest) schemas.SnapshotSection {
	if len(pulls) == 0 {
		return schemas.SnapshotSection{Name: "ci_status", Content: "(no open pull requests)"}
	}

	var b strings.Builder
	for _, pr := range pulls {
		sha := pr.GetHead().GetSHA()
		if sha == "" {
			continue
		}
		status, err := c.api.CombinedStatus(ctx, sha)
		if err != nil {
			fmt.Fprintf(&b, "PR #%d: status unavailable (%v)\n", pr.GetNumber(), err)
			continue
		}
		fmt.Fprintf(&b, "PR #%d: %s (%d checks)\n",
			pr.GetNumber(), status.GetState(), status.GetTotalCount())
	}
	return schemas.SnapshotSection{Name: "ci_status", Content: strings.TrimRight(b.String(), "\n")}
}

func renderPulls(pulls []*github.PullRequest) string {
	if len(pulls) == 0 {
		return "(no open pull requests)"
	}
	var b strings.Builder
	for _, pr := range pulls {
		fmt.Fprintf(&b, "PR #%d %q by %s, updated %s, draft=%t\n",
			pr.GetNumber(), pr.GetTitle(), pr.GetUser().GetLogin(),
			pr.GetUpdatedAt().Format(time.RFC3339), pr.GetDraft())
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderIssues(issues []*github.Issue) string {
	if len(issues) == 0 {
		return "(no open issues)"
	}
	var b strings.Builder
	for _, issue := range issues {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.GetName())
		}
		fmt.Fprintf(&b, "Issue #%d %q by %s, updated %s, labels=[%s]\n",
			issue.GetNumber(), issue.GetTitle(), issue.GetUser().GetLogin(),
			issue.GetUpdatedAt().Format(time.RFC3339), strings.Join(labels, ","))
	}
	return strings.TrimRight(b.String(), "\n")
}

func proposalsFromPulls(pulls []*github.PullRequest) []schemas.WorkItemProposal {
	proposals := make([]schemas.WorkItemProposal, 0, len(pulls))
	for _, pr := range pulls {
		proposals = append(proposals, schemas.WorkItemProposal{
			Source:    "github_pr",
			SourceRef: PullRef(pr.GetNumber()),
			Payload: map[string]string{
				"title":      pr.GetTitle(),
				"url":        pr.GetHTMLURL(),
				"updated_at": pr.GetUpdatedAt().Format(time.RFC3339),
			},
		})
	}
	return proposals
}

func proposalsFromIssues(issues []*github.Issue) []schemas.WorkItemProposal {
	proposals := make([]schemas.WorkItemProposal, 0, len(issues))
	for _, issue := range issues {
		proposals = append(proposals, schemas.WorkItemProposal{
			Source:    "github_issue",
			SourceRef: IssueRef(issue.GetNumber()),
			Payload: map[string]string{
				"title":      issue.GetTitle(),
				"url":        issue.GetHTMLURL(),
				"updated_at": issue.GetUpdatedAt().Format(time.RFC3339),
			},
		})
	}
	return proposals
}
