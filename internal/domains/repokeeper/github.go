// internal/domains/repokeeper/github.go
package repokeeper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/custodian-cli/internal/config"
)

// RepoAPI is the slice of the GitHub surface the domain needs. Narrow on
// purpose so tests can fake it without a network.
type RepoAPI interface {
	ListOpenPulls(ctx context.Context) ([]*github.PullRequest, error)
	ListOpenIssues(ctx context.Context) ([]*github.Issue, error)
	GetPull(ctx context.Context, number int) (*github.PullRequest, error)
	GetIssue(ctx context.Context, number int) (*github.Issue, error)
	CombinedStatus(ctx context.Context, ref string) (*github.CombinedStatus, error)
	MergePull(ctx context.Context, number int) (string, error)
	CreateComment(ctx context.Context, number int, body string) error
	ClosePull(ctx context.Context, number int) error
	CloseIssue(ctx context.Context, number int) error
}

// ghAPI implements RepoAPI against api.github.com with client-side rate
// limiting and retry on transient failures.
type ghAPI struct {
	client  *github.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	owner   string
	repo    string
	timeout time.Duration
}

// NewRepoAPI builds the production GitHub client for the configured target.
func NewRepoAPI(logger *zap.Logger, cfg config.RepokeeperConfig) RepoAPI {
	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ghAPI{
		client:  client,
		logger:  logger.Named("github"),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		timeout: timeout,
	}
}

// call wraps one API operation with rate limiting, a per-call timeout, and
// exponential backoff on transient errors.
func (g *ghAPI) call(ctx context.Context, name string, op func(ctx context.Context) (*github.Response, error)) error {
	attempt := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := op(callCtx)
		if err == nil {
			return nil
		}
		if isTransient(resp, err) {
			g.logger.Debug("Transient GitHub error, will retry",
				zap.String("operation", name), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("github %s failed: %w", name, err)
	}
	return nil
}

// isTransient reports whether an API failure is worth retrying: rate limits
// and server-side errors are, everything else is not.
func isTransient(resp *github.Response, err error) bool {
	switch err.(type) {
	case *github.RateLimitError, *github.AbuseRateLimitError:
		return true
	}
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return true
	}
	return false
}

func (g *ghAPI) ListOpenPulls(ctx context.Context) ([]*github.PullRequest, error) {
	var pulls []*github.PullRequest
	err := g.call(ctx, "list pulls", func(ctx context.Context) (*github.Response, error) {
		opts := &github.PullRequestListOptions{
			State:       "open",
			ListOptions: github.ListOptions{PerPage: 50},
		}
		result, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, opts)
		pulls = result
		return resp, err
	})
	return pulls, err
}

func (g *ghAPI) ListOpenIssues(ctx context.Context) ([]*github.Issue, error) {
	var issues []*github.Issue
	err := g.call(ctx, "list issues", func(ctx context.Context) (*github.Response, error) {
		opts := &github.IssueListByRepoOptions{
			State:       "open",
			ListOptions: github.ListOptions{PerPage: 50},
		}
		result, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
		if err != nil {
			return resp, err
		}
		// The issues endpoint also returns pull requests.
		issues = issues[:0]
		for _, issue := range result {
			if !issue.IsPullRequest() {
				issues = append(issues, issue)
			}
		}
		return resp, nil
	})
	return issues, err
}

func (g *ghAPI) GetPull(ctx context.Context, number int) (*github.PullRequest, error) {
	var pull *github.PullRequest
	err := g.call(ctx, "get pull", func(ctx context.Context) (*github.Response, error) {
		result, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
		pull = result
		return resp, err
	})
	return pull, err
}

func (g *ghAPI) GetIssue(ctx context.Context, number int) (*github.Issue, error) {
	var issue *github.Issue
	err := g.call(ctx, "get issue", func(ctx context.Context) (*github.Response, error) {
		result, resp, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
		issue = result
		return resp, err
	})
	return issue, err
}

func (g *ghAPI) CombinedStatus(ctx context.Context, ref string) (*github.CombinedStatus, error) {
	var status *github.CombinedStatus
	err := g.call(ctx, "combined status", func(ctx context.Context) (*github.Response, error) {
		result, resp, err := g.client.Repositories.GetCombinedStatus(ctx, g.owner, g.repo, ref, nil)
		status = result
		return resp, err
	})
	return status, err
}

func (g *ghAPI) MergePull(ctx context.Context, number int) (string, error) {
	var sha string
	err := g.call(ctx, "merge pull", func(ctx context.Context) (*github.Response, error) {
		result, resp, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, number, "", &github.PullRequestOptions{})
		if result != nil {
			sha = result.GetSHA()
		}
		return resp, err
	})
	return sha, err
}

func (g *ghAPI) CreateComment(ctx context.Context, number int, body string) error {
	return g.call(ctx, "create comment", func(ctx context.Context) (*github.Response, error) {
		comment := &github.IssueComment{Body: github.String(body)}
		_, resp, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, comment)
		return resp, err
	})
}

func (g *ghAPI) ClosePull(ctx context.Context, number int) error {
	return g.call(ctx, "close pull", func(ctx context.Context) (*github.Response, error) {
		update := &github.PullRequest{State: github.String("closed")}
		_, resp, err := g.client.PullRequests.Edit(ctx, g.owner, g.repo, number, update)
		return resp, err
	})
}

func (g *ghAPI) CloseIssue(ctx context.Context, number int) error {
	return g.call(ctx, "close issue", func(ctx context.Context) (*github.Response, error) {
		update := &github.IssueRequest{State: github.String("closed")}
		_, resp, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, update)
		return resp, err
	})
}
