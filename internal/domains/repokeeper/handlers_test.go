// internal/domains/repokeeper/handlers_test.go
package repokeeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-github/v58/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/store"
)

func newTestHandlers(t *testing.T, api RepoAPI, ledger schemas.WorkItemLedger, cfg config.RepokeeperConfig, dryRun bool) *handlers {
	t.Helper()
	return &handlers{
		logger:  zaptest.NewLogger(t),
		api:     api,
		ledger:  ledger,
		cfg:     cfg,
		agentID: "agent-test",
		dryRun:  dryRun,
		now:     time.Now,
	}
}

func trackedItem(t *testing.T, ledger schemas.WorkItemLedger, source, ref string, payload map[string]string) schemas.WorkItem {
	t.Helper()
	items, err := ledger.UpsertProposals(context.Background(), "agent-test", []schemas.WorkItemProposal{
		{Source: source, SourceRef: ref, MaxAttempts: 3, Payload: payload},
	})
	require.NoError(t, err)
	for _, item := range items {
		if item.SourceRef == ref {
			return item
		}
	}
	t.Fatalf("work item for %s not tracked", ref)
	return schemas.WorkItem{}
}

func TestMergeGreenPull(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.pulls = []*github.PullRequest{testPull(7, "bump deps", "sha7")}
	api.status["sha7"] = &github.CombinedStatus{State: github.String("success"), TotalCount: github.Int(1)}
	ledger := store.NewMemoryStore()
	item := trackedItem(t, ledger, "github_pr", "pr:7", nil)

	h := newTestHandlers(t, api, ledger, config.RepokeeperConfig{}, false)
	result, err := h.merge(context.Background(), schemas.PlannedAction{Kind: ActionMerge, Target: "pr:7"})
	require.NoError(t, err)

	assert.Contains(t, result, "merged pr:7")
	assert.Equal(t, []int{7}, api.merged)

	got, err := ledger.GetItem(context.Background(), "agent-test", item.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDone, got.Status)
}

func TestMergeRefusesRedCI(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.pulls = []*github.PullRequest{testPull(7, "bump deps", "sha7")}
	api.status["sha7"] = &github.CombinedStatus{State: github.String("failure"), TotalCount: github.Int(3)}

	h := newTestHandlers(t, api, store.NewMemoryStore(), config.RepokeeperConfig{}, false)
	_, err := h.merge(context.Background(), schemas.PlannedAction{Kind: ActionMerge, Target: "pr:7"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CI is failure")
	assert.Empty(t, api.merged)
}

func TestMergeRefusesDraft(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	pr := testPull(8, "wip", "sha8")
	pr.Draft = github.Bool(true)
	api.pulls = []*github.PullRequest{pr}

	h := newTestHandlers(t, api, store.NewMemoryStore(), config.RepokeeperConfig{}, false)
	_, err := h.merge(context.Background(), schemas.PlannedAction{Kind: ActionMerge, Target: "pr:8"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "draft")
}

func TestMergeDryRunSkipsAPI(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.pulls = []*github.PullRequest{testPull(7, "bump deps", "sha7")}

	h := newTestHandlers(t, api, store.NewMemoryStore(), config.RepokeeperConfig{}, true)
	result, err := h.merge(context.Background(), schemas.PlannedAction{Kind: ActionMerge, Target: "pr:7"})

	require.NoError(t, err)
	assert.Contains(t, result, "dry run")
	assert.Empty(t, api.merged)
}

func TestMergeResolvesWorkItemID(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.pulls = []*github.PullRequest{testPull(7, "bump deps", "sha7")}
	ledger := store.NewMemoryStore()
	item := trackedItem(t, ledger, "github_pr", "pr:7", nil)

	h := newTestHandlers(t, api, ledger, config.RepokeeperConfig{}, false)
	result, err := h.merge(context.Background(), schemas.PlannedAction{Kind: ActionMerge, Target: item.ID})

	require.NoError(t, err)
	assert.Contains(t, result, "merged pr:7")
}

func TestCommentRequiresBody(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	h := newTestHandlers(t, api, store.NewMemoryStore(), config.RepokeeperConfig{}, false)

	_, err := h.comment(context.Background(), schemas.PlannedAction{Kind: ActionComment, Target: "issue:3"})
	require.Error(t, err)

	result, err := h.comment(context.Background(), schemas.PlannedAction{
		Kind: ActionComment, Target: "issue:3", Reasoning: "needs a reproduction case",
	})
	require.NoError(t, err)
	assert.Contains(t, result, "commented on issue:3")
	assert.Equal(t, []string{"needs a reproduction case"}, api.comments[3])
}

func TestCloseStaleHonorsThreshold(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	fresh := testIssue(5, "active discussion")
	fresh.UpdatedAt = &github.Timestamp{Time: time.Now().Add(-time.Hour)}
	stale := testIssue(6, "abandoned report")
	stale.UpdatedAt = &github.Timestamp{Time: time.Now().Add(-30 * 24 * time.Hour)}
	api.issues = []*github.Issue{fresh, stale}

	ledger := store.NewMemoryStore()
	trackedItem(t, ledger, "github_issue", "issue:5", nil)
	trackedItem(t, ledger, "github_issue", "issue:6", nil)

	h := newTestHandlers(t, api, ledger, config.RepokeeperConfig{StaleAfter: 14 * 24 * time.Hour}, false)
	_, err := h.closeStale(context.Background(), schemas.PlannedAction{Kind: ActionCloseStale, Target: "issue:5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below the staleness threshold")
	assert.Empty(t, api.closed)

	result, err := h.closeStale(context.Background(), schemas.PlannedAction{Kind: ActionCloseStale, Target: "issue:6"})
	require.NoError(t, err)
	assert.Contains(t, result, "closed stale issue:6")
	assert.Equal(t, []string{"issue:6"}, api.closed)
	require.Len(t, api.comments[6], 1)
	assert.Contains(t, api.comments[6][0], "inactivity")
}

func TestCloseStaleJudgesLiveActivityNotFirstObservation(t *testing.T) {
	t.Parallel()

	// The ledger payload keeps the update time from when the item was first
	// observed; a pull request tracked for weeks can still be active today.
	api := newFakeRepoAPI()
	pr := testPull(9, "long running refactor", "sha9")
	pr.UpdatedAt = &github.Timestamp{Time: time.Now().Add(-time.Hour)}
	api.pulls = []*github.PullRequest{pr}

	ledger := store.NewMemoryStore()
	frozen := time.Now().Add(-15 * 24 * time.Hour).Format(time.RFC3339)
	trackedItem(t, ledger, "github_pr", "pr:9", map[string]string{"updated_at": frozen})

	h := newTestHandlers(t, api, ledger, config.RepokeeperConfig{StaleAfter: 14 * 24 * time.Hour}, false)
	_, err := h.closeStale(context.Background(), schemas.PlannedAction{Kind: ActionCloseStale, Target: "pr:9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below the staleness threshold")
	assert.Empty(t, api.closed)
	assert.Empty(t, api.comments[9])
}

func TestCloseStaleUntrackedTarget(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeRepoAPI(), store.NewMemoryStore(), config.RepokeeperConfig{StaleAfter: time.Hour}, false)

	_, err := h.closeStale(context.Background(), schemas.PlannedAction{Kind: ActionCloseStale, Target: "issue:99"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not tracked")
}

func TestNotifyRequiresAddress(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeRepoAPI(), store.NewMemoryStore(), config.RepokeeperConfig{}, false)

	_, err := h.notify(context.Background(), schemas.PlannedAction{Kind: ActionNotify, Target: "pr:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify_addr")
}

func TestParseRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ref     string
		kind    string
		number  int
		wantErr bool
	}{
		{name: "pull", ref: "pr:12", kind: "pr", number: 12},
		{name: "issue", ref: "issue:3", kind: "issue", number: 3},
		{name: "unknown kind", ref: "branch:3", wantErr: true},
		{name: "missing number", ref: "pr:", wantErr: true},
		{name: "negative", ref: "pr:-1", wantErr: true},
		{name: "bare id", ref: "b2f4c1d9", wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			kind, number, err := parseRef(tc.ref)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.number, number)
		})
	}
}

func TestDomainCatalogMatchesHandlers(t *testing.T) {
	t.Parallel()

	d := New(Options{
		Logger:  zaptest.NewLogger(t),
		API:     newFakeRepoAPI(),
		Ledger:  store.NewMemoryStore(),
		Config:  config.RepokeeperConfig{},
		AgentID: "agent-test",
	})

	assert.Equal(t, "repokeeper", d.Name())
	assert.NotEmpty(t, d.Goals())

	registered := d.Handlers()
	for _, spec := range d.Catalog() {
		assert.Contains(t, registered, spec.Kind)
	}
}
