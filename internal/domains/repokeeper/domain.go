// internal/domains/repokeeper/domain.go

// Package repokeeper implements the GitHub repository caretaking domain:
// keeping pull requests moving, issues triaged, and stale items closed.
package repokeeper

import (
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
)

// Domain bundles the repokeeper collector, catalog, and handlers.
type Domain struct {
	collector *Collector
	handlers  *handlers
}

// Options carries the wiring the domain needs from the composition root.
type Options struct {
	Logger   *zap.Logger
	API      RepoAPI
	Ledger   schemas.WorkItemLedger
	Inbox    *inbox.Inbox
	Notifier *inbox.Client
	Config   config.RepokeeperConfig
	AgentID  string
	DryRun   bool
}

// New assembles the repokeeper domain.
func New(opts Options) *Domain {
	log := opts.Logger.Named("repokeeper")
	return &Domain{
		collector: NewCollector(log, opts.API, opts.Inbox, opts.Config),
		handlers: &handlers{
			logger:   log.Named("handlers"),
			api:      opts.API,
			ledger:   opts.Ledger,
			notifier: opts.Notifier,
			cfg:      opts.Config,
			agentID:  opts.AgentID,
			dryRun:   opts.DryRun,
			now:      time.Now,
		},
	}
}

func (d *Domain) Name() string { return "repokeeper" }

func (d *Domain) Goals() []schemas.Goal {
	return []schemas.Goal{
		{Description: "Keep CI-green, approved pull requests merged", Priority: 9},
		{Description: "Keep open issues and pull requests triaged with a comment", Priority: 6},
		{Description: "Close issues and pull requests with no recent activity", Priority: 4},
	}
}

func (d *Domain) Catalog() []schemas.ActionSpec {
	return []schemas.ActionSpec{
		{Kind: ActionMerge, Description: "merge a pull request whose checks pass; target is pr:<number>"},
		{Kind: ActionComment, Description: "comment on a pull request or issue; target is pr:<number> or issue:<number>, reasoning becomes the comment body"},
		{Kind: ActionCloseStale, Description: "close a pull request or issue that has seen no activity past the staleness threshold"},
		{Kind: ActionNotify, Description: "send a notice to the peer agent; reasoning becomes the message"},
	}
}

func (d *Domain) Handlers() map[schemas.ActionKind]schemas.ActionHandler {
	return map[schemas.ActionKind]schemas.ActionHandler{
		ActionMerge:      schemas.HandlerFunc(d.handlers.merge),
		ActionComment:    schemas.HandlerFunc(d.handlers.comment),
		ActionCloseStale: schemas.HandlerFunc(d.handlers.closeStale),
		ActionNotify:     schemas.HandlerFunc(d.handlers.notify),
	}
}

func (d *Domain) Collector() schemas.Collector { return d.collector }
