// internal/domains/bugfix/domain.go

// Package bugfix implements the self-healing domain: panics are harvested
// from logs, analyzed by the LLM, and handed to the automated fix pipeline.
package bugfix

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/fixer"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
	"github.com/xkilldash9x/custodian-cli/internal/logscan"
)

// Domain bundles the bugfix collector, catalog, and handlers.
type Domain struct {
	collector *Collector
	handlers  *handlers
}

// Options carries the wiring the domain needs from the composition root.
type Options struct {
	Logger   *zap.Logger
	LLM      schemas.LLMClient
	Ledger   schemas.WorkItemLedger
	Offsets  schemas.OffsetStore
	Inbox    *inbox.Inbox
	Notifier *inbox.Client
	Config   config.BugfixConfig
	Fixer    config.FixerConfig
	AgentID  string
}

// New assembles the bugfix domain.
func New(opts Options) *Domain {
	log := opts.Logger.Named("bugfix")
	scanner := logscan.NewScanner(log, opts.Offsets, opts.AgentID)
	return &Domain{
		collector: NewCollector(log, scanner, opts.Inbox, opts.Config, opts.Fixer.MaxFixAttempts),
		handlers: &handlers{
			logger:   log.Named("handlers"),
			llm:      opts.LLM,
			ledger:   opts.Ledger,
			pipeline: fixer.NewPipeline(log, opts.Fixer),
			notifier: opts.Notifier,
			cfg:      opts.Config,
			fixerCfg: opts.Fixer,
			agentID:  opts.AgentID,
		},
	}
}

func (d *Domain) Name() string { return "bugfix" }

func (d *Domain) Goals() []schemas.Goal {
	return []schemas.Goal{
		{Description: "Detect every panic the application logs", Priority: 9},
		{Description: "Produce a verified fix branch for each analyzable crash", Priority: 8},
		{Description: "Never touch the protected branch", Priority: 10},
	}
}

func (d *Domain) Catalog() []schemas.ActionSpec {
	return []schemas.ActionSpec{
		{Kind: ActionAnalyze, Description: "determine the root cause of a crash; target is the work item ID"},
		{Kind: ActionFix, Description: "run one automated fix attempt for an analyzed crash; target is the work item ID"},
		{Kind: ActionNotify, Description: "send a notice to the peer agent; reasoning becomes the message"},
	}
}

func (d *Domain) Handlers() map[schemas.ActionKind]schemas.ActionHandler {
	return map[schemas.ActionKind]schemas.ActionHandler{
		ActionAnalyze: schemas.HandlerFunc(d.handlers.analyze),
		ActionFix:     schemas.HandlerFunc(d.handlers.fix),
		ActionNotify:  schemas.HandlerFunc(d.handlers.notify),
	}
}

func (d *Domain) Collector() schemas.Collector { return d.collector }
