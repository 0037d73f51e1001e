// internal/agent/loop.go

// Package agent implements the generic observe, plan, act, reflect loop.
// Everything domain-specific arrives through the schemas.Domain interface;
// the loop itself knows nothing about repositories or panics.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
)

// Agent drives one domain through repeated caretaking cycles.
type Agent struct {
	logger    *zap.Logger
	cfg       config.AgentConfig
	domain    schemas.Domain
	ledger    schemas.WorkItemLedger
	learnings schemas.LearningStore
	history   *History
	planner   *Planner
	executor  *Executor
	reflector *Reflector
}

// New wires the loop's phases for one domain.
func New(logger *zap.Logger, cfg config.AgentConfig, domain schemas.Domain, llm schemas.LLMClient, ledger schemas.WorkItemLedger, learnings schemas.LearningStore) *Agent {
	log := logger.Named("agent")
	history := NewHistory(cfg.HistorySize)
	return &Agent{
		logger:    log,
		cfg:       cfg,
		domain:    domain,
		ledger:    ledger,
		learnings: learnings,
		history:   history,
		planner:   NewPlanner(log, llm, domain.Catalog(), cfg.LLMTimeout),
		executor:  NewExecutor(log, domain.Handlers(), cfg.MaxActionsPerTick, history),
		reflector: NewReflector(log, llm, learnings, cfg.ID, cfg.LLMTimeout),
	}
}

// Run executes cycles on the configured interval until ctx is cancelled. The
// first cycle runs immediately. A cycle that overruns its interval causes the
// elapsed tick to be skipped rather than queued, so cycles never pile up.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Agent starting",
		zap.String("agent_id", a.cfg.ID),
		zap.String("domain", a.domain.Name()),
		zap.Duration("tick_interval", a.cfg.TickInterval))

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	a.runCycleLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Agent stopping", zap.String("reason", ctx.Err().Error()))
			return nil
		case <-ticker.C:
			start := time.Now()
			a.runCycleLogged(ctx)
			if elapsed := time.Since(start); elapsed > a.cfg.TickInterval {
				// Drop the tick that fired while we were busy.
				select {
				case <-ticker.C:
					a.logger.Warn("Cycle overran tick interval, skipping a tick",
						zap.Duration("elapsed", elapsed),
						zap.Duration("interval", a.cfg.TickInterval))
				default:
				}
			}
		}
	}
}

func (a *Agent) runCycleLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := a.RunCycle(ctx); err != nil {
		a.logger.Error("Cycle failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	a.logger.Info("Cycle complete", zap.Duration("elapsed", time.Since(start)))
}

// RunCycle executes one full observe, plan, act, reflect pass. Observation
// failures in individual sources degrade the snapshot; only a total
// observation failure or a ledger failure aborts the cycle.
func (a *Agent) RunCycle(ctx context.Context) error {
	snap, err := a.domain.Collector().Observe(ctx)
	if err != nil {
		return fmt.Errorf("observation failed: %w", err)
	}
	for _, section := range snap.Sections {
		if section.Degraded() {
			a.logger.Warn("Observation source degraded",
				zap.String("section", section.Name), zap.String("error", section.Err))
		}
	}

	proposals := append(snap.Proposals, messageProposals(snap.Messages)...)
	items, err := a.ledger.UpsertProposals(ctx, a.cfg.ID, proposals)
	if err != nil {
		return fmt.Errorf("failed to merge proposals into ledger: %w", err)
	}
	snap.Items = items

	topK := a.cfg.LearningTopK
	learnings, err := a.learnings.TopLearnings(ctx, a.cfg.ID, topK)
	if err != nil {
		a.logger.Warn("Failed to load learnings, planning without them", zap.Error(err))
		learnings = nil
	}

	assembled := AssembleContext(a.domain.Goals(), a.history.Recent(a.cfg.HistorySize), learnings)

	plan := a.planner.Plan(ctx, snap, assembled)
	if len(plan) == 0 {
		a.logger.Info("Nothing planned this cycle",
			zap.Int("open_items", len(items)), zap.Int("proposals", len(proposals)))
		return nil
	}

	outcomes := a.executor.Execute(ctx, plan)

	if _, err := a.reflector.Reflect(ctx, outcomes); err != nil {
		a.logger.Warn("Reflection failed", zap.Error(err))
	}
	return nil
}

// messageProposals converts inbox messages into work item proposals so that
// peer notifications enter the same ledger path as collector observations.
func messageProposals(messages []schemas.InboundMessage) []schemas.WorkItemProposal {
	if len(messages) == 0 {
		return nil
	}
	proposals := make([]schemas.WorkItemProposal, 0, len(messages))
	for _, msg := range messages {
		proposals = append(proposals, schemas.WorkItemProposal{
			Source:    "inbox:" + msg.Type,
			SourceRef: msg.SourceRef,
			Payload:   msg.Payload,
		})
	}
	return proposals
}
