// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/agent"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/domains/bugfix"
	"github.com/xkilldash9x/custodian-cli/internal/domains/repokeeper"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
	"github.com/xkilldash9x/custodian-cli/internal/llmclient"
	"github.com/xkilldash9x/custodian-cli/internal/observability"
	"github.com/xkilldash9x/custodian-cli/internal/store"
)

var (
	flagDomain string
	flagTick   time.Duration
	flagDryRun bool
)

func init() {
	runCmd := newRunCmd()
	rootCmd.AddCommand(runCmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the caretaker agent loop until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd, cfg)
			return runAgent(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flagDomain, "domain", "", "domain to caretake (repokeeper or bugfix), overrides agent.domain")
	cmd.Flags().DurationVar(&flagTick, "tick", 0, "tick interval, overrides agent.tick_interval")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", true, "stub out mutating fix steps, overrides fixer.dry_run")

	return cmd
}

func applyFlagOverrides(cmd *cobra.Command, cfg config.Interface) {
	if flagDomain != "" {
		cfg.SetAgentDomain(flagDomain)
	}
	if flagTick > 0 {
		cfg.SetAgentTickInterval(flagTick)
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.SetFixerDryRun(flagDryRun)
	}
}

// runAgent wires the stores, LLM router, inbox, and the configured domain,
// then drives the agent loop until SIGINT or SIGTERM.
func runAgent(parent context.Context, cfg config.Interface) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, learnings, offsets, cleanup, err := buildStores(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	llm, err := llmclient.NewRouterFromConfig(cfg.LLM(), logger)
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}
	defer func() {
		if err := llm.Close(); err != nil {
			logger.Warn("Failed to close LLM client", zap.Error(err))
		}
	}()

	box := inbox.New(logger, cfg.Inbox().Capacity)
	if addr := cfg.Inbox().ListenAddr; addr != "" {
		ingress, err := inbox.NewIngress(logger, box, cfg.Inbox())
		if err != nil {
			return fmt.Errorf("failed to build inbox ingress: %w", err)
		}
		if err := ingress.Start(); err != nil {
			return fmt.Errorf("failed to start inbox ingress: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ingress.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Inbox ingress shutdown failed", zap.Error(err))
			}
		}()
	}

	domain, err := buildDomain(ctx, logger, cfg, llm, ledger, offsets, box)
	if err != nil {
		return err
	}

	a := agent.New(logger, cfg.Agent(), domain, llm, ledger, learnings)
	return a.Run(ctx)
}

// buildStores selects the persistent Postgres stores when a database URL is
// configured, and the in-memory stores otherwise.
func buildStores(ctx context.Context, logger *zap.Logger, cfg config.Interface) (schemas.WorkItemLedger, schemas.LearningStore, schemas.OffsetStore, func(), error) {
	url := cfg.Database().URL
	if url == "" {
		logger.Warn("No database configured, using in-memory stores (state is lost on restart)")
		mem := store.NewMemoryStore()
		return mem, mem, mem, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}

	return st, st, st, pool.Close, nil
}

func buildDomain(ctx context.Context, logger *zap.Logger, cfg config.Interface, llm schemas.LLMClient, ledger schemas.WorkItemLedger, offsets schemas.OffsetStore, box *inbox.Inbox) (schemas.Domain, error) {
	agentCfg := cfg.Agent()
	notifier := inbox.NewClient(agentCfg.ID, cfg.Inbox().AuthSecret)

	switch agentCfg.Domain {
	case "repokeeper":
		return repokeeper.New(repokeeper.Options{
			Logger:   logger,
			API:      repokeeper.NewRepoAPI(logger, cfg.Repokeeper()),
			Ledger:   ledger,
			Inbox:    box,
			Notifier: notifier,
			Config:   cfg.Repokeeper(),
			AgentID:  agentCfg.ID,
			DryRun:   cfg.Fixer().DryRun,
		}), nil

	case "bugfix":
		domain := bugfix.New(bugfix.Options{
			Logger:   logger,
			LLM:      llm,
			Ledger:   ledger,
			Offsets:  offsets,
			Inbox:    box,
			Notifier: notifier,
			Config:   cfg.Bugfix(),
			Fixer:    cfg.Fixer(),
			AgentID:  agentCfg.ID,
		})

		if cfg.Bugfix().LiveWatch {
			watcher, err := bugfix.NewWatcher(logger, box, cfg.Bugfix().AppLog)
			if err != nil {
				return nil, err
			}
			if err := watcher.Start(ctx); err != nil {
				return nil, err
			}
		}
		return domain, nil

	default:
		return nil, fmt.Errorf("unknown agent domain %q", agentCfg.Domain)
	}
}
