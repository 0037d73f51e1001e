// internal/fixer/pipeline.go
package fixer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
)

// Pipeline runs one fix attempt for a work item through five strict steps:
// workspace clone, branch, code-modification tool, test suite, commit+push.
// Any step failure aborts the attempt; the caller charges the item's attempt
// budget.
type Pipeline struct {
	logger *zap.Logger
	cfg    config.FixerConfig
}

// AttemptResult captures the artifacts of a successful attempt.
type AttemptResult struct {
	Branch     string
	CommitHash string
	DryRun     bool
	TestOutput string
}

// NewPipeline builds a pipeline from the fixer configuration.
func NewPipeline(logger *zap.Logger, cfg config.FixerConfig) *Pipeline {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	return &Pipeline{
		logger: logger.Named("fixer"),
		cfg:    cfg,
	}
}

// BranchName derives the deterministic fix branch for a work item, so retry
// attempts land on the same branch instead of littering the remote.
func BranchName(itemID string) string {
	short := strings.ReplaceAll(itemID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	return "fix/custodian-" + short
}

// workspaceDir is stable per item so retries reuse the previous clone.
func (p *Pipeline) workspaceDir(itemID string) string {
	return filepath.Join(p.cfg.WorkspaceRoot, "custodian-fix-"+itemID)
}

// RunAttempt executes one complete attempt for the item. The returned error
// marks a failed step; the work item itself is not mutated here.
func (p *Pipeline) RunAttempt(ctx context.Context, item schemas.WorkItem) (*AttemptResult, error) {
	log := p.logger.With(
		zap.String("work_item", item.ID),
		zap.Int("attempt", item.AttemptCount+1),
		zap.Bool("dry_run", p.cfg.DryRun))

	// Step 1: isolated workspace.
	ws, err := OpenOrClone(ctx, p.logger, p.cfg.SourceRoot, p.workspaceDir(item.ID))
	if err != nil {
		return nil, fmt.Errorf("workspace step failed: %w", err)
	}

	// Step 2: branch off the default branch.
	branch := BranchName(item.ID)
	if err := ws.CheckoutBranch(p.cfg.ProtectedBranch); err != nil {
		return nil, fmt.Errorf("branch step failed: %w", err)
	}
	if err := ws.CheckoutBranch(branch); err != nil {
		return nil, fmt.Errorf("branch step failed: %w", err)
	}

	// The guard runs unconditionally, dry run included. It checks the
	// workspace's actual HEAD, not the branch we think we created.
	head, err := ws.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("branch step failed: %w", err)
	}
	if err := CheckBranchAllowed(head, p.cfg.ProtectedBranch); err != nil {
		return nil, err
	}

	if p.cfg.DryRun {
		log.Info("Dry run: skipping code modification, tests, and commit",
			zap.String("branch", branch),
			zap.String("tool_command", p.cfg.ToolCommand),
			zap.String("test_command", p.cfg.TestCommand))
		return &AttemptResult{Branch: branch, DryRun: true}, nil
	}

	// Step 3: external code-modification tool.
	if p.cfg.ToolCommand == "" {
		return nil, fmt.Errorf("tool step failed: fixer.tool_command is not configured")
	}
	log.Info("Running code-modification tool")
	if _, err := p.runCommand(ctx, ws.Dir, p.cfg.ToolCommand, p.cfg.ToolTimeout, item, branch); err != nil {
		return nil, fmt.Errorf("tool step failed: %w", err)
	}

	// Step 4: test suite.
	log.Info("Running test suite")
	testOutput, err := p.runCommand(ctx, ws.Dir, p.cfg.TestCommand, p.cfg.TestTimeout, item, branch)
	if err != nil {
		return nil, fmt.Errorf("test step failed: %w", err)
	}

	// Step 5: commit and push, re-checking HEAD right before the commit.
	head, err = ws.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("commit step failed: %w", err)
	}
	if err := CheckBranchAllowed(head, p.cfg.ProtectedBranch); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("fix: automated fix for %s %s", item.Source, item.SourceRef)
	hash, err := ws.CommitAll(message, p.cfg.Git.AuthorName, p.cfg.Git.AuthorEmail)
	if err != nil {
		return nil, fmt.Errorf("commit step failed: %w", err)
	}

	if err := ws.Push(ctx, p.cfg.Remote, branch); err != nil {
		return nil, fmt.Errorf("push step failed: %w", err)
	}

	log.Info("Fix attempt succeeded",
		zap.String("branch", branch),
		zap.String("commit", hash))
	return &AttemptResult{Branch: branch, CommitHash: hash, TestOutput: testOutput}, nil
}

// runCommand executes a shell command inside the workspace with a hard
// timeout. The work item's identity is exported through the environment so
// external tools know what they are fixing. A timeout counts as a failed
// step like any other error.
func (p *Pipeline) runCommand(ctx context.Context, dir, command string, timeout time.Duration, item schemas.WorkItem, branch string) (string, error) {
	cmdCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, "cmd", "/C", command)
	} else {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		cmd = exec.CommandContext(cmdCtx, shell, "-c", command)
	}
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"CUSTODIAN_WORK_ITEM="+item.ID,
		"CUSTODIAN_SOURCE="+item.Source,
		"CUSTODIAN_SOURCE_REF="+item.SourceRef,
		"CUSTODIAN_ANALYSIS="+item.Payload["analysis"],
		"CUSTODIAN_BRANCH="+branch,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return output.String(), fmt.Errorf("command timed out after %s: %s", timeout, command)
	}
	if err != nil {
		return output.String(), fmt.Errorf("command failed: %w: %s", err, truncate(output.String(), 2000))
	}
	return output.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
