// internal/domains/repokeeper/handlers.go
package repokeeper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
)

const (
	// ActionMerge merges an approved pull request whose checks are green.
	ActionMerge schemas.ActionKind = "merge"
	// ActionComment leaves a comment on a pull request or issue.
	ActionComment schemas.ActionKind = "comment"
	// ActionCloseStale closes a pull request or issue with no recent activity.
	ActionCloseStale schemas.ActionKind = "close_stale"
	// ActionNotify delivers a message to a peer agent's inbox.
	ActionNotify schemas.ActionKind = "notify"
)

// PullRef formats the canonical source reference for a pull request.
func PullRef(number int) string { return fmt.Sprintf("pr:%d", number) }

// IssueRef formats the canonical source reference for an issue.
func IssueRef(number int) string { return fmt.Sprintf("issue:%d", number) }

// handlers executes the repokeeper action catalog. When dryRun is set every
// mutating GitHub call is logged and skipped.
type handlers struct {
	logger   *zap.Logger
	api      RepoAPI
	ledger   schemas.WorkItemLedger
	notifier *inbox.Client
	cfg      config.RepokeeperConfig
	agentID  string
	dryRun   bool
	now      func() time.Time
}

func (h *handlers) merge(ctx context.Context, action schemas.PlannedAction) (string, error) {
	ref, item, err := h.resolveTarget(ctx, action.Target)
	if err != nil {
		return "", err
	}
	kind, number, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	if kind != "pr" {
		return "", fmt.Errorf("merge only applies to pull requests, got %q", ref)
	}

	pull, err := h.api.GetPull(ctx, number)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", ref, err)
	}
	if pull.GetDraft() {
		return "", fmt.Errorf("%s is a draft, refusing to merge", ref)
	}
	if !pull.GetMergeable() && pull.Mergeable != nil {
		return "", fmt.Errorf("%s has conflicts, refusing to merge", ref)
	}
	if sha := pull.GetHead().GetSHA(); sha != "" {
		status, err := h.api.CombinedStatus(ctx, sha)
		if err != nil {
			return "", fmt.Errorf("failed to check CI status for %s: %w", ref, err)
		}
		if status.GetTotalCount() > 0 && status.GetState() != "success" {
			return "", fmt.Errorf("%s CI is %s, refusing to merge", ref, status.GetState())
		}
	}

	if h.dryRun {
		h.logger.Info("Dry run: skipping merge", zap.String("ref", ref))
		return fmt.Sprintf("dry run: would merge %s", ref), nil
	}

	sha, err := h.api.MergePull(ctx, number)
	if err != nil {
		return "", fmt.Errorf("failed to merge %s: %w", ref, err)
	}

	h.markDone(ctx, item, "merged as "+sha)
	return fmt.Sprintf("merged %s as %s", ref, sha), nil
}

func (h *handlers) comment(ctx context.Context, action schemas.PlannedAction) (string, error) {
	ref, _, err := h.resolveTarget(ctx, action.Target)
	if err != nil {
		return "", err
	}
	_, number, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	body := strings.TrimSpace(action.Reasoning)
	if body == "" {
		return "", fmt.Errorf("comment action for %s carries no text", ref)
	}

	if h.dryRun {
		h.logger.Info("Dry run: skipping comment", zap.String("ref", ref))
		return fmt.Sprintf("dry run: would comment on %s", ref), nil
	}

	if err := h.api.CreateComment(ctx, number, body); err != nil {
		return "", fmt.Errorf("failed to comment on %s: %w", ref, err)
	}
	return fmt.Sprintf("commented on %s", ref), nil
}

func (h *handlers) closeStale(ctx context.Context, action schemas.PlannedAction) (string, error) {
	ref, item, err := h.resolveTarget(ctx, action.Target)
	if err != nil {
		return "", err
	}
	kind, number, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	if item == nil {
		return "", fmt.Errorf("cannot judge staleness: %s is not tracked in the ledger", ref)
	}

	age, err := h.targetAge(ctx, kind, number)
	if err != nil {
		return "", err
	}
	if age < h.cfg.StaleAfter {
		return "", fmt.Errorf("%s was active %s ago, below the staleness threshold %s", ref, age.Round(time.Hour), h.cfg.StaleAfter)
	}

	if h.dryRun {
		h.logger.Info("Dry run: skipping close", zap.String("ref", ref), zap.Duration("age", age))
		return fmt.Sprintf("dry run: would close stale %s", ref), nil
	}

	notice := fmt.Sprintf("Closing due to %s of inactivity. Reopen if still relevant.", age.Round(24*time.Hour))
	if err := h.api.CreateComment(ctx, number, notice); err != nil {
		h.logger.Warn("Failed to leave closing notice", zap.String("ref", ref), zap.Error(err))
	}

	switch kind {
	case "pr":
		err = h.api.ClosePull(ctx, number)
	case "issue":
		err = h.api.CloseIssue(ctx, number)
	}
	if err != nil {
		return "", fmt.Errorf("failed to close %s: %w", ref, err)
	}

	h.markDone(ctx, item, "closed as stale")
	return fmt.Sprintf("closed stale %s", ref), nil
}

func (h *handlers) notify(ctx context.Context, action schemas.PlannedAction) (string, error) {
	if h.cfg.NotifyAddr == "" {
		return "", fmt.Errorf("notify action requires repokeeper.notify_addr to be configured")
	}

	msg := schemas.InboundMessage{
		Type:      "repokeeper_notice",
		SourceRef: action.Target,
		Priority:  action.Priority,
		Payload:   map[string]string{"message": action.Reasoning},
	}
	if err := h.notifier.Send(ctx, h.cfg.NotifyAddr, msg); err != nil {
		return "", fmt.Errorf("failed to notify peer: %w", err)
	}
	return fmt.Sprintf("notified %s about %s", h.cfg.NotifyAddr, action.Target), nil
}

// resolveTarget accepts either a canonical reference ("pr:12", "issue:3") or
// a work item ID and returns the reference plus the ledger item when one is
// tracked. Items are re-read at dispatch time so consecutive actions see each
// other's effects.
func (h *handlers) resolveTarget(ctx context.Context, target string) (string, *schemas.WorkItem, error) {
	if strings.HasPrefix(target, "pr:") || strings.HasPrefix(target, "issue:") {
		items, err := h.ledger.OpenItems(ctx, h.agentID)
		if err != nil {
			h.logger.Warn("Failed to read ledger while resolving target", zap.Error(err))
			return target, nil, nil
		}
		for i := range items {
			if items[i].SourceRef == target {
				return target, &items[i], nil
			}
		}
		return target, nil, nil
	}

	item, err := h.ledger.GetItem(ctx, h.agentID, target)
	if err != nil {
		return "", nil, fmt.Errorf("target %q is neither a reference nor a tracked work item: %w", target, err)
	}
	return item.SourceRef, &item, nil
}

// targetAge derives how long ago the target last saw activity from the live
// API. The ledger payload only records the update time from the first
// observation and must not be trusted for staleness.
func (h *handlers) targetAge(ctx context.Context, kind string, number int) (time.Duration, error) {
	var updated time.Time
	switch kind {
	case "pr":
		pull, err := h.api.GetPull(ctx, number)
		if err != nil {
			return 0, fmt.Errorf("cannot judge staleness of pr:%d: %w", number, err)
		}
		updated = pull.GetUpdatedAt().Time
	case "issue":
		issue, err := h.api.GetIssue(ctx, number)
		if err != nil {
			return 0, fmt.Errorf("cannot judge staleness of issue:%d: %w", number, err)
		}
		updated = issue.GetUpdatedAt().Time
	}
	if updated.IsZero() {
		return 0, fmt.Errorf("%s:%d reports no update time", kind, number)
	}
	return h.now().Sub(updated), nil
}

func (h *handlers) markDone(ctx context.Context, item *schemas.WorkItem, result string) {
	if item == nil {
		return
	}
	item.Status = schemas.StatusDone
	item.SetPayload("result", result)
	if err := h.ledger.UpdateItem(ctx, *item); err != nil {
		h.logger.Warn("Failed to mark work item done",
			zap.String("item_id", item.ID), zap.Error(err))
	}
}

func parseRef(ref string) (kind string, number int, err error) {
	kind, raw, found := strings.Cut(ref, ":")
	if !found || (kind != "pr" && kind != "issue") {
		return "", 0, fmt.Errorf("malformed target reference %q, want pr:<n> or issue:<n>", ref)
	}
	number, err = strconv.Atoi(raw)
	if err != nil || number <= 0 {
		return "", 0, fmt.Errorf("malformed target reference %q, want a positive number", ref)
	}
	return kind, number, nil
}
