// internal/domains/bugfix/handlers.go
package bugfix

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/fixer"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var jsonObjectRegex = regexp.MustCompile("(?s)```(?:json)?\\s*({.*})\\s*```")

const (
	// ActionAnalyze asks the LLM for a root cause before any fix is attempted.
	ActionAnalyze schemas.ActionKind = "analyze"
	// ActionFix runs one attempt of the automated fix pipeline.
	ActionFix schemas.ActionKind = "fix"
	// ActionNotify delivers a message to a peer agent's inbox.
	ActionNotify schemas.ActionKind = "notify"
)

// handlers executes the bugfix action catalog.
type handlers struct {
	logger   *zap.Logger
	llm      schemas.LLMClient
	ledger   schemas.WorkItemLedger
	pipeline *fixer.Pipeline
	notifier *inbox.Client
	cfg      config.BugfixConfig
	fixerCfg config.FixerConfig
	agentID  string
}

type analysisPayload struct {
	Analysis   string  `json:"analysis"`
	Confidence float64 `json:"confidence"`
}

// analyze asks the fast model for a root cause and gates the item on the
// confidence it reports. A confident analysis moves the item to FIXING; an
// unconfident one fails it so the fix pipeline is never run on guesswork.
func (h *handlers) analyze(ctx context.Context, action schemas.PlannedAction) (string, error) {
	item, err := h.ledger.GetItem(ctx, h.agentID, action.Target)
	if err != nil {
		return "", fmt.Errorf("failed to load work item %q: %w", action.Target, err)
	}
	if item.Status.Terminal() {
		return "", fmt.Errorf("work item %s is already %s", item.ID, item.Status)
	}

	item.Status = schemas.StatusAnalyzing
	if err := h.ledger.UpdateItem(ctx, item); err != nil {
		return "", fmt.Errorf("failed to mark item analyzing: %w", err)
	}

	req := schemas.GenerationRequest{
		SystemPrompt: analyzeSystemPrompt,
		UserPrompt:   analyzeUserPrompt(item),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	}
	response, err := h.llm.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("analysis call failed for %s: %w", item.ID, err)
	}

	analysis, err := parseAnalysisResponse(response)
	if err != nil {
		return "", fmt.Errorf("failed to parse analysis for %s: %w", item.ID, err)
	}

	item.SetPayload("analysis", analysis.Analysis)
	item.SetPayload("confidence", fmt.Sprintf("%.2f", analysis.Confidence))

	if analysis.Confidence < h.fixerCfg.MinConfidence {
		item.Status = schemas.StatusFailed
		item.SetPayload("failure_reason", fmt.Sprintf(
			"analysis confidence %.2f below threshold %.2f", analysis.Confidence, h.fixerCfg.MinConfidence))
		if err := h.ledger.UpdateItem(ctx, item); err != nil {
			return "", fmt.Errorf("failed to persist analysis: %w", err)
		}
		h.logger.Info("Analysis confidence too low, giving up on item",
			zap.String("item_id", item.ID), zap.Float64("confidence", analysis.Confidence))
		return fmt.Sprintf("analysis of %s inconclusive (confidence %.2f), item failed", item.ID, analysis.Confidence), nil
	}

	item.Status = schemas.StatusFixing
	if err := h.ledger.UpdateItem(ctx, item); err != nil {
		return "", fmt.Errorf("failed to persist analysis: %w", err)
	}

	h.logger.Info("Analysis complete",
		zap.String("item_id", item.ID), zap.Float64("confidence", analysis.Confidence))
	return fmt.Sprintf("analyzed %s (confidence %.2f), ready to fix", item.ID, analysis.Confidence), nil
}

// fix runs one pipeline attempt and settles the item's status from the
// result. Only analyzed items are eligible; failed attempts consume budget and
// the item fails permanently exactly when the budget runs out.
func (h *handlers) fix(ctx context.Context, action schemas.PlannedAction) (string, error) {
	item, err := h.ledger.GetItem(ctx, h.agentID, action.Target)
	if err != nil {
		return "", fmt.Errorf("failed to load work item %q: %w", action.Target, err)
	}
	if !item.CanAttempt() {
		return "", fmt.Errorf("work item %s has no fix attempts left (%d/%d, status %s)",
			item.ID, item.AttemptCount, item.MaxAttempts, item.Status)
	}
	if item.Status != schemas.StatusFixing && item.Status != schemas.StatusTesting {
		return "", fmt.Errorf("work item %s is %s, fix requires a confident analysis first", item.ID, item.Status)
	}

	if !h.fixerCfg.DryRun {
		item.Status = schemas.StatusTesting
		if err := h.ledger.UpdateItem(ctx, item); err != nil {
			return "", fmt.Errorf("failed to mark item testing: %w", err)
		}
	}

	result, runErr := h.pipeline.RunAttempt(ctx, item)
	if runErr != nil {
		item.RecordFailedAttempt()
		item.SetPayload("last_error", runErr.Error())
		if err := h.ledger.UpdateItem(ctx, item); err != nil {
			h.logger.Error("Failed to record failed attempt",
				zap.String("item_id", item.ID), zap.Error(err))
		}
		return "", fmt.Errorf("fix attempt %d/%d failed: %w", item.AttemptCount, item.MaxAttempts, runErr)
	}

	if result.DryRun {
		h.logger.Info("Dry run fix attempt completed",
			zap.String("item_id", item.ID), zap.String("branch", result.Branch))
		return fmt.Sprintf("dry run: fix for %s validated on branch %s", item.ID, result.Branch), nil
	}

	item.Status = schemas.StatusFixed
	item.SetPayload("fix_branch", result.Branch)
	item.SetPayload("fix_commit", result.CommitHash)
	if err := h.ledger.UpdateItem(ctx, item); err != nil {
		return "", fmt.Errorf("fix pushed but failed to update item %s: %w", item.ID, err)
	}

	return fmt.Sprintf("fixed %s on branch %s (%s)", item.ID, result.Branch, result.CommitHash), nil
}

func (h *handlers) notify(ctx context.Context, action schemas.PlannedAction) (string, error) {
	if h.cfg.NotifyAddr == "" {
		return "", fmt.Errorf("notify action requires bugfix.notify_addr to be configured")
	}

	msg := schemas.InboundMessage{
		Type:      "bugfix_notice",
		SourceRef: action.Target,
		Priority:  action.Priority,
		Payload:   map[string]string{"message": action.Reasoning},
	}
	if err := h.notifier.Send(ctx, h.cfg.NotifyAddr, msg); err != nil {
		return "", fmt.Errorf("failed to notify peer: %w", err)
	}
	return fmt.Sprintf("notified %s about %s", h.cfg.NotifyAddr, action.Target), nil
}

const analyzeSystemPrompt = `You are the crash analyst of an autonomous
bug-fixing agent. Given a panic message, its location, and the stack trace,
determine the most likely root cause.

Respond with a single JSON object of the form:
{"analysis": "...", "confidence": 0.0-1.0}

Rules:
- The analysis must name the failing code path and the suspected defect.
- Confidence reflects how certain you are the analysis is actionable.
- Report low confidence rather than inventing a cause.`

func analyzeUserPrompt(item schemas.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Crash\nreference: %s\nmessage: %s\n", item.SourceRef, item.Payload["message"])
	if file := item.Payload["file"]; file != "" {
		fmt.Fprintf(&b, "location: %s:%s\n", file, item.Payload["line"])
	}
	if trace := item.Payload["trace"]; trace != "" {
		fmt.Fprintf(&b, "\n## Stack Trace\n%s\n", trace)
	}
	return b.String()
}

func parseAnalysisResponse(response string) (*analysisPayload, error) {
	raw := strings.TrimSpace(response)

	if match := jsonObjectRegex.FindStringSubmatch(raw); len(match) > 1 {
		raw = match[1]
	} else if !strings.HasPrefix(raw, "{") {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("no JSON object found in response")
		}
		raw = raw[start : end+1]
	}

	var payload analysisPayload
	if err := json.UnmarshalFromString(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	if strings.TrimSpace(payload.Analysis) == "" {
		return nil, fmt.Errorf("analysis text is empty")
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	return &payload, nil
}
