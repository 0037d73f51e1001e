// internal/agent/reflector.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// Reflector distills the cycle's outcomes into durable learnings with one
// LLM call per cycle. Reflection is advisory: a failed call costs nothing
// but this cycle's insights.
type Reflector struct {
	logger  *zap.Logger
	llm     schemas.LLMClient
	store   schemas.LearningStore
	agentID string
	timeout time.Duration
}

type learningPayload struct {
	Learnings []struct {
		Category   string  `json:"category"`
		Insight    string  `json:"insight"`
		Confidence float64 `json:"confidence"`
	} `json:"learnings"`
}

// NewReflector builds a reflector persisting into the given learning store.
func NewReflector(logger *zap.Logger, llm schemas.LLMClient, store schemas.LearningStore, agentID string, timeout time.Duration) *Reflector {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Reflector{
		logger:  logger.Named("reflector"),
		llm:     llm,
		store:   store,
		agentID: agentID,
		timeout: timeout,
	}
}

// Reflect extracts learnings from the cycle's outcomes and appends them to
// the store. Cycles without outcomes are skipped entirely; no LLM call is
// made. Learnings are stored regardless of whether the actions succeeded.
func (r *Reflector) Reflect(ctx context.Context, outcomes []schemas.ActionOutcome) ([]schemas.Learning, error) {
	if len(outcomes) == 0 {
		r.logger.Debug("No outcomes this cycle, skipping reflection")
		return nil, nil
	}

	llmCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: reflectorSystemPrompt,
		UserPrompt:   r.userPrompt(outcomes),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.3,
			ForceJSONFormat: true,
		},
	}

	response, err := r.llm.Generate(llmCtx, req)
	if err != nil {
		r.logger.Warn("Reflection call failed, no learnings this cycle", zap.Error(err))
		return nil, nil
	}

	payload, err := parseLearningResponse(response)
	if err != nil {
		r.logger.Warn("Failed to parse reflection response",
			zap.Error(err), zap.String("response_prefix", prefix(response, 200)))
		return nil, nil
	}

	now := time.Now().UTC()
	learnings := make([]schemas.Learning, 0, len(payload.Learnings))
	for _, l := range payload.Learnings {
		if strings.TrimSpace(l.Insight) == "" {
			continue
		}
		learning := schemas.Learning{
			ID:         uuid.New().String(),
			AgentID:    r.agentID,
			Category:   l.Category,
			Insight:    l.Insight,
			Confidence: l.Confidence,
			CreatedAt:  now,
		}
		learning.ClampConfidence()
		learnings = append(learnings, learning)
	}

	if len(learnings) == 0 {
		return nil, nil
	}

	if err := r.store.AppendLearnings(ctx, learnings); err != nil {
		return nil, fmt.Errorf("failed to persist learnings: %w", err)
	}

	r.logger.Info("Reflection complete", zap.Int("learnings", len(learnings)))
	return learnings, nil
}

const reflectorSystemPrompt = `You are the reflection module of an autonomous
caretaker agent. Given the outcomes of the actions just executed, extract
durable, reusable insights that should inform future planning.

Respond with a single JSON object of the form:
{"learnings": [{"category": "...", "insight": "...", "confidence": 0.0-1.0}]}

Rules:
- Extract lessons from failures as well as successes.
- Each insight must be a standalone sentence useful without this context.
- Confidence reflects how certain you are the insight generalizes.
- An empty "learnings" array is a valid answer.`

func (r *Reflector) userPrompt(outcomes []schemas.ActionOutcome) string {
	var b strings.Builder
	b.WriteString("## Executed Actions\n")
	for _, o := range outcomes {
		status := "succeeded"
		detail := o.Result
		if !o.Success {
			status = "failed"
			detail = o.Err
		}
		fmt.Fprintf(&b, "- %s target=%s %s (%.1fs): %s\n",
			o.Action.Kind, o.Action.Target, status, o.Duration.Seconds(), prefix(detail, 400))
		if o.Action.Reasoning != "" {
			fmt.Fprintf(&b, "  planned because: %s\n", prefix(o.Action.Reasoning, 200))
		}
	}
	return b.String()
}

func parseLearningResponse(response string) (*learningPayload, error) {
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

	var payload learningPayload
	if err := json.UnmarshalFromString(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal learnings: %w", err)
	}
	return &payload, nil
}
