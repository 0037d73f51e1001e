// internal/agent/planner.go
package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonObjectRegex extracts a JSON object from a markdown-fenced code block.
var jsonObjectRegex = regexp.MustCompile("(?s)```(?:json)?\\s*({.*})\\s*```")

// Planner turns a snapshot plus assembled context into an ordered action
// plan with exactly one LLM call per cycle. Planning is fail-closed: any LLM
// or parse error yields an empty plan, never a guessed one.
type Planner struct {
	logger  *zap.Logger
	llm     schemas.LLMClient
	catalog []schemas.ActionSpec
	allowed map[schemas.ActionKind]bool
	timeout time.Duration
}

// plannedActionPayload is the wire shape the model is asked to produce.
type plannedActionPayload struct {
	Actions []struct {
		Kind      string `json:"kind"`
		Target    string `json:"target"`
		Priority  int    `json:"priority"`
		Reasoning string `json:"reasoning"`
	} `json:"actions"`
}

// NewPlanner builds a planner bound to the domain's action catalog.
func NewPlanner(logger *zap.Logger, llm schemas.LLMClient, catalog []schemas.ActionSpec, timeout time.Duration) *Planner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	allowed := make(map[schemas.ActionKind]bool, len(catalog))
	for _, spec := range catalog {
		allowed[spec.Kind] = true
	}
	return &Planner{
		logger:  logger.Named("planner"),
		llm:     llm,
		catalog: catalog,
		allowed: allowed,
		timeout: timeout,
	}
}

// Plan produces the cycle's actions in stable descending-priority order. An
// empty plan is a valid result meaning "do nothing this cycle".
func (p *Planner) Plan(ctx context.Context, snap schemas.Snapshot, assembled string) []schemas.PlannedAction {
	llmCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: p.systemPrompt(),
		UserPrompt:   p.userPrompt(snap, assembled),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	}

	response, err := p.llm.Generate(llmCtx, req)
	if err != nil {
		p.logger.Warn("LLM planning call failed, planning nothing this cycle", zap.Error(err))
		return nil
	}

	payload, err := parsePlanResponse(response)
	if err != nil {
		p.logger.Warn("Failed to parse LLM plan, planning nothing this cycle",
			zap.Error(err), zap.String("response_prefix", prefix(response, 200)))
		return nil
	}

	var plan []schemas.PlannedAction
	for _, a := range payload.Actions {
		kind := schemas.ActionKind(a.Kind)
		if !p.allowed[kind] {
			p.logger.Warn("Dropping action with unregistered kind",
				zap.String("kind", a.Kind), zap.String("target", a.Target))
			continue
		}
		plan = append(plan, schemas.PlannedAction{
			ID:        uuid.New().String(),
			Kind:      kind,
			Target:    a.Target,
			Priority:  a.Priority,
			Reasoning: a.Reasoning,
		})
	}

	// Stable sort keeps the model's ordering for equal priorities.
	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Priority > plan[j].Priority
	})

	p.logger.Info("Planning complete", zap.Int("actions", len(plan)))
	return plan
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are the planning module of an autonomous caretaker agent.
Given the current observation snapshot, the agent's goals, recent outcomes, and
learned insights, decide which actions to take this cycle.

You may ONLY use the following action kinds:
`)
	for _, spec := range p.catalog {
		fmt.Fprintf(&b, "- %q: %s\n", spec.Kind, spec.Description)
	}
	b.WriteString(`
Respond with a single JSON object of the form:
{"actions": [{"kind": "...", "target": "...", "priority": 1-10, "reasoning": "..."}]}

Rules:
- "target" names the work item ID (or external reference) the action operates on.
- Higher priority means more urgent.
- Prefer few, high-value actions. An empty "actions" array is a valid answer.
- Never invent action kinds outside the list above.`)
	return b.String()
}

func (p *Planner) userPrompt(snap schemas.Snapshot, assembled string) string {
	var b strings.Builder
	b.WriteString("## Snapshot\n")
	fmt.Fprintf(&b, "taken_at: %s\n\n", snap.TakenAt.UTC().Format(time.RFC3339))
	for _, section := range snap.Sections {
		b.WriteString(section.Render())
		b.WriteString("\n\n")
	}

	b.WriteString("## Open Work Items\n")
	if len(snap.Items) == 0 {
		b.WriteString("(none)\n")
	}
	for _, item := range snap.Items {
		fmt.Fprintf(&b, "- id=%s source=%s ref=%s status=%s attempts=%d/%d\n",
			item.ID, item.Source, item.SourceRef, item.Status, item.AttemptCount, item.MaxAttempts)
		if analysis, ok := item.Payload["analysis"]; ok {
			fmt.Fprintf(&b, "  analysis: %s\n", prefix(analysis, 300))
		}
	}

	b.WriteString("\n")
	b.WriteString(assembled)
	return b.String()
}

// parsePlanResponse tolerates markdown fencing around the JSON object and
// falls back to the outermost brace pair when no fence is present.
func parsePlanResponse(response string) (*plannedActionPayload, error) {
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

	var payload plannedActionPayload
	if err := json.UnmarshalFromString(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &payload, nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
