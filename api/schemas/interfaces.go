// api/schemas/interfaces.go
package schemas

import (
	"context"
)

// -- Storage Interfaces --

// WorkItemLedger is the persistent record of everything an agent is working
// on. Implementations serialize concurrent writers; UpsertProposals is the
// only path by which observations become tracked work.
type WorkItemLedger interface {
	// UpsertProposals merges collector proposals into the ledger. A proposal
	// whose (source, source_reference) pair is already tracked refreshes the
	// existing row's last_seen and nothing else. It returns the agent's open
	// (non-terminal) work items after the merge.
	UpsertProposals(ctx context.Context, agentID string, proposals []WorkItemProposal) ([]WorkItem, error)
	// OpenItems returns the agent's non-terminal work items, oldest first.
	OpenItems(ctx context.Context, agentID string) ([]WorkItem, error)
	// GetItem retrieves a single work item by ID.
	GetItem(ctx context.Context, agentID, id string) (WorkItem, error)
	// UpdateItem persists status, attempt count, and payload changes.
	UpdateItem(ctx context.Context, item WorkItem) error
}

// LearningStore persists distilled insights and serves the most relevant ones
// back to the context assembler.
type LearningStore interface {
	// AppendLearnings stores new learnings. Append-only.
	AppendLearnings(ctx context.Context, learnings []Learning) error
	// TopLearnings returns up to limit learnings ranked by confidence, then
	// recency.
	TopLearnings(ctx context.Context, agentID string, limit int) ([]Learning, error)
}

// OffsetStore persists per-file read positions for the log scanner so that
// restarts do not re-observe old log content.
type OffsetStore interface {
	// GetOffset returns the stored byte offset for a path, or 0 when the path
	// has never been scanned.
	GetOffset(ctx context.Context, agentID, path string) (int64, error)
	// SetOffset records the byte offset up to which a path has been consumed.
	SetOffset(ctx context.Context, agentID, path string, offset int64) error
}

// -- Domain Interfaces --

// Collector observes a domain and produces a snapshot. Individual source
// failures degrade their sections instead of failing the call; the returned
// error is reserved for total inability to observe.
type Collector interface {
	Observe(ctx context.Context) (Snapshot, error)
}

// ActionHandler executes one kind of planned action. Handlers re-read any
// work item they operate on at dispatch time, so consecutive actions against
// the same target see each other's effects.
type ActionHandler interface {
	Handle(ctx context.Context, action PlannedAction) (result string, err error)
}

// HandlerFunc adapts a plain function to the ActionHandler interface.
type HandlerFunc func(ctx context.Context, action PlannedAction) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, action PlannedAction) (string, error) {
	return f(ctx, action)
}

// Domain bundles everything the generic agent loop needs to caretake one
// concrete environment.
type Domain interface {
	// Name identifies the domain ("repokeeper", "bugfix").
	Name() string
	// Goals returns the domain's standing objectives.
	Goals() []Goal
	// Catalog lists every action kind the domain can execute. The planner
	// rejects anything outside this set.
	Catalog() []ActionSpec
	// Handlers maps each cataloged kind to its executor.
	Handlers() map[ActionKind]ActionHandler
	// Collector returns the domain's observation collector.
	Collector() Collector
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections).
	Close() error
}
