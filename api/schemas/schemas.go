// api/schemas/schemas.go
package schemas

import (
	"fmt"
	"time"
)

// -- Goals --

// Goal is a standing objective of an agent. Goals are static per domain and
// shape every planning prompt.
type Goal struct {
	Priority    int    `json:"priority"` // Higher is more important.
	Description string `json:"description"`
}

// -- Work Items --

// WorkItemStatus is the lifecycle stage of a work item.
type WorkItemStatus string

const (
	StatusNew       WorkItemStatus = "NEW"
	StatusAnalyzing WorkItemStatus = "ANALYZING"
	StatusFixing    WorkItemStatus = "FIXING"
	StatusTesting   WorkItemStatus = "TESTING"
	StatusFixed     WorkItemStatus = "FIXED"
	StatusFailed    WorkItemStatus = "FAILED"
	StatusDone      WorkItemStatus = "DONE"
)

// Terminal reports whether the status admits no further transitions.
func (s WorkItemStatus) Terminal() bool {
	switch s {
	case StatusFixed, StatusFailed, StatusDone:
		return true
	}
	return false
}

// DefaultMaxAttempts is the attempt budget applied to proposals that do not
// specify one.
const DefaultMaxAttempts = 3

// WorkItem is a discrete, trackable unit of work discovered during
// observation. The pair (Source, SourceRef) identifies the underlying
// condition; re-observing the same condition must never create a second item.
type WorkItem struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agent_id"`
	Source       string            `json:"source"`           // e.g. "pull_request", "panic", "inbox"
	SourceRef    string            `json:"source_reference"` // stable identifier within the source
	Status       WorkItemStatus    `json:"status"`
	AttemptCount int               `json:"attempt_count"`
	MaxAttempts  int               `json:"max_attempts"`
	Payload      map[string]string `json:"payload,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastSeen     time.Time         `json:"last_seen"`
}

// CanAttempt reports whether another fix attempt is permitted.
func (w *WorkItem) CanAttempt() bool {
	return !w.Status.Terminal() && w.AttemptCount < w.MaxAttempts
}

// RecordFailedAttempt consumes one attempt after a failed fix run. The item
// becomes FAILED exactly when the attempt budget is exhausted, otherwise it
// returns to FIXING for a later retry.
func (w *WorkItem) RecordFailedAttempt() {
	w.AttemptCount++
	if w.AttemptCount >= w.MaxAttempts {
		w.Status = StatusFailed
	} else {
		w.Status = StatusFixing
	}
}

// SetPayload stores a key in the item payload, allocating the map on first use.
func (w *WorkItem) SetPayload(key, value string) {
	if w.Payload == nil {
		w.Payload = make(map[string]string)
	}
	w.Payload[key] = value
}

// WorkItemProposal is a collector's claim that a condition worth tracking
// exists. The ledger turns proposals into work items, or refreshes LastSeen
// when the (Source, SourceRef) pair is already tracked.
type WorkItemProposal struct {
	Source      string            `json:"source"`
	SourceRef   string            `json:"source_reference"`
	MaxAttempts int               `json:"max_attempts"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// -- Observation --

// SnapshotSection is one source's contribution to a snapshot. A failed source
// contributes its error string instead of content; observation never aborts
// because a single source is down.
type SnapshotSection struct {
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Degraded reports whether the section's source failed this cycle.
func (s SnapshotSection) Degraded() bool { return s.Err != "" }

// Snapshot is the point-in-time view of a domain produced by one observation
// phase. Proposals and Messages feed the ledger; Sections and Items feed the
// planner prompt.
type Snapshot struct {
	TakenAt   time.Time          `json:"taken_at"`
	Sections  []SnapshotSection  `json:"sections"`
	Proposals []WorkItemProposal `json:"proposals,omitempty"`
	Messages  []InboundMessage   `json:"messages,omitempty"`
	// Items is populated by the agent loop after proposals are merged into
	// the ledger. Collectors leave it empty.
	Items []WorkItem `json:"items,omitempty"`
}

// Render produces the planner-facing text for a section, marking degraded
// sources so the model knows the data is missing rather than empty.
func (s SnapshotSection) Render() string {
	if s.Degraded() {
		return fmt.Sprintf("[%s] UNAVAILABLE: %s", s.Name, s.Err)
	}
	return fmt.Sprintf("[%s]\n%s", s.Name, s.Content)
}

// -- Planning and Execution --

// ActionKind names a class of action a domain knows how to execute.
type ActionKind string

// ActionSpec describes one registered action kind for the planner catalog.
type ActionSpec struct {
	Kind        ActionKind
	Description string
}

// PlannedAction is a single step proposed by the planner. Target usually
// names a work item ID; kinds that act on external objects put the external
// reference there instead.
type PlannedAction struct {
	ID        string     `json:"id"`
	Kind      ActionKind `json:"kind"`
	Target    string     `json:"target"`
	Priority  int        `json:"priority"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// ActionOutcome records what happened when one planned action was executed.
type ActionOutcome struct {
	Action     PlannedAction `json:"action"`
	Success    bool          `json:"success"`
	Result     string        `json:"result,omitempty"`
	Err        string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// -- Learning --

// Learning is a durable insight distilled from action outcomes. Confidence is
// always within [0, 1].
type Learning struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Category   string    `json:"category"`
	Insight    string    `json:"insight"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClampConfidence forces Confidence into [0, 1].
func (l *Learning) ClampConfidence() {
	if l.Confidence < 0 {
		l.Confidence = 0
	} else if l.Confidence > 1 {
		l.Confidence = 1
	}
}

// -- Inter-agent messaging --

// InboundMessage is a unit of communication received from another agent or a
// background watcher. SourceRef deduplicates messages while they sit in the
// inbox.
type InboundMessage struct {
	Type      string            `json:"type"`
	SourceRef string            `json:"source_reference"`
	Priority  int               `json:"priority"`
	Payload   map[string]string `json:"payload,omitempty"`
	SentAt    time.Time         `json:"sent_at,omitempty"`
}
