// internal/agent/history.go
package agent

import (
	"sync"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// History is the bounded in-memory record of recent action outcomes. The
// executor appends in execution order; the context assembler reads the most
// recent window. Oldest entries fall off when the bound is reached.
type History struct {
	mu      sync.Mutex
	max     int
	entries []schemas.ActionOutcome
}

// NewHistory creates a history retaining at most max outcomes.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 50
	}
	return &History{max: max}
}

// Append records one outcome, evicting the oldest entry when full.
func (h *History) Append(outcome schemas.ActionOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, outcome)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Recent returns up to n outcomes, oldest first, as a copy.
func (h *History) Recent(n int) []schemas.ActionOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]schemas.ActionOutcome, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Len reports the number of retained outcomes.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
