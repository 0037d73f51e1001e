// internal/agent/assembler.go
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// AssembleContext builds the planner-facing context text from the agent's
// goals, its recent action outcomes, and its most relevant learnings. It is a
// pure function: no I/O, no clock, and identical inputs always produce
// identical output.
func AssembleContext(goals []schemas.Goal, outcomes []schemas.ActionOutcome, learnings []schemas.Learning) string {
	var b strings.Builder

	b.WriteString("## Goals\n")
	if len(goals) == 0 {
		b.WriteString("(none)\n")
	} else {
		sorted := make([]schemas.Goal, len(goals))
		copy(sorted, goals)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Priority > sorted[j].Priority
		})
		for _, g := range sorted {
			fmt.Fprintf(&b, "- [P%d] %s\n", g.Priority, g.Description)
		}
	}

	b.WriteString("\n## Recent Outcomes\n")
	if len(outcomes) == 0 {
		b.WriteString("(none)\n")
	} else {
		for _, o := range outcomes {
			status := "OK"
			detail := o.Result
			if !o.Success {
				status = "FAILED"
				detail = o.Err
			}
			fmt.Fprintf(&b, "- %s %s target=%s: %s\n", status, o.Action.Kind, o.Action.Target, detail)
		}
	}

	b.WriteString("\n## Learnings\n")
	if len(learnings) == 0 {
		b.WriteString("(none)\n")
	} else {
		for _, l := range learnings {
			fmt.Fprintf(&b, "- (%.2f) [%s] %s\n", l.Confidence, l.Category, l.Insight)
		}
	}

	return b.String()
}
