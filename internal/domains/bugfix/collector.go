// internal/domains/bugfix/collector.go
package bugfix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
	"github.com/xkilldash9x/custodian-cli/internal/logscan"
)

// Collector scans the configured log files for panics since the previous
// cycle and drains peer messages from the inbox. A log file that cannot be
// read degrades its own section only.
type Collector struct {
	logger      *zap.Logger
	scanner     *logscan.Scanner
	inbox       *inbox.Inbox
	cfg         config.BugfixConfig
	maxAttempts int
}

// NewCollector builds the bugfix observation collector. The inbox may be nil
// when no ingress or live watcher is configured. maxAttempts is the fix
// attempt budget stamped on every proposed work item.
func NewCollector(logger *zap.Logger, scanner *logscan.Scanner, ibx *inbox.Inbox, cfg config.BugfixConfig, maxAttempts int) *Collector {
	return &Collector{
		logger:      logger.Named("collector"),
		scanner:     scanner,
		inbox:       ibx,
		cfg:         cfg,
		maxAttempts: maxAttempts,
	}
}

func (c *Collector) Observe(ctx context.Context) (schemas.Snapshot, error) {
	snap := schemas.Snapshot{TakenAt: time.Now().UTC()}

	for _, path := range c.cfg.WatchLogs {
		section, proposals := c.scanLog(ctx, path)
		snap.Sections = append(snap.Sections, section)
		snap.Proposals = append(snap.Proposals, proposals...)
	}

	if c.inbox != nil {
		snap.Messages = c.inbox.DrainAll()
	}

	c.logger.Debug("Observation complete",
		zap.Int("logs", len(c.cfg.WatchLogs)),
		zap.Int("proposals", len(snap.Proposals)),
		zap.Int("messages", len(snap.Messages)))
	return snap, nil
}

func (c *Collector) scanLog(ctx context.Context, path string) (schemas.SnapshotSection, []schemas.WorkItemProposal) {
	name := "log:" + path

	lines, err := c.scanner.Scan(ctx, path)
	if err != nil {
		return schemas.SnapshotSection{Name: name, Err: err.Error()}, nil
	}

	events := ExtractPanics(lines)
	if len(events) == 0 {
		content := fmt.Sprintf("%d new lines, no panics", len(lines))
		return schemas.SnapshotSection{Name: name, Content: content}, nil
	}

	var b strings.Builder
	proposals := make([]schemas.WorkItemProposal, 0, len(events))
	for _, event := range events {
		fmt.Fprintf(&b, "panic %q at %s\n", event.Message, event.SourceRef())
		proposals = append(proposals, proposalFromEvent(event, c.maxAttempts))
	}

	c.logger.Warn("Panics detected in log",
		zap.String("path", path), zap.Int("count", len(events)))
	return schemas.SnapshotSection{Name: name, Content: strings.TrimRight(b.String(), "\n")}, proposals
}

func proposalFromEvent(event PanicEvent, maxAttempts int) schemas.WorkItemProposal {
	return schemas.WorkItemProposal{
		Source:      "panic",
		SourceRef:   event.SourceRef(),
		MaxAttempts: maxAttempts,
		Payload: map[string]string{
			"message": event.Message,
			"file":    event.FilePath,
			"line":    fmt.Sprintf("%d", event.Line),
			"trace":   event.Trace,
		},
	}
}
