// internal/domains/bugfix/watcher.go
package bugfix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/inbox"
)

// Watcher tails the application log live and pushes detected panics into the
// inbox, so a crash is picked up on the next tick instead of waiting for the
// offset scanner to reach it. It buffers multi-line stack traces and flushes
// a trace when a new log entry appears or the flush timer fires.
type Watcher struct {
	logger *zap.Logger
	inbox  *inbox.Inbox
	path   string
}

// NewWatcher builds a live log watcher feeding the given inbox.
func NewWatcher(logger *zap.Logger, ibx *inbox.Inbox, path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("bugfix.app_log must be configured for live crash detection")
	}
	return &Watcher{
		logger: logger.Named("watcher"),
		inbox:  ibx,
		path:   path,
	}, nil
}

// Start begins tailing from the end of the file and returns immediately. The
// monitor goroutine exits when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting live crash watcher", zap.String("path", w.path))

	t, err := tail.TailFile(w.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: 2},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail application log: %w", err)
	}

	go w.monitorLoop(ctx, t)
	return nil
}

func (w *Watcher) monitorLoop(ctx context.Context, t *tail.Tail) {
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	var block []string
	flushTimer := time.NewTimer(100 * time.Millisecond)
	if !flushTimer.Stop() {
		<-flushTimer.C
	}

	flush := func() {
		if len(block) == 0 {
			return
		}
		for _, event := range ExtractPanics(block) {
			w.report(event)
		}
		block = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			w.logger.Info("Stopping live crash watcher")
			return

		case line, ok := <-t.Lines:
			if !ok {
				flush()
				w.logger.Info("Log tail channel closed")
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading tailed log", zap.Error(line.Err))
				continue
			}

			text := line.Text
			if len(block) > 0 && newEntryRegex.MatchString(text) && !panicLineRegex.MatchString(text) {
				flush()
				if !flushTimer.Stop() {
					select {
					case <-flushTimer.C:
					default:
					}
				}
			}

			if panicLineRegex.MatchString(text) {
				if len(block) > 0 {
					flush()
				}
				block = append(block, text)
				flushTimer.Reset(100 * time.Millisecond)
			} else if len(block) > 0 {
				block = append(block, text)
				flushTimer.Reset(100 * time.Millisecond)
			}

		case <-flushTimer.C:
			flush()
		}
	}
}

// report hands one panic to the inbox. A duplicate crash site is silently
// absorbed by the inbox; a full inbox only costs this report.
func (w *Watcher) report(event PanicEvent) {
	msg := schemas.InboundMessage{
		Type:      "panic",
		SourceRef: event.SourceRef(),
		Priority:  8,
		Payload: map[string]string{
			"message": event.Message,
			"file":    event.FilePath,
			"line":    fmt.Sprintf("%d", event.Line),
			"trace":   event.Trace,
		},
		SentAt: time.Now().UTC(),
	}
	if err := w.inbox.Enqueue(msg); err != nil {
		if errors.Is(err, inbox.ErrInboxFull) {
			w.logger.Warn("Inbox full, dropping live panic report", zap.String("ref", msg.SourceRef))
			return
		}
		w.logger.Error("Failed to enqueue live panic report", zap.Error(err))
	}
}
