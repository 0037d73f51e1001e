// internal/inbox/inbox.go
package inbox

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// ErrInboxFull is returned by Enqueue when the bounded queue is at capacity.
var ErrInboxFull = errors.New("inbox is full")

// Inbox is the bounded inter-agent message queue. Producers (the HTTP
// ingress, the live panic watcher) enqueue between ticks; the collector
// drains it completely once per cycle.
type Inbox struct {
	logger   *zap.Logger
	capacity int

	mu    sync.Mutex
	queue []schemas.InboundMessage
	seen  map[string]struct{}
}

// New creates an inbox holding at most capacity pending messages.
func New(logger *zap.Logger, capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 100
	}
	return &Inbox{
		logger:   logger.Named("inbox"),
		capacity: capacity,
		seen:     make(map[string]struct{}),
	}
}

// Enqueue adds a message to the queue. A message whose source_reference is
// already pending is silently discarded. When the queue is at capacity the
// message is dropped and ErrInboxFull is returned.
func (i *Inbox) Enqueue(msg schemas.InboundMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if msg.SourceRef != "" {
		if _, dup := i.seen[msg.SourceRef]; dup {
			i.logger.Debug("Dropping duplicate inbound message",
				zap.String("source_reference", msg.SourceRef))
			return nil
		}
	}

	if len(i.queue) >= i.capacity {
		i.logger.Warn("Inbox at capacity, dropping message",
			zap.String("source_reference", msg.SourceRef),
			zap.Int("capacity", i.capacity))
		return ErrInboxFull
	}

	i.queue = append(i.queue, msg)
	if msg.SourceRef != "" {
		i.seen[msg.SourceRef] = struct{}{}
	}
	return nil
}

// DrainAll removes and returns every pending message, highest priority first.
// Messages with equal priority keep arrival order.
func (i *Inbox) DrainAll() []schemas.InboundMessage {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.queue) == 0 {
		return nil
	}

	drained := i.queue
	i.queue = nil
	i.seen = make(map[string]struct{})

	// Stable insertion sort by descending priority. The queue is small
	// (bounded by capacity) and usually nearly sorted already.
	for idx := 1; idx < len(drained); idx++ {
		for j := idx; j > 0 && drained[j].Priority > drained[j-1].Priority; j-- {
			drained[j], drained[j-1] = drained[j-1], drained[j]
		}
	}
	return drained
}

// Len reports the number of pending messages.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue)
}
