package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// MemoryStore is an in-process implementation of the ledger, learning, and
// offset stores. It backs agents running without a database.url and keeps the
// same dedup semantics as the PostgreSQL store.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]schemas.WorkItem // keyed by item ID
	dedup     map[string]string           // (agentID|source|sourceRef) -> item ID
	learnings []schemas.Learning
	offsets   map[string]int64 // (agentID|path) -> offset
}

var (
	_ schemas.WorkItemLedger = (*MemoryStore)(nil)
	_ schemas.LearningStore  = (*MemoryStore)(nil)
	_ schemas.OffsetStore    = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]schemas.WorkItem),
		dedup:   make(map[string]string),
		offsets: make(map[string]int64),
	}
}

func dedupKey(agentID, source, sourceRef string) string {
	return agentID + "|" + source + "|" + sourceRef
}

// UpsertProposals merges proposals into the ledger. Known (source,
// source_reference) pairs only get their last_seen refreshed.
func (m *MemoryStore) UpsertProposals(ctx context.Context, agentID string, proposals []schemas.WorkItemProposal) ([]schemas.WorkItem, error) {
	m.mu.Lock()
	now := time.Now().UTC()
	for _, p := range proposals {
		key := dedupKey(agentID, p.Source, p.SourceRef)
		if id, ok := m.dedup[key]; ok {
			item := m.items[id]
			item.LastSeen = now
			m.items[id] = item
			continue
		}

		maxAttempts := p.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = schemas.DefaultMaxAttempts
		}
		item := schemas.WorkItem{
			ID:          uuid.New().String(),
			AgentID:     agentID,
			Source:      p.Source,
			SourceRef:   p.SourceRef,
			Status:      schemas.StatusNew,
			MaxAttempts: maxAttempts,
			Payload:     clonePayload(p.Payload),
			CreatedAt:   now,
			LastSeen:    now,
		}
		m.items[item.ID] = item
		m.dedup[key] = item.ID
	}
	m.mu.Unlock()

	return m.OpenItems(ctx, agentID)
}

// OpenItems returns the agent's non-terminal work items, oldest first.
func (m *MemoryStore) OpenItems(_ context.Context, agentID string) ([]schemas.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []schemas.WorkItem
	for _, item := range m.items {
		if item.AgentID == agentID && !item.Status.Terminal() {
			copied := item
			copied.Payload = clonePayload(item.Payload)
			items = append(items, copied)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// GetItem retrieves a single work item by ID.
func (m *MemoryStore) GetItem(_ context.Context, agentID, id string) (schemas.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.AgentID != agentID {
		return schemas.WorkItem{}, fmt.Errorf("work item %s not found", id)
	}
	item.Payload = clonePayload(item.Payload)
	return item, nil
}

// UpdateItem persists status, attempt count, and payload changes.
func (m *MemoryStore) UpdateItem(_ context.Context, item schemas.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.items[item.ID]
	if !ok || existing.AgentID != item.AgentID {
		return fmt.Errorf("work item %s not found", item.ID)
	}
	existing.Status = item.Status
	existing.AttemptCount = item.AttemptCount
	existing.Payload = clonePayload(item.Payload)
	existing.LastSeen = time.Now().UTC()
	m.items[item.ID] = existing
	return nil
}

// AppendLearnings stores new learnings. Append-only.
func (m *MemoryStore) AppendLearnings(_ context.Context, learnings []schemas.Learning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learnings = append(m.learnings, learnings...)
	return nil
}

// TopLearnings returns up to limit learnings ranked by confidence, then
// recency.
func (m *MemoryStore) TopLearnings(_ context.Context, agentID string, limit int) ([]schemas.Learning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matching []schemas.Learning
	for _, l := range m.learnings {
		if l.AgentID == agentID {
			matching = append(matching, l)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].Confidence == matching[j].Confidence {
			return matching[i].CreatedAt.After(matching[j].CreatedAt)
		}
		return matching[i].Confidence > matching[j].Confidence
	})
	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

// GetOffset returns the stored byte offset for a path, or 0 when unknown.
func (m *MemoryStore) GetOffset(_ context.Context, agentID, path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[agentID+"|"+path], nil
}

// SetOffset records the byte offset up to which a path has been consumed.
func (m *MemoryStore) SetOffset(_ context.Context, agentID, path string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[agentID+"|"+path] = offset
	return nil
}

func clonePayload(payload map[string]string) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
