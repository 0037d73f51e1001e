package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

func TestMemoryStoreDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	proposal := schemas.WorkItemProposal{
		Source: "pull_request", SourceRef: "42", MaxAttempts: 3,
		Payload: map[string]string{"title": "first sighting"},
	}

	items, err := m.UpsertProposals(ctx, "agent-1", []schemas.WorkItemProposal{proposal})
	require.NoError(t, err)
	require.Len(t, items, 1)
	original := items[0]

	// Simulate progress on the item between observations.
	original.Status = schemas.StatusFixing
	original.AttemptCount = 1
	require.NoError(t, m.UpdateItem(ctx, original))

	// Re-observing the same condition must not reset anything but last_seen.
	proposal.Payload = map[string]string{"title": "second sighting"}
	items, err = m.UpsertProposals(ctx, "agent-1", []schemas.WorkItemProposal{proposal})
	require.NoError(t, err)
	require.Len(t, items, 1, "duplicate observation must not create a second item")

	got := items[0]
	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, schemas.StatusFixing, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "first sighting", got.Payload["title"], "payload of tracked item is preserved")
	assert.False(t, got.LastSeen.Before(original.LastSeen))
}

func TestMemoryStoreAgentScoping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.UpsertProposals(ctx, "agent-a", []schemas.WorkItemProposal{
		{Source: "panic", SourceRef: "x", MaxAttempts: 3},
	})
	require.NoError(t, err)

	// The same source reference under a different agent is a distinct item.
	items, err := m.UpsertProposals(ctx, "agent-b", []schemas.WorkItemProposal{
		{Source: "panic", SourceRef: "x", MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	aItems, err := m.OpenItems(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, aItems, 1)
	assert.NotEqual(t, aItems[0].ID, items[0].ID)
}

func TestMemoryStoreOpenItemsExcludesTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	items, err := m.UpsertProposals(ctx, "agent-1", []schemas.WorkItemProposal{
		{Source: "panic", SourceRef: "a", MaxAttempts: 3},
		{Source: "panic", SourceRef: "b", MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	done := items[0]
	done.Status = schemas.StatusFixed
	require.NoError(t, m.UpdateItem(ctx, done))

	open, err := m.OpenItems(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, items[1].ID, open[0].ID)
}

func TestMemoryStoreGetItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	items, err := m.UpsertProposals(ctx, "agent-1", []schemas.WorkItemProposal{
		{Source: "inbox", SourceRef: "msg-1", MaxAttempts: 3},
	})
	require.NoError(t, err)

	got, err := m.GetItem(ctx, "agent-1", items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.SourceRef)

	_, err = m.GetItem(ctx, "agent-2", items[0].ID)
	require.Error(t, err, "items are scoped to their agent")

	_, err = m.GetItem(ctx, "agent-1", "missing")
	require.Error(t, err)
}

func TestMemoryStoreLearnings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.AppendLearnings(ctx, []schemas.Learning{
		{ID: "l-1", AgentID: "agent-1", Insight: "low", Confidence: 0.2},
		{ID: "l-2", AgentID: "agent-1", Insight: "high", Confidence: 0.9},
		{ID: "l-3", AgentID: "agent-1", Insight: "mid", Confidence: 0.5},
		{ID: "l-4", AgentID: "other", Insight: "foreign", Confidence: 1.0},
	}))

	top, err := m.TopLearnings(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].Insight)
	assert.Equal(t, "mid", top[1].Insight)
}

func TestMemoryStoreOffsets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	offset, err := m.GetOffset(ctx, "agent-1", "/tmp/app.log")
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)

	require.NoError(t, m.SetOffset(ctx, "agent-1", "/tmp/app.log", 512))

	offset, err = m.GetOffset(ctx, "agent-1", "/tmp/app.log")
	require.NoError(t, err)
	assert.Equal(t, int64(512), offset)
}
