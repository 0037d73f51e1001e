// internal/agent/loop_test.go
package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
	"github.com/xkilldash9x/custodian-cli/internal/store"
)

// seqLLM replays canned responses in order across calls.
type seqLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *seqLLM) Generate(context.Context, schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return `{"actions": [], "learnings": []}`, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *seqLLM) Close() error { return nil }

type fakeCollector struct {
	mu    sync.Mutex
	snap  schemas.Snapshot
	err   error
	delay time.Duration
}

func (f *fakeCollector) Observe(ctx context.Context) (schemas.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return f.snap, f.err
}

type fakeDomain struct {
	collector schemas.Collector
	handlers  map[schemas.ActionKind]schemas.ActionHandler
	catalog   []schemas.ActionSpec
}

func (d *fakeDomain) Name() string                { return "fake" }
func (d *fakeDomain) Goals() []schemas.Goal       { return []schemas.Goal{{Description: "stay tidy", Priority: 5}} }
func (d *fakeDomain) Catalog() []schemas.ActionSpec { return d.catalog }
func (d *fakeDomain) Handlers() map[schemas.ActionKind]schemas.ActionHandler {
	return d.handlers
}
func (d *fakeDomain) Collector() schemas.Collector { return d.collector }

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		ID:                "agent-test",
		Domain:            "bugfix",
		TickInterval:      time.Minute,
		MaxActionsPerTick: 3,
		HistorySize:       20,
		LearningTopK:      5,
		LLMTimeout:        time.Minute,
	}
}

func TestRunCycleEndToEnd(t *testing.T) {
	t.Parallel()

	var handled []schemas.PlannedAction
	domain := &fakeDomain{
		collector: &fakeCollector{snap: schemas.Snapshot{
			TakenAt:  time.Now(),
			Sections: []schemas.SnapshotSection{{Name: "logs", Content: "panic: boom at svc.go:42"}},
			Proposals: []schemas.WorkItemProposal{
				{Source: "panic", SourceRef: "svc.go:42", MaxAttempts: 3},
			},
			Messages: []schemas.InboundMessage{
				{Type: "panic_report", SourceRef: "peer.go:7", Priority: 4},
			},
		}},
		catalog: []schemas.ActionSpec{{Kind: "fix", Description: "attempt a fix"}},
		handlers: map[schemas.ActionKind]schemas.ActionHandler{
			"fix": schemas.HandlerFunc(func(_ context.Context, a schemas.PlannedAction) (string, error) {
				handled = append(handled, a)
				return "fixed", nil
			}),
		},
	}
	llm := &seqLLM{responses: []string{
		`{"actions": [{"kind": "fix", "target": "svc.go:42", "priority": 7, "reasoning": "fresh panic"}]}`,
		`{"learnings": [{"category": "panics", "insight": "svc.go crashes on nil input", "confidence": 0.6}]}`,
	}}
	mem := store.NewMemoryStore()
	a := New(zaptest.NewLogger(t), testAgentConfig(), domain, llm, mem, mem)

	require.NoError(t, a.RunCycle(context.Background()))

	// Both the collector proposal and the inbox message became work items.
	items, err := mem.OpenItems(context.Background(), "agent-test")
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Len(t, handled, 1)
	assert.Equal(t, "svc.go:42", handled[0].Target)

	learnings, err := mem.TopLearnings(context.Background(), "agent-test", 10)
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	assert.Equal(t, "svc.go crashes on nil input", learnings[0].Insight)

	assert.Equal(t, 1, a.history.Len())
}

func TestRunCycleObservationFailureAborts(t *testing.T) {
	t.Parallel()

	domain := &fakeDomain{
		collector: &fakeCollector{err: errors.New("everything is down")},
		catalog:   []schemas.ActionSpec{{Kind: "fix"}},
		handlers:  map[schemas.ActionKind]schemas.ActionHandler{},
	}
	mem := store.NewMemoryStore()
	a := New(zaptest.NewLogger(t), testAgentConfig(), domain, &seqLLM{}, mem, mem)

	err := a.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observation failed")
}

func TestRunCycleDegradedSectionDoesNotAbort(t *testing.T) {
	t.Parallel()

	domain := &fakeDomain{
		collector: &fakeCollector{snap: schemas.Snapshot{
			Sections: []schemas.SnapshotSection{
				{Name: "pulls", Err: "api timeout"},
				{Name: "issues", Content: "issue #3 open"},
			},
		}},
		catalog:  []schemas.ActionSpec{{Kind: "comment"}},
		handlers: map[schemas.ActionKind]schemas.ActionHandler{},
	}
	mem := store.NewMemoryStore()
	llm := &seqLLM{responses: []string{`{"actions": []}`}}
	a := New(zaptest.NewLogger(t), testAgentConfig(), domain, llm, mem, mem)

	require.NoError(t, a.RunCycle(context.Background()))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	domain := &fakeDomain{
		collector: &fakeCollector{snap: schemas.Snapshot{}},
		catalog:   []schemas.ActionSpec{{Kind: "comment"}},
		handlers:  map[schemas.ActionKind]schemas.ActionHandler{},
	}
	mem := store.NewMemoryStore()
	cfg := testAgentConfig()
	cfg.TickInterval = 10 * time.Millisecond
	a := New(zaptest.NewLogger(t), cfg, domain, &seqLLM{}, mem, mem)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop after context cancellation")
	}
}

func TestRunSkipsTickAfterOverrun(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	domain := &fakeDomain{
		collector: &fakeCollector{snap: schemas.Snapshot{}, delay: 80 * time.Millisecond},
		catalog:   []schemas.ActionSpec{{Kind: "comment"}},
		handlers:  map[schemas.ActionKind]schemas.ActionHandler{},
	}
	mem := store.NewMemoryStore()
	cfg := testAgentConfig()
	cfg.TickInterval = 20 * time.Millisecond
	a := New(logger, cfg, domain, &seqLLM{}, mem, mem)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	skipped := logs.FilterMessage("Cycle overran tick interval, skipping a tick")
	assert.Positive(t, skipped.Len())
}
