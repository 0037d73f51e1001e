// internal/inbox/inbox_test.go
package inbox

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

func TestEnqueueDrain(t *testing.T) {
	t.Parallel()
	box := New(zaptest.NewLogger(t), 10)

	require.NoError(t, box.Enqueue(schemas.InboundMessage{Type: "notify", SourceRef: "a"}))
	require.NoError(t, box.Enqueue(schemas.InboundMessage{Type: "notify", SourceRef: "b"}))
	assert.Equal(t, 2, box.Len())

	msgs := box.DrainAll()
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, box.Len())

	// A drain fully empties the queue; the next drain yields nothing.
	assert.Nil(t, box.DrainAll())
}

func TestEnqueueDropsDuplicates(t *testing.T) {
	t.Parallel()
	box := New(zaptest.NewLogger(t), 10)

	require.NoError(t, box.Enqueue(schemas.InboundMessage{Type: "notify", SourceRef: "same"}))
	require.NoError(t, box.Enqueue(schemas.InboundMessage{Type: "notify", SourceRef: "same"}),
		"duplicate must be discarded silently, not rejected")
	assert.Equal(t, 1, box.Len())

	// After a drain the reference may legitimately appear again.
	box.DrainAll()
	require.NoError(t, box.Enqueue(schemas.InboundMessage{Type: "notify", SourceRef: "same"}))
	assert.Equal(t, 1, box.Len())
}

func TestEnqueueFull(t *testing.T) {
	t.Parallel()
	box := New(zaptest.NewLogger(t), 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, box.Enqueue(schemas.InboundMessage{
			Type: "notify", SourceRef: fmt.Sprintf("msg-%d", i),
		}))
	}

	err := box.Enqueue(schemas.InboundMessage{Type: "notify", SourceRef: "overflow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInboxFull)
	assert.Equal(t, 3, box.Len(), "overflow message must not be queued")
}

func TestDrainOrdersByPriority(t *testing.T) {
	t.Parallel()
	box := New(zaptest.NewLogger(t), 10)

	require.NoError(t, box.Enqueue(schemas.InboundMessage{SourceRef: "low", Priority: 1}))
	require.NoError(t, box.Enqueue(schemas.InboundMessage{SourceRef: "high", Priority: 9}))
	require.NoError(t, box.Enqueue(schemas.InboundMessage{SourceRef: "mid-first", Priority: 5}))
	require.NoError(t, box.Enqueue(schemas.InboundMessage{SourceRef: "mid-second", Priority: 5}))

	msgs := box.DrainAll()
	require.Len(t, msgs, 4)
	assert.Equal(t, "high", msgs[0].SourceRef)
	assert.Equal(t, "mid-first", msgs[1].SourceRef, "equal priority keeps arrival order")
	assert.Equal(t, "mid-second", msgs[2].SourceRef)
	assert.Equal(t, "low", msgs[3].SourceRef)
}
