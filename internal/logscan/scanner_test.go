// internal/logscan/scanner_test.go
package logscan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/custodian-cli/internal/store"
)

func newTestScanner(t *testing.T) (*Scanner, string) {
	t.Helper()
	scanner := NewScanner(zaptest.NewLogger(t), store.NewMemoryStore(), "agent-test")
	logFile := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logFile, nil, 0o644))
	return scanner, logFile
}

func appendTo(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func TestScanPicksUpNewLinesOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scanner, logFile := newTestScanner(t)

	appendTo(t, logFile, "line one\nline two\n")

	lines, err := scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, lines)

	appendTo(t, logFile, "line three\n")

	lines, err = scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"line three"}, lines, "previously consumed lines must not reappear")
}

func TestScanIsIdempotentWithoutNewContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scanner, logFile := newTestScanner(t)

	appendTo(t, logFile, "only line\n")

	lines, err := scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	// Two consecutive scans with no appends in between yield nothing.
	lines, err = scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestScanResetsOnTruncation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scanner, logFile := newTestScanner(t)

	appendTo(t, logFile, "old content before rotation\n")
	_, err := scanner.Scan(ctx, logFile)
	require.NoError(t, err)

	// Rotate: truncate and write fresh, shorter content.
	require.NoError(t, os.WriteFile(logFile, []byte("fresh line\n"), 0o644))

	lines, err := scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh line"}, lines, "truncated file must be read from offset 0")
}

func TestScanLeavesPartialLineForNextCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scanner, logFile := newTestScanner(t)

	appendTo(t, logFile, "complete line\npartial")

	lines, err := scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"complete line"}, lines)

	// The writer finishes the line before the next cycle.
	appendTo(t, logFile, " now complete\n")

	lines, err = scanner.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial now complete"}, lines)
}

func TestScanMissingFile(t *testing.T) {
	t.Parallel()
	scanner, _ := newTestScanner(t)

	_, err := scanner.Scan(context.Background(), filepath.Join(t.TempDir(), "absent.log"))
	require.Error(t, err)
}

func TestScanOffsetSurvivesScannerRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	offsets := store.NewMemoryStore()
	logFile := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("seen before restart\n"), 0o644))

	first := NewScanner(zaptest.NewLogger(t), offsets, "agent-test")
	lines, err := first.Scan(ctx, logFile)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	appendTo(t, logFile, "seen after restart\n")

	// A new scanner over the same offset store resumes where the old one stopped.
	second := NewScanner(zaptest.NewLogger(t), offsets, "agent-test")
	lines, err = second.Scan(ctx, logFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"seen after restart"}, lines)
}
