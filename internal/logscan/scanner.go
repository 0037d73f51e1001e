// internal/logscan/scanner.go
package logscan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// Scanner reads newly appended lines from log files, one batch per cycle.
// The consumed byte offset is persisted per (agent, path) so restarts resume
// where the previous process stopped instead of re-reading history.
type Scanner struct {
	logger  *zap.Logger
	offsets schemas.OffsetStore
	agentID string
}

// NewScanner builds a scanner persisting offsets under the given agent ID.
func NewScanner(logger *zap.Logger, offsets schemas.OffsetStore, agentID string) *Scanner {
	return &Scanner{
		logger:  logger.Named("logscan"),
		offsets: offsets,
		agentID: agentID,
	}
}

// Scan returns the complete lines appended to path since the last scan and
// advances the persisted offset past them. A file smaller than the stored
// offset was truncated or rotated; the offset resets to 0 and the file is
// read from the top. A trailing partial line (no newline yet) is left for the
// next scan.
func (s *Scanner) Scan(ctx context.Context, path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file %s: %w", path, err)
	}

	offset, err := s.offsets.GetOffset(ctx, s.agentID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load offset for %s: %w", path, err)
	}

	if info.Size() < offset {
		s.logger.Info("Log file shrank since last scan, assuming truncation",
			zap.String("path", path),
			zap.Int64("stored_offset", offset),
			zap.Int64("size", info.Size()))
		offset = 0
	}

	if info.Size() == offset {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %s to offset %d: %w", path, offset, err)
	}

	// Bound the read to the size observed at Stat time so concurrent
	// appends land in the next cycle and the offset arithmetic stays exact.
	reader := bufio.NewReader(io.LimitReader(file, info.Size()-offset))

	var (
		lines    []string
		consumed int64
	)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			consumed += int64(len(line))
			lines = append(lines, strings.TrimRight(line, "\r\n"))
			continue
		}
		if errors.Is(err, io.EOF) {
			// Anything left is a partial line still being written.
			break
		}
		return nil, fmt.Errorf("failed reading %s: %w", path, err)
	}

	if err := s.offsets.SetOffset(ctx, s.agentID, path, offset+consumed); err != nil {
		return nil, fmt.Errorf("failed to persist offset for %s: %w", path, err)
	}

	s.logger.Debug("Log scan complete",
		zap.String("path", path),
		zap.Int("new_lines", len(lines)),
		zap.Int64("offset", offset+consumed))
	return lines, nil
}
