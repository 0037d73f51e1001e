package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of the work-item ledger, the
// learning store, and the scan-offset store. Writers from multiple agent
// processes are serialized by transactions over the dedup key, so callers
// need no coordination of their own.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var (
	_ schemas.WorkItemLedger = (*Store)(nil)
	_ schemas.LearningStore  = (*Store)(nil)
	_ schemas.OffsetStore    = (*Store)(nil)
)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the backing tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS work_items (
            id            UUID PRIMARY KEY,
            agent_id      TEXT NOT NULL,
            source        TEXT NOT NULL,
            source_ref    TEXT NOT NULL,
            status        TEXT NOT NULL,
            attempt_count INT NOT NULL DEFAULT 0,
            max_attempts  INT NOT NULL,
            payload       JSONB NOT NULL DEFAULT '{}',
            created_at    TIMESTAMPTZ NOT NULL,
            last_seen     TIMESTAMPTZ NOT NULL,
            UNIQUE (agent_id, source, source_ref)
        );
        CREATE TABLE IF NOT EXISTS learnings (
            id         UUID PRIMARY KEY,
            agent_id   TEXT NOT NULL,
            category   TEXT NOT NULL,
            insight    TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS scan_offsets (
            agent_id    TEXT NOT NULL,
            path        TEXT NOT NULL,
            byte_offset BIGINT NOT NULL,
            updated_at  TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (agent_id, path)
        );
    `
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const sqlUpsertWorkItem = `
        INSERT INTO work_items (id, agent_id, source, source_ref, status, attempt_count, max_attempts, payload, created_at, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (agent_id, source, source_ref) DO UPDATE SET
            last_seen = EXCLUDED.last_seen
        RETURNING id;
    `

// UpsertProposals merges collector proposals into the ledger inside one
// transaction. A proposal hitting an existing (agent_id, source, source_ref)
// row only refreshes last_seen; status, attempt_count, and payload of the
// tracked item are left untouched.
func (s *Store) UpsertProposals(ctx context.Context, agentID string, proposals []schemas.WorkItemProposal) ([]schemas.WorkItem, error) {
	if len(proposals) > 0 {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
			}
		}()

		now := time.Now().UTC()
		for _, p := range proposals {
			payload, err := marshalPayload(p.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal payload for %s/%s: %w", p.Source, p.SourceRef, err)
			}

			maxAttempts := p.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = schemas.DefaultMaxAttempts
			}
			var id string
			err = tx.QueryRow(ctx, sqlUpsertWorkItem,
				uuid.New().String(), agentID, p.Source, p.SourceRef,
				string(schemas.StatusNew), 0, maxAttempts, payload, now, now,
			).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("failed to upsert work item %s/%s: %w", p.Source, p.SourceRef, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
	}

	return s.OpenItems(ctx, agentID)
}

const sqlSelectItem = `
        SELECT id, agent_id, source, source_ref, status, attempt_count, max_attempts, payload, created_at, last_seen
        FROM work_items
    `

// OpenItems returns the agent's non-terminal work items, oldest first.
func (s *Store) OpenItems(ctx context.Context, agentID string) ([]schemas.WorkItem, error) {
	query := sqlSelectItem + `
        WHERE agent_id = $1 AND status NOT IN ('FIXED', 'FAILED', 'DONE')
        ORDER BY created_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open work items: %w", err)
	}
	defer rows.Close()

	var items []schemas.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return items, nil
}

// GetItem retrieves a single work item by ID.
func (s *Store) GetItem(ctx context.Context, agentID, id string) (schemas.WorkItem, error) {
	query := sqlSelectItem + `
        WHERE agent_id = $1 AND id = $2;
    `
	rows, err := s.pool.Query(ctx, query, agentID, id)
	if err != nil {
		return schemas.WorkItem{}, fmt.Errorf("failed to query work item %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return schemas.WorkItem{}, fmt.Errorf("error during row iteration: %w", err)
		}
		return schemas.WorkItem{}, fmt.Errorf("work item %s not found", id)
	}
	return scanWorkItem(rows)
}

// UpdateItem persists status, attempt count, and payload changes.
func (s *Store) UpdateItem(ctx context.Context, item schemas.WorkItem) error {
	payload, err := marshalPayload(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", item.ID, err)
	}

	query := `
        UPDATE work_items
        SET status = $3, attempt_count = $4, payload = $5, last_seen = $6
        WHERE agent_id = $1 AND id = $2;
    `
	tag, err := s.pool.Exec(ctx, query,
		item.AgentID, item.ID, string(item.Status), item.AttemptCount, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update work item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("work item %s not found", item.ID)
	}
	return nil
}

// AppendLearnings stores new learnings in one batch transaction.
func (s *Store) AppendLearnings(ctx context.Context, learnings []schemas.Learning) error {
	if len(learnings) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const sqlInsertLearning = `
        INSERT INTO learnings (id, agent_id, category, insight, confidence, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	batch := &pgx.Batch{}
	for _, l := range learnings {
		createdAt := l.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(sqlInsertLearning, l.ID, l.AgentID, l.Category, l.Insight, l.Confidence, createdAt.UTC())
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range learnings {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert learning %s (index %d): %w", learnings[i].ID, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TopLearnings returns up to limit learnings ranked by confidence, then
// recency.
func (s *Store) TopLearnings(ctx context.Context, agentID string, limit int) ([]schemas.Learning, error) {
	query := `
        SELECT id, agent_id, category, insight, confidence, created_at
        FROM learnings
        WHERE agent_id = $1
        ORDER BY confidence DESC, created_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	var learnings []schemas.Learning
	for rows.Next() {
		var l schemas.Learning
		if err := rows.Scan(&l.ID, &l.AgentID, &l.Category, &l.Insight, &l.Confidence, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning row: %w", err)
		}
		learnings = append(learnings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return learnings, nil
}

// GetOffset returns the stored byte offset for a path, or 0 when the path has
// never been scanned.
func (s *Store) GetOffset(ctx context.Context, agentID, path string) (int64, error) {
	query := `
        SELECT byte_offset FROM scan_offsets
        WHERE agent_id = $1 AND path = $2;
    `
	var offset int64
	err := s.pool.QueryRow(ctx, query, agentID, path).Scan(&offset)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query scan offset for %s: %w", path, err)
	}
	return offset, nil
}

// SetOffset records the byte offset up to which a path has been consumed.
func (s *Store) SetOffset(ctx context.Context, agentID, path string, offset int64) error {
	query := `
        INSERT INTO scan_offsets (agent_id, path, byte_offset, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (agent_id, path) DO UPDATE SET
            byte_offset = EXCLUDED.byte_offset,
            updated_at = EXCLUDED.updated_at;
    `
	if _, err := s.pool.Exec(ctx, query, agentID, path, offset, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set scan offset for %s: %w", path, err)
	}
	return nil
}

// scanWorkItem reads one work_items row from a pgx.Rows cursor.
func scanWorkItem(rows pgx.Rows) (schemas.WorkItem, error) {
	var (
		item       schemas.WorkItem
		status     string
		rawPayload []byte
	)
	err := rows.Scan(
		&item.ID, &item.AgentID, &item.Source, &item.SourceRef,
		&status, &item.AttemptCount, &item.MaxAttempts,
		&rawPayload, &item.CreatedAt, &item.LastSeen,
	)
	if err != nil {
		return schemas.WorkItem{}, fmt.Errorf("failed to scan work item row: %w", err)
	}
	item.Status = schemas.WorkItemStatus(status)
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &item.Payload); err != nil {
			return schemas.WorkItem{}, fmt.Errorf("failed to decode payload for %s: %w", item.ID, err)
		}
	}
	return item, nil
}

// marshalPayload serializes a payload map, defaulting to an empty JSON object.
func marshalPayload(payload map[string]string) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(payload)
}
