package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/leanflow/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	session_id TEXT PRIMARY KEY,
	status     TEXT        NOT NULL,
	version    INTEGER     NOT NULL,
	state      JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_runs_active_idx
	ON pipeline_runs (updated_at) WHERE status NOT IN ('completed', 'failed');
`

// PgStore is a PostgreSQL-backed Store using pgx/v5. The full run is kept in
// a JSONB column; status and version are duplicated into columns so the
// write rules are enforced by the upsert itself.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL run store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the pipeline_runs table if it does not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return model.NewPersistenceError("migrate", err)
	}
	return nil
}

// Put upserts run when the stored row is older and not terminal.
func (s *PgStore) Put(ctx context.Context, run *model.PipelineRun) error {
	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (session_id, status, version, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
		WHERE pipeline_runs.version < EXCLUDED.version
		  AND pipeline_runs.status NOT IN ('completed', 'failed')`,
		run.SessionID, string(run.Status), run.Version, state, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return model.NewPersistenceError("put", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.Get(ctx, run.SessionID)
		if err != nil {
			return err
		}
		if err := checkWrite(existing, run); err != nil {
			return err
		}
		return model.NewConflictError(fmt.Sprintf("run %q was not written", run.SessionID))
	}
	return nil
}

// Get loads a run by session ID.
func (s *PgStore) Get(ctx context.Context, sessionID string) (*model.PipelineRun, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM pipeline_runs WHERE session_id = $1`, sessionID,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, model.NewPersistenceError("get", err)
	}
	return decodeRun(state)
}

// FindStale returns non-terminal runs last updated before cutoff.
func (s *PgStore) FindStale(ctx context.Context, cutoff time.Time) ([]*model.PipelineRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT state FROM pipeline_runs
		WHERE status NOT IN ('completed', 'failed') AND updated_at < $1
		ORDER BY updated_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, model.NewPersistenceError("find stale", err)
	}
	defer rows.Close()

	var result []*model.PipelineRun
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, model.NewPersistenceError("scan run", err)
		}
		run, err := decodeRun(state)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewPersistenceError("find stale", err)
	}
	return result, nil
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func decodeRun(data []byte) (*model.PipelineRun, error) {
	var run model.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, model.NewPersistenceError("decode run", err)
	}
	return &run, nil
}
