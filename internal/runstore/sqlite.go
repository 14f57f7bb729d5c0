package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pitabwire/leanflow/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	session_id TEXT PRIMARY KEY,
	status     TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	state      TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_runs_updated_idx ON pipeline_runs (updated_at);
`

// SQLiteStore is a single-file Store for the CLI and single-node
// deployments. It uses the pure-Go modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, model.NewPersistenceError("open sqlite", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, model.NewPersistenceError("migrate", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts run when the stored row is older and not terminal.
func (s *SQLiteStore) Put(ctx context.Context, run *model.PipelineRun) error {
	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (session_id, status, version, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at
		WHERE pipeline_runs.version < excluded.version
		  AND pipeline_runs.status NOT IN ('completed', 'failed')`,
		run.SessionID, string(run.Status), run.Version, string(state),
		run.CreatedAt.UnixNano(), run.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return model.NewPersistenceError("put", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewPersistenceError("put", err)
	}
	if n == 0 {
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
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*model.PipelineRun, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM pipeline_runs WHERE session_id = ?`, sessionID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, model.NewPersistenceError("get", err)
	}
	return decodeRun([]byte(state))
}

// FindStale returns non-terminal runs last updated before cutoff.
func (s *SQLiteStore) FindStale(ctx context.Context, cutoff time.Time) ([]*model.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state FROM pipeline_runs
		WHERE status NOT IN ('completed', 'failed') AND updated_at < ?
		ORDER BY updated_at ASC`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return nil, model.NewPersistenceError("find stale", err)
	}
	defer rows.Close()

	var result []*model.PipelineRun
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, model.NewPersistenceError("scan run", err)
		}
		run, err := decodeRun([]byte(state))
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

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
