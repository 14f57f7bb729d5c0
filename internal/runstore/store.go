// Package runstore persists PipelineRun state.
//
// Every driver enforces the same write rules: a write must carry a version
// strictly greater than the stored one, and a run that reached a terminal
// status is never overwritten.
package runstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/leanflow/model"
)

// Store persists pipeline runs.
type Store interface {
	// Put writes run. The caller bumps run.Version before every write.
	// Returns CONFLICT if the stored version is not older or the stored run
	// is terminal.
	Put(ctx context.Context, run *model.PipelineRun) error

	// Get returns the latest persisted state of a run. Returns NOT_FOUND if
	// no run with that ID exists.
	Get(ctx context.Context, sessionID string) (*model.PipelineRun, error)

	// FindStale returns non-terminal runs last updated before cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]*model.PipelineRun, error)

	// HealthCheck reports whether the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// checkWrite applies the version and terminal rules shared by every driver.
// existing is nil when the run has never been written.
func checkWrite(existing, next *model.PipelineRun) error {
	if existing == nil {
		return nil
	}
	if existing.Terminal() {
		return model.NewConflictError(
			fmt.Sprintf("run %q is %s and cannot be modified", next.SessionID, existing.Status),
		)
	}
	if next.Version <= existing.Version {
		return model.NewConflictError(
			fmt.Sprintf("run %q version conflict (stored %d, got %d)", next.SessionID, existing.Version, next.Version),
		)
	}
	return nil
}

func notFound(sessionID string) error {
	return model.NewNotFoundError(fmt.Sprintf("run %q not found", sessionID))
}
