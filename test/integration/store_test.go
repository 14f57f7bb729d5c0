package integration

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/leanflow/internal/reasoning"
	"github.com/pitabwire/leanflow/internal/runstore"
	"github.com/pitabwire/leanflow/model"
)

// Runs must survive on every durable driver exactly as they do in memory.
func TestStore_RunPersistedAcrossDrivers(t *testing.T) {
	drivers := map[string]func(t *testing.T) runstore.Store{
		"redis": func(t *testing.T) runstore.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return runstore.NewRedisStore(client, time.Hour)
		},
		"sqlite": func(t *testing.T) runstore.Store {
			s, err := runstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range drivers {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			h := NewTestHarness(t, WithStore(store))
			h.Reasoning.OnTask(reasoning.TaskAdvise).RespondWith(NoAdvice())

			run := h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow(), Org: CostedOrg()}, http.StatusOK)

			stored, err := store.Get(context.Background(), run.SessionID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if stored.Status != model.RunCompleted {
				t.Errorf("stored Status = %s", stored.Status)
			}
			if stored.Version != len(stored.Events) {
				t.Errorf("Version = %d, events = %d", stored.Version, len(stored.Events))
			}
			if stored.Plan == nil || len(stored.Plan.Recommendations) != len(run.Plan.Recommendations) {
				t.Errorf("stored plan differs from the returned one")
			}
		})
	}
}
