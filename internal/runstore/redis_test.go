package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/leanflow/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := newTestRedis(t)
	runContract(t, NewRedisStore(client, 0))
}

func TestRedisStore_ttl(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, time.Minute)
	ctx := context.Background()

	if err := s.Put(ctx, newRun("s-ttl", time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := s.Get(ctx, "s-ttl"); !model.IsCode(err, model.ErrNotFound) {
		t.Fatalf("Get after TTL: err = %v, want NOT_FOUND", err)
	}
	stale, err := s.FindStale(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("expired run still reported stale: %v", stale)
	}
	if mr.Exists(activeIndexKey) {
		if members, _ := mr.ZMembers(activeIndexKey); len(members) != 0 {
			t.Errorf("index not pruned: %v", members)
		}
	}
}

func TestRedisStore_terminalLeavesIndex(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, 0)
	ctx := context.Background()

	run := newRun("s-idx", time.Now())
	if err := s.Put(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Status = model.RunCompleted
	run.Version = 2
	if err := s.Put(ctx, run); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(activeIndexKey) {
		if members, _ := mr.ZMembers(activeIndexKey); len(members) != 0 {
			t.Errorf("completed run still indexed: %v", members)
		}
	}
}

func TestRedisStore_unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, 0)
	mr.Close()

	err := s.Put(context.Background(), newRun("s-down", time.Now()))
	if !model.IsCode(err, model.ErrPersistence) {
		t.Fatalf("err = %v, want PERSISTENCE_ERROR", err)
	}
	if s.HealthCheck(context.Background()) == nil {
		t.Error("HealthCheck succeeded against a closed server")
	}
}
