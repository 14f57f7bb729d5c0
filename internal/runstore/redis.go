package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/leanflow/model"
)

const activeIndexKey = "leanflow:runs:active"

// RedisStore keeps each run as a JSON string with a TTL. Non-terminal runs
// are also indexed in a sorted set scored by their update time so stale
// runs can be found without scanning the keyspace.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed run store. A zero ttl keeps runs
// forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// RunKey builds the key a run is stored under.
func RunKey(sessionID string) string {
	return fmt.Sprintf("leanflow:run:%s", sessionID)
}

// Put writes run inside a WATCH transaction so the version check and the
// write are atomic.
func (s *RedisStore) Put(ctx context.Context, run *model.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	key := RunKey(run.SessionID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return model.NewPersistenceError("get", err)
		default:
			existing, err := decodeRun(raw)
			if err != nil {
				return err
			}
			if err := checkWrite(existing, run); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if run.Terminal() {
				pipe.ZRem(ctx, activeIndexKey, run.SessionID)
			} else {
				pipe.ZAdd(ctx, activeIndexKey, redis.Z{
					Score:  float64(run.UpdatedAt.UnixMilli()),
					Member: run.SessionID,
				})
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return model.NewConflictError(fmt.Sprintf("run %q was modified concurrently", run.SessionID))
	}
	var env *model.ErrorEnvelope
	if err != nil && !errors.As(err, &env) {
		return model.NewPersistenceError("put", err)
	}
	return err
}

// Get loads a run by session ID.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*model.PipelineRun, error) {
	raw, err := s.client.Get(ctx, RunKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, model.NewPersistenceError("get", err)
	}
	return decodeRun(raw)
}

// FindStale returns indexed runs whose last update is before cutoff. Index
// entries whose key has expired are pruned.
func (s *RedisStore) FindStale(ctx context.Context, cutoff time.Time) ([]*model.PipelineRun, error) {
	ids, err := s.client.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, model.NewPersistenceError("find stale", err)
	}

	var result []*model.PipelineRun
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if model.IsCode(err, model.ErrNotFound) {
			s.client.ZRem(ctx, activeIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
