package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardexport/internal/store"
)

// Redis keeps job state as JSON values with a TTL, so any api or worker replica can read it.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed Store.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func stateKey(id string) string   { return store.Key("job", id) }
func payloadKey(id string) string { return store.Key("job", id, "payload") }
func cancelKey(id string) string  { return store.Key("job", id, "cancel") }

// Create stores state and payload together.
func (r *Redis) Create(ctx context.Context, st State, p Payload) error {
	sb, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(st.ID), sb, r.ttl)
		pipe.Set(ctx, payloadKey(st.ID), pb, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store job %s: %w", st.ID, err)
	}
	return nil
}

// Get loads a job's state.
func (r *Redis) Get(ctx context.Context, id string) (State, error) {
	return r.get(ctx, r.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) get(ctx context.Context, c getter, id string) (State, error) {
	raw, err := c.Get(ctx, stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return st, nil
}

// Payload loads a job's input.
func (r *Redis) Payload(ctx context.Context, id string) (Payload, error) {
	raw, err := r.client.Get(ctx, payloadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, fmt.Errorf("load job payload %s: %w", id, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode job payload %s: %w", id, err)
	}
	return p, nil
}

// Update runs fn inside an optimistic WATCH transaction and retries on conflicts.
func (r *Redis) Update(ctx context.Context, id string, fn func(*State) error) (State, error) {
	return r.modify(ctx, id, func(st *State) error {
		if err := fn(st); err != nil {
			return err
		}
		st.UpdatedAt = time.Now().UTC()
		return nil
	}, nil)
}

// Cancel sets the cancel flag and moves pending jobs to canceled.
func (r *Redis) Cancel(ctx context.Context, id string) (State, error) {
	return r.modify(ctx, id, func(st *State) error {
		return applyCancel(st, time.Now())
	}, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Set(ctx, cancelKey(id), "1", r.ttl)
	})
}

// CancelRequested reports whether the cancel flag is set.
func (r *Redis) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel %s: %w", id, err)
	}
	return n > 0, nil
}

const maxTxRetries = 5

func (r *Redis) modify(ctx context.Context, id string, fn func(*State) error, extra func(context.Context, redis.Pipeliner)) (State, error) {
	key := stateKey(id)
	var out State
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			st, err := r.get(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := fn(&st); err != nil {
				out = st
				return err
			}
			b, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("encode job state: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, r.ttl)
				pipe.Expire(ctx, payloadKey(id), r.ttl)
				if extra != nil {
					extra(ctx, pipe)
				}
				return nil
			})
			out = st
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return out, fmt.Errorf("update job %s: too much contention", id)
}
