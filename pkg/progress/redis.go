package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "progress:"

// RedisTracker stores progress in an external keyed store with a per-key TTL
// so abandoned submissions expire and progress survives process restarts.
// The read-modify-write in Update is safe because all writes for a given
// upload id come from the single task processing that submission.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (t *RedisTracker) Update(ctx context.Context, uploadID string, update Update) error {
	key := keyPrefix + uploadID

	state := State{UploadID: uploadID, Stage: StageValidation}
	raw, err := t.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("decoding progress state: %w", err)
		}
	case errors.Is(err, redis.Nil):
		// first update for this upload
	default:
		return fmt.Errorf("reading progress state: %w", err)
	}

	state.apply(update)

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding progress state: %w", err)
	}
	return t.client.Set(ctx, key, encoded, t.ttl).Err()
}

func (t *RedisTracker) Read(ctx context.Context, uploadID string) (*State, error) {
	raw, err := t.client.Get(ctx, keyPrefix+uploadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress state: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decoding progress state: %w", err)
	}
	return &state, nil
}

func (t *RedisTracker) Clear(ctx context.Context, uploadID string) error {
	return t.client.Del(ctx, keyPrefix+uploadID).Err()
}
