package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder mirrors presence into Redis so other services can show online state and last
// seen times.
//
// keys:
//
//	pres:user:{userId} = "1" (EX ttl)
//	lastseen:{userId}  = RFC3339 timestamp
type RedisRecorder struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisRecorder creates a recorder. ttl bounds how long a stale online key survives a crash.
func NewRedisRecorder(rdb redis.Cmdable, ttl time.Duration) *RedisRecorder {
	return &RedisRecorder{rdb: rdb, ttl: ttl}
}

func (r *RedisRecorder) Online(ctx context.Context, userID string) error {
	if err := r.rdb.Set(ctx, onlineKey(userID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("set online %s: %w", userID, err)
	}
	return nil
}

func (r *RedisRecorder) Offline(ctx context.Context, userID string, at time.Time) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, onlineKey(userID))
		pipe.Set(ctx, lastSeenKey(userID), at.UTC().Format(time.RFC3339), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set offline %s: %w", userID, err)
	}
	return nil
}

// LastSeen returns the recorded last seen time of a user
func (r *RedisRecorder) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	v, err := r.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last seen %s: %w", userID, err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last seen %s: %w", userID, err)
	}
	return t, true, nil
}

func onlineKey(userID string) string   { return "pres:user:" + userID }
func lastSeenKey(userID string) string { return "lastseen:" + userID }
