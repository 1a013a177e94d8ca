package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qcekey/iget/internal/model"
)

var _ model.FingerprintIndex = (*RedisIndex)(nil)

// DefaultRedisKey is the sorted set holding fingerprints scored by first-seen unix time.
const DefaultRedisKey = "iget:fingerprints"

// RedisIndex keeps fingerprints in a Redis sorted set. ZADD NX makes the
// check-and-insert atomic, so several processes may share one index.
type RedisIndex struct {
	client *redis.Client
	key    string
}

// NewRedisIndex parses redisURL and verifies connectivity.
func NewRedisIndex(ctx context.Context, redisURL, key string) (*RedisIndex, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisIndex{client: client, key: key}, nil
}

func (r *RedisIndex) Record(ctx context.Context, fp string, seenAt time.Time) (bool, error) {
	added, err := r.client.ZAddNX(ctx, r.key, redis.Z{
		Score:  float64(seenAt.Unix()),
		Member: fp,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("recording fingerprint %s: %w", fp, err)
	}
	return added == 1, nil
}

// RecordBatch sends every ZADD NX inside one MULTI/EXEC block, so a failed
// round trip leaves the set untouched.
func (r *RedisIndex) RecordBatch(ctx context.Context, fps []string, seenAt time.Time) ([]bool, error) {
	added := make([]bool, len(fps))
	if len(fps) == 0 {
		return added, nil
	}

	cmds := make([]*redis.IntCmd, len(fps))
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, fp := range fps {
			cmds[i] = pipe.ZAddNX(ctx, r.key, redis.Z{Score: float64(seenAt.Unix()), Member: fp})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording %d fingerprints: %w", len(fps), err)
	}
	for i, cmd := range cmds {
		added[i] = cmd.Val() == 1
	}
	return added, nil
}

func (r *RedisIndex) Contains(ctx context.Context, fp string) (bool, error) {
	_, err := r.client.ZScore(ctx, r.key, fp).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking fingerprint %s: %w", fp, err)
	}
	return true, nil
}

func (r *RedisIndex) Evict(ctx context.Context, before time.Time) (int64, error) {
	// "(" makes the bound exclusive: score < before.
	max := "(" + strconv.FormatInt(before.Unix(), 10)
	n, err := r.client.ZRemRangeByScore(ctx, r.key, "-inf", max).Result()
	if err != nil {
		return 0, fmt.Errorf("evicting fingerprints before %v: %w", before, err)
	}
	return n, nil
}

func (r *RedisIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	size, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return model.IndexStats{}, fmt.Errorf("reading index size: %w", err)
	}
	stats := model.IndexStats{Size: size}
	if size == 0 {
		return stats, nil
	}
	oldest, err := r.client.ZRangeWithScores(ctx, r.key, 0, 0).Result()
	if err != nil {
		return model.IndexStats{}, fmt.Errorf("reading oldest fingerprint: %w", err)
	}
	if len(oldest) > 0 {
		stats.Oldest = time.Unix(int64(oldest[0].Score), 0).UTC()
	}
	return stats, nil
}

func (r *RedisIndex) Close() error {
	return r.client.Close()
}
