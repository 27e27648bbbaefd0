package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"shaper/internal/models"
)

// RedisStats keeps decision counters in Redis hashes so several mock
// upstream replicas can share them.
//
//	{prefix}total                 allowed / denied, never expires
//	{prefix}minute:{yyyymmddhhmm} allowed / denied, expires after ttl
//	{prefix}route                 "{METHOD} {path}:{allowed|denied}"
//	{prefix}partition:{pk}        allowed / denied, expires after ttl
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisStatsOption configures a RedisStats.
type RedisStatsOption func(*RedisStats)

// WithStatsPrefix sets the key prefix.
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) {
		s.prefix = strings.TrimRight(prefix, ":") + ":"
	}
}

// WithStatsTTL sets the expiry of bucketed and per-partition keys.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

// NewRedisStats wraps an existing client.
func NewRedisStats(rdb *redis.Client, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "shaper:stats:",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg models.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Record implements StatsStore. All counters for one event are written in a
// single pipeline.
func (s *RedisStats) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+"total", field, 1)

	bucketKey := fmt.Sprintf("%sminute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+"route", route+":"+field, 1)
	}

	if pk := strings.TrimSpace(ev.Partition); pk != "" {
		partitionKey := s.prefix + "partition:" + pk
		pipe.HIncrBy(ctx, partitionKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, partitionKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Total reads the cumulative counters.
func (s *RedisStats) Total(ctx context.Context) (Counters, error) {
	if s == nil || s.rdb == nil {
		return Counters{}, nil
	}
	vals, err := s.rdb.HGetAll(ctx, s.prefix+"total").Result()
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return c, nil
}

// Ping checks connectivity.
func (s *RedisStats) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStats) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
