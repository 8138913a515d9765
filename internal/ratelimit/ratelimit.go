// Package ratelimit implements fixed-window request limiting shared across
// service instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/redis/go-redis/v9"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "remit_rate_limit_decisions_total",
	Help: "Rate limit decisions by backend and outcome",
}, []string{"backend", "outcome"})

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits at most limit calls per key in each fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

func decide(backend string, count, limit int, resetAt time.Time) Decision {
	d := Decision{Allowed: count <= limit, Remaining: limit - count, ResetAt: resetAt}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
	}
	decisions.WithLabelValues(backend, outcome).Inc()
	return d
}

// StoreLimiter keeps buckets in the relational store.
type StoreLimiter struct {
	buckets store.BucketStore
	now     func() time.Time
}

func NewStoreLimiter(buckets store.BucketStore, now func() time.Time) *StoreLimiter {
	if now == nil {
		now = time.Now
	}
	return &StoreLimiter{buckets: buckets, now: now}
}

func (l *StoreLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	count, resetAt, err := l.buckets.IncrementBucket(ctx, key, limit, window, l.now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return decide("store", count, limit, resetAt), nil
}

const keyPrefix = "ratelimit:"

// The count never moves past limit once reached, so a rejected call does
// not extend the window.
var allowScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if not current then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, window}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
current = tonumber(current)
if current >= limit then
  return {current + 1, ttl}
end
return {redis.call('INCR', KEYS[1]), ttl}
`)

// RedisLimiter keeps buckets in Redis as expiring counters.
type RedisLimiter struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := allowScript.Run(ctx, l.client, []string{keyPrefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit %s: unexpected reply %v", key, res)
	}
	resetAt := l.now().UTC().Add(time.Duration(res[1]) * time.Millisecond)
	return decide("redis", int(res[0]), limit, resetAt), nil
}
