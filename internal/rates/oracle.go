// Package rates supplies market exchange rates with a short-lived cache.
package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	rateLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_rate_lookups_total",
		Help: "Rate oracle lookups by cache result",
	}, []string{"result"})

	rateProviderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remit_rate_provider_errors_total",
		Help: "Failed calls to the underlying rate provider",
	})
)

// ErrUnavailable is returned when no rate can be produced for a pair.
var ErrUnavailable = errors.New("rate unavailable")

// Rate is a market rate observation. Timestamp is when the provider
// produced it, not when it was read from cache.
type Rate struct {
	Value     float64   `json:"rate"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

type Provider interface {
	Fetch(ctx context.Context, from, to string) (Rate, error)
}

type cacheEntry struct {
	rate      Rate
	expiresAt time.Time
}

// DefaultFetchTimeout bounds a shared provider call.
const DefaultFetchTimeout = 10 * time.Second

// Oracle caches provider results per "FROM:TO" key for a fixed TTL.
type Oracle struct {
	provider     Provider
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

type Option func(*Oracle)

// WithClock overrides the wall clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithFetchTimeout sets the deadline of a provider call shared by waiters.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.fetchTimeout = d }
}

func NewOracle(provider Provider, ttl time.Duration, opts ...Option) *Oracle {
	o := &Oracle{
		provider:     provider,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		cache:        make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// Rate returns the market rate for from -> to. Hits inside the TTL return
// the cached value as stored; misses go to the provider, with concurrent
// misses for one pair sharing a single call. The shared call is detached
// from any one caller's cancellation; each caller stops waiting when its own
// ctx is done. Provider errors are returned, never masked with a stale value.
func (o *Oracle) Rate(ctx context.Context, from, to string) (Rate, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return Rate{Value: 1, Source: "identity", Timestamp: o.now().UTC()}, nil
	}
	key := pairKey(from, to)

	o.mu.RLock()
	entry, ok := o.cache[key]
	o.mu.RUnlock()
	if ok && o.now().Before(entry.expiresAt) {
		rateLookups.WithLabelValues("hit").Inc()
		return entry.rate, nil
	}
	rateLookups.WithLabelValues("miss").Inc()

	ch := o.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.fetchTimeout)
		defer cancel()
		rate, err := o.provider.Fetch(fetchCtx, from, to)
		if err != nil {
			rateProviderErrors.Inc()
			return Rate{}, err
		}
		if rate.Value <= 0 {
			return Rate{}, fmt.Errorf("%w: provider returned %v for %s", ErrUnavailable, rate.Value, key)
		}
		o.mu.Lock()
		o.cache[key] = cacheEntry{rate: rate, expiresAt: o.now().Add(o.ttl)}
		o.mu.Unlock()
		return rate, nil
	})

	select {
	case <-ctx.Done():
		return Rate{}, fmt.Errorf("fetch rate %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Rate{}, fmt.Errorf("fetch rate %s: %w", key, res.Err)
		}
		return res.Val.(Rate), nil
	}
}
