package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// StaticProvider serves rates from a fixed table. Inverse pairs are derived
// when only one direction is configured.
type StaticProvider struct {
	rates map[string]float64
	now   func() time.Time
}

// ParseStaticRates converts "FROM:TO" -> "value" entries into a provider.
func ParseStaticRates(table map[string]string) (*StaticProvider, error) {
	rates := make(map[string]float64, len(table))
	for pair, raw := range table {
		parts := strings.Split(pair, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid rate pair %q", pair)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || value <= 0 {
			return nil, fmt.Errorf("invalid rate for %s: %q", pair, raw)
		}
		rates[pairKey(parts[0], parts[1])] = value
	}
	return &StaticProvider{rates: rates, now: time.Now}, nil
}

func (p *StaticProvider) Fetch(_ context.Context, from, to string) (Rate, error) {
	if v, ok := p.rates[pairKey(from, to)]; ok {
		return Rate{Value: v, Source: "static", Timestamp: p.now().UTC()}, nil
	}
	if v, ok := p.rates[pairKey(to, from)]; ok {
		return Rate{Value: 1 / v, Source: "static", Timestamp: p.now().UTC()}, nil
	}
	return Rate{}, fmt.Errorf("%w: no static rate for %s", ErrUnavailable, pairKey(from, to))
}

// HTTPProvider reads rates from an upstream JSON endpoint:
// GET {base}?from=USD&to=MXN -> {"rate": 17.05, "source": "...", "timestamp": "..."}.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type upstreamRate struct {
	Rate      float64   `json:"rate"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *HTTPProvider) Fetch(ctx context.Context, from, to string) (Rate, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return Rate{}, fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Rate{}, fmt.Errorf("build upstream request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rate{}, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}
	var body upstreamRate
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Rate{}, fmt.Errorf("decode upstream rate: %w", err)
	}
	if body.Rate <= 0 {
		return Rate{}, fmt.Errorf("%w: upstream rate %v", ErrUnavailable, body.Rate)
	}
	if body.Source == "" {
		body.Source = u.Host
	}
	if body.Timestamp.IsZero() {
		body.Timestamp = time.Now()
	}
	return Rate{Value: body.Rate, Source: body.Source, Timestamp: body.Timestamp.UTC()}, nil
}

// BreakerProvider stops calling a failing provider for a cool-down period.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProvider(name string, next Provider, failures uint32, openTimeout time.Duration) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Caller cancellation is not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
	return &BreakerProvider{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerProvider) Fetch(ctx context.Context, from, to string) (Rate, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		rate, err := p.next.Fetch(ctx, from, to)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return rate, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Rate{}, fmt.Errorf("%w: %s breaker %v", ErrUnavailable, p.breaker.Name(), err)
		}
		return Rate{}, err
	}
	return result.(Rate), nil
}

// State exposes the breaker state for health reporting.
func (p *BreakerProvider) State() string {
	return p.breaker.State().String()
}
