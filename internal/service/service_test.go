package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/notify"
	"github.com/punchamoorthee/remitops/internal/payout"
	"github.com/punchamoorthee/remitops/internal/rates"
	"github.com/punchamoorthee/remitops/internal/ratelimit"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/punchamoorthee/remitops/internal/store/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	notes  []notify.Notification
	alerts []notify.Alert
	err    error
}

func (r *recorder) SendTransferStatus(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recorder) TransferFailed(_ context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) notifications() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.notes...)
}

func (r *recorder) alertList() []notify.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Alert(nil), r.alerts...)
}

type stubAdapter struct {
	mu      sync.Mutex
	outcome payout.Outcome
	err     error
	calls   atomic.Int32
}

func (a *stubAdapter) set(outcome payout.Outcome, err error) {
	a.mu.Lock()
	a.outcome, a.err = outcome, err
	a.mu.Unlock()
}

func (a *stubAdapter) Execute(context.Context, domain.Transfer) (payout.Outcome, error) {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome, a.err
}

type harness struct {
	svc      *Service
	store    *sqlite.Store
	clock    *testClock
	rec      *recorder
	adapters map[domain.Rail]*stubAdapter
}

func testConfig() Config {
	return Config{
		QuoteTTL:      30 * time.Second,
		MinSendAmount: 1,
		DefaultMargin: domain.MarginModel{FXMarginPct: 1.5, FeeFixed: 1.0, FeePct: 2.9},
		Limits: map[string]Rule{
			ActionQuote:      {Limit: 1000, Window: time.Minute},
			ActionRecommend:  {Limit: 1000, Window: time.Minute},
			ActionTransfer:   {Limit: 1000, Window: time.Minute},
			ActionTransition: {Limit: 1000, Window: time.Minute},
		},
		ReferenceAttempts: 6,
		SideEffectTimeout: time.Second,
	}
}

func newHarness(t *testing.T, configure ...func(*Config, *Deps)) *harness {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedCatalog(context.Background(), store.DefaultAssets(), store.DefaultRoutes()))

	clock := &testClock{t: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)}
	provider, err := rates.ParseStaticRates(map[string]string{
		"USD:MXN": "17.05", "USD:PHP": "56.20", "USD:KES": "129.40", "USD:NGN": "1530", "EUR:MXN": "18.40",
	})
	require.NoError(t, err)

	rec := &recorder{}
	adapters := map[domain.Rail]*stubAdapter{}
	registry := map[domain.Rail]payout.Adapter{}
	for _, rail := range domain.Rails {
		a := &stubAdapter{outcome: payout.Outcome{OK: true, Provider: "stub-" + string(rail)}}
		adapters[rail] = a
		registry[rail] = a
	}

	cfg := testConfig()
	deps := Deps{
		Store:    s,
		Rates:    rates.NewOracle(provider, 30*time.Second, rates.WithClock(clock.Now)),
		Limiter:  ratelimit.NewStoreLimiter(s, clock.Now),
		Payouts:  payout.NewRegistry(registry),
		Notifier: rec,
		Alerter:  rec,
		Logger:   zap.NewNop(),
		Now:      clock.Now,
	}
	for _, c := range configure {
		c(&cfg, &deps)
	}
	svc := New(cfg, deps)
	t.Cleanup(svc.Wait)
	return &harness{svc: svc, store: s, clock: clock, rec: rec, adapters: adapters}
}

func ptr(v float64) *float64 { return &v }

func (h *harness) quote(t *testing.T, from, to string, rail domain.Rail) domain.Quote {
	t.Helper()
	q, err := h.svc.CreateQuote(context.Background(), QuoteRequest{
		From: from, To: to, Rail: string(rail), SendAmount: 100, Identity: "tester",
	})
	require.NoError(t, err)
	return q
}

func bankRecipient() domain.Recipient {
	return domain.Recipient{Name: "Ana Ruiz", BankName: "Banorte", BankAccount: "072180005555"}
}

// bankTransfer creates a READY bank transfer for a fresh USD->MXN quote.
func (h *harness) bankTransfer(t *testing.T, key string) domain.Transfer {
	t.Helper()
	q := h.quote(t, "USD", "MXN", domain.RailBank)
	res, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
		QuoteID: q.ID, Rail: string(domain.RailBank), Recipient: bankRecipient(),
		IdempotencyKey: key, Identity: "tester", UserID: "user-1",
	})
	require.NoError(t, err)
	return res.Transfer
}

func (h *harness) lightningTransfer(t *testing.T, destination string) TransferState {
	t.Helper()
	q := h.quote(t, "USD", "MXN", domain.RailLightning)
	req := CreateTransferRequest{
		QuoteID: q.ID, Rail: string(domain.RailLightning), Recipient: domain.Recipient{Name: "Luis"},
		Identity: "tester", UserID: "user-2",
	}
	if destination != "" {
		req.Crypto = &CryptoDestination{Destination: destination}
	}
	res, err := h.svc.CreateTransfer(context.Background(), req)
	require.NoError(t, err)
	return res.TransferState
}

func (h *harness) transition(t *testing.T, id string, status domain.TransferStatus) TransferState {
	t.Helper()
	st, err := h.svc.Transition(context.Background(), TransitionRequest{TransferID: id, Status: string(status), Identity: "tester"})
	require.NoError(t, err)
	return st
}

func (h *harness) eventTypes(t *testing.T, id string) []domain.EventType {
	t.Helper()
	events, err := h.store.ListTransferEvents(context.Background(), id)
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func kindOf(err error) domain.Kind {
	return domain.KindOf(err)
}

func asDomainError(t *testing.T, err error) *domain.Error {
	t.Helper()
	var de *domain.Error
	require.True(t, errors.As(err, &de), "expected *domain.Error, got %v", err)
	return de
}
