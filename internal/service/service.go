// Package service implements quoting, route recommendation and the transfer
// state machine on top of the store, rate oracle, limiter and payout
// adapters.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/notify"
	"github.com/punchamoorthee/remitops/internal/payout"
	"github.com/punchamoorthee/remitops/internal/rates"
	"github.com/punchamoorthee/remitops/internal/ratelimit"
	"github.com/punchamoorthee/remitops/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Rate-limited actions. Bucket keys are "<action>:<identity>".
const (
	ActionQuote      = "quote:create"
	ActionRecommend  = "recommendation:read"
	ActionTransfer   = "transfer:create"
	ActionTransition = "transfer:transition"
)

// Rule is a fixed-window limit for one action.
type Rule struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	QuoteTTL          time.Duration
	MinSendAmount     float64
	DefaultMargin     domain.MarginModel
	Limits            map[string]Rule
	ReferenceAttempts int
	AutoExecute       bool
	SideEffectTimeout time.Duration
}

// RateSource is satisfied by *rates.Oracle.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (rates.Rate, error)
}

// PayoutRouter is satisfied by *payout.Registry.
type PayoutRouter interface {
	For(rail domain.Rail) (payout.Adapter, error)
}

type Deps struct {
	Store    store.Store
	Rates    RateSource
	Limiter  ratelimit.Limiter
	Payouts  PayoutRouter
	Notifier notify.Notifier
	Alerter  notify.Alerter
	Logger   *zap.Logger
	Now      func() time.Time
}

type Service struct {
	cfg      Config
	store    store.Store
	rates    RateSource
	limiter  ratelimit.Limiter
	payouts  PayoutRouter
	notifier notify.Notifier
	alerter  notify.Alerter
	logger   *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer
	newRef   func() (string, error)

	effects sync.WaitGroup
}

func New(cfg Config, deps Deps) *Service {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 30 * time.Second
	}
	if cfg.ReferenceAttempts <= 0 {
		cfg.ReferenceAttempts = 6
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notifier == nil || deps.Alerter == nil {
		logNotifier := notify.NewLogNotifier(deps.Logger)
		if deps.Notifier == nil {
			deps.Notifier = logNotifier
		}
		if deps.Alerter == nil {
			deps.Alerter = logNotifier
		}
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		rates:    deps.Rates,
		limiter:  deps.Limiter,
		payouts:  deps.Payouts,
		notifier: deps.Notifier,
		alerter:  deps.Alerter,
		logger:   deps.Logger,
		now:      deps.Now,
		tracer:   otel.Tracer("github.com/punchamoorthee/remitops/internal/service"),
		newRef:   newReference,
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Wait blocks until in-flight notifications and audit writes finish.
func (s *Service) Wait() {
	s.effects.Wait()
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "service."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.KindOf(err).String())
	}
	span.End()
}
