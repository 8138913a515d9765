package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/notify"
	"go.uber.org/zap"
)

// async runs fn after the primary write has committed. It gets a context
// detached from the request with its own deadline; a failure is logged and
// counted, never returned.
func (s *Service) async(parent context.Context, kind string, fn func(ctx context.Context) error) {
	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.SideEffectTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				sideEffectFailures.WithLabelValues(kind).Inc()
				s.logger.Error("side effect panicked", zap.String("kind", kind), zap.Any("panic", r))
			}
		}()
		if err := fn(ctx); err != nil {
			sideEffectFailures.WithLabelValues(kind).Inc()
			s.logger.Warn("side effect failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func (s *Service) audit(ctx context.Context, actor, action, entityType, entityID string, metadata map[string]any) {
	entry := domain.AuditEntry{
		ID:         uuid.NewString(),
		Actor:      actorOrSystem(actor),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  s.clock(),
	}
	s.async(ctx, "audit", func(ctx context.Context) error {
		return s.store.AppendAudit(ctx, entry)
	})
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

// notifyStatus sends the sender a receipt. Transfers without a known user
// are skipped.
func (s *Service) notifyStatus(ctx context.Context, t domain.Transfer, q *domain.Quote, reason string) {
	if t.UserID == "" {
		return
	}
	n := notify.Notification{
		TransferID:    t.ID,
		ReferenceCode: t.ReferenceCode,
		UserID:        t.UserID,
		Status:        t.Status,
		Rail:          t.Rail,
		Reason:        reason,
		At:            t.UpdatedAt,
	}
	if q != nil {
		n.SendAmount = domain.MoneyString(q.SendAmount)
		n.FromAsset = q.FromAsset
		n.RecipientGets = domain.MoneyString(q.RecipientGets)
		n.ToAsset = q.ToAsset
	}
	s.async(ctx, "notify", func(ctx context.Context) error {
		return s.notifier.SendTransferStatus(ctx, n)
	})
}

func (s *Service) alertFailed(ctx context.Context, t domain.Transfer, reason string) {
	a := notify.Alert{
		TransferID:    t.ID,
		ReferenceCode: t.ReferenceCode,
		Rail:          t.Rail,
		Reason:        reason,
		At:            t.UpdatedAt,
	}
	s.async(ctx, "alert", func(ctx context.Context) error {
		return s.alerter.TransferFailed(ctx, a)
	})
}

func (s *Service) retryAfter(resetAt time.Time) time.Duration {
	d := resetAt.Sub(s.clock())
	if d < 0 {
		return 0
	}
	return d
}

// enforce applies the action's rate limit to identity. Actions without a
// rule are unlimited.
func (s *Service) enforce(ctx context.Context, action, identity string) error {
	if s.limiter == nil {
		return nil
	}
	rule, ok := s.cfg.Limits[action]
	if !ok || rule.Limit <= 0 {
		return nil
	}
	if identity == "" {
		identity = "anonymous"
	}
	d, err := s.limiter.Allow(ctx, fmt.Sprintf("%s:%s", action, identity), rule.Limit, rule.Window)
	if err != nil {
		return domain.Internal(err, "rate limit check failed")
	}
	if !d.Allowed {
		return domain.RateLimited(s.retryAfter(d.ResetAt))
	}
	return nil
}
