package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type TransitionRequest struct {
	TransferID string
	Status     string
	Identity   string
	Actor      string
}

// TransferDetails is the full view of a transfer for lookups.
type TransferDetails struct {
	Transfer     domain.Transfer        `json:"transfer"`
	Quote        domain.Quote           `json:"quote"`
	CryptoPayout *domain.CryptoPayout   `json:"cryptoPayout,omitempty"`
	Events       []domain.TransferEvent `json:"events"`
}

func (s *Service) getTransfer(ctx context.Context, id string) (domain.Transfer, error) {
	t, err := s.store.GetTransfer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transfer{}, domain.NotFound("transfer %s not found", id)
	}
	if err != nil {
		return domain.Transfer{}, domain.Internal(err, "transfer lookup failed")
	}
	return t, nil
}

// payoutTarget is the payout status a terminal transfer status drags a
// still-open Lightning payout into.
func payoutTarget(next domain.TransferStatus) domain.PayoutStatus {
	switch next {
	case domain.StatusCanceled, domain.StatusExpired:
		return domain.PayoutExpired
	case domain.StatusFailed:
		return domain.PayoutFailed
	}
	return ""
}

// statusChange builds the guarded write for t moving to next, including
// the payout side of it.
func statusChange(t domain.Transfer, payout *domain.CryptoPayout, next domain.TransferStatus, message string, at time.Time) store.StatusChange {
	change := store.StatusChange{
		TransferID: t.ID,
		From:       t.Status,
		To:         next,
		At:         at,
		Events: []domain.TransferEvent{
			{TransferID: t.ID, Type: domain.EventFor(next), Message: message, CreatedAt: at},
		},
	}
	if payout != nil {
		if target := payoutTarget(next); target != "" && payout.Status.CanTransitionTo(target) {
			change.PayoutFrom, change.PayoutTo = payout.Status, target
			change.PayoutReason = message
		}
	}
	return change
}

func applied(t domain.Transfer, change store.StatusChange) domain.Transfer {
	t.Status = change.To
	t.UpdatedAt = change.At
	return t
}

func (s *Service) apply(ctx context.Context, change store.StatusChange) error {
	err := s.store.ApplyStatusChange(ctx, change)
	if errors.Is(err, store.ErrStaleState) {
		return domain.Conflict(domain.ErrInvalidTransition, "transfer %s changed concurrently", change.TransferID)
	}
	if err != nil {
		return domain.Internal(err, "could not update transfer")
	}
	if change.To != "" {
		transitions.WithLabelValues(string(change.From), string(change.To)).Inc()
	}
	return nil
}

// Transition moves a transfer along the state machine.
//
// READY -> PROCESSING re-checks the quote: an expired quote expires the
// transfer instead, and the EXPIRED state is returned alongside a Gone
// error. With auto-execution on, entering PROCESSING runs the payout.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (st TransferState, err error) {
	ctx, span := s.startSpan(ctx, "Transition",
		attribute.String("transfer_id", req.TransferID), attribute.String("status", req.Status))
	defer func() { endSpan(span, err) }()

	next, err := domain.ParseTransferStatus(req.Status)
	if err != nil {
		return TransferState{}, domain.Validation("unknown status %q", req.Status)
	}
	if err := s.enforce(ctx, ActionTransition, req.Identity); err != nil {
		return TransferState{}, err
	}

	t, err := s.getTransfer(ctx, req.TransferID)
	if err != nil {
		return TransferState{}, err
	}
	if t.Status == next || !t.Status.CanTransitionTo(next) {
		return TransferState{}, domain.Conflict(domain.ErrInvalidTransition, "cannot move transfer from %s to %s", t.Status, next)
	}
	cur, err := s.loadState(ctx, t)
	if err != nil {
		return TransferState{}, err
	}

	var quote *domain.Quote
	now := s.clock()
	if t.Status == domain.StatusReady && next == domain.StatusProcessing {
		q, err := s.store.GetQuote(ctx, t.QuoteID)
		if err != nil {
			return TransferState{}, domain.Internal(err, "quote lookup failed")
		}
		quote = &q
		if q.Expired(now) {
			return s.expire(ctx, cur, q, req.Actor)
		}
	}
	if next == domain.StatusCompleted && t.Rail == domain.RailLightning {
		if cur.CryptoPayout == nil || cur.CryptoPayout.Status != domain.PayoutPaid {
			return TransferState{}, domain.Conflict(nil, "lightning transfer %s cannot complete before its payout is paid", t.ID)
		}
	}

	change := statusChange(t, cur.CryptoPayout, next, "status set to "+string(next), now)
	if err := s.apply(ctx, change); err != nil {
		return TransferState{}, err
	}
	t = applied(t, change)
	out, err := s.loadState(ctx, t)
	if err != nil {
		return TransferState{}, err
	}

	s.audit(ctx, req.Actor, "TRANSFER_"+string(next), "transfer", t.ID, map[string]any{
		"from": string(change.From),
		"to":   string(next),
	})
	if next == domain.StatusCompleted || next == domain.StatusFailed {
		s.finalEffects(ctx, t, quote, "")
	}

	if next == domain.StatusProcessing && s.cfg.AutoExecute {
		executed, err := s.execute(ctx, out, req.Actor)
		if err != nil {
			// The transition itself committed; the payout can be retried
			// through ExecutePayout.
			s.logger.Warn("automatic payout did not settle", zap.String("transfer_id", t.ID), zap.Error(err))
			return out, nil
		}
		return executed, nil
	}
	return out, nil
}

// expire force-moves a READY transfer whose quote lapsed to EXPIRED.
func (s *Service) expire(ctx context.Context, cur TransferState, q domain.Quote, actor string) (TransferState, error) {
	t := cur.Transfer
	change := statusChange(t, cur.CryptoPayout, domain.StatusExpired, "quote expired before processing", s.clock())
	if err := s.apply(ctx, change); err != nil {
		return TransferState{}, err
	}
	t = applied(t, change)
	out, err := s.loadState(ctx, t)
	if err != nil {
		return TransferState{}, err
	}
	s.audit(ctx, actor, "TRANSFER_EXPIRED", "transfer", t.ID, map[string]any{
		"quoteId":        q.ID,
		"quoteExpiresAt": q.ExpiresAt,
		"requested":      string(domain.StatusProcessing),
	})
	return out, domain.Gone(domain.ErrQuoteExpired, "quote %s expired; transfer %s is now EXPIRED", q.ID, t.ID)
}

// finalEffects notifies the sender of a final status and alerts on
// failures.
func (s *Service) finalEffects(ctx context.Context, t domain.Transfer, q *domain.Quote, reason string) {
	if q == nil && t.UserID != "" {
		if loaded, err := s.store.GetQuote(ctx, t.QuoteID); err == nil {
			q = &loaded
		} else {
			s.logger.Warn("receipt quote lookup failed", zap.String("transfer_id", t.ID), zap.Error(err))
		}
	}
	s.notifyStatus(ctx, t, q, reason)
	if t.Status == domain.StatusFailed {
		s.alertFailed(ctx, t, reason)
	}
}

// ExecutePayout runs the rail adapter for a PROCESSING transfer and feeds
// the outcome back into the state machine.
func (s *Service) ExecutePayout(ctx context.Context, transferID, identity, actor string) (st TransferState, err error) {
	ctx, span := s.startSpan(ctx, "ExecutePayout", attribute.String("transfer_id", transferID))
	defer func() { endSpan(span, err) }()

	if err := s.enforce(ctx, ActionTransition, identity); err != nil {
		return TransferState{}, err
	}
	t, err := s.getTransfer(ctx, transferID)
	if err != nil {
		return TransferState{}, err
	}
	if t.Status != domain.StatusProcessing {
		return TransferState{}, domain.Conflict(domain.ErrInvalidTransition, "transfer %s is %s, payouts run only while PROCESSING", t.ID, t.Status)
	}
	cur, err := s.loadState(ctx, t)
	if err != nil {
		return TransferState{}, err
	}
	return s.execute(ctx, cur, actor)
}

func (s *Service) execute(ctx context.Context, cur TransferState, actor string) (TransferState, error) {
	t := cur.Transfer
	payout := cur.CryptoPayout

	// 1. Lightning: make sure an invoice is out before paying it
	if t.Rail == domain.RailLightning {
		if payout == nil {
			return TransferState{}, domain.Internal(fmt.Errorf("transfer %s has no crypto payout", t.ID), "payout record missing")
		}
		if payout.Status == domain.PayoutCreated {
			now := s.clock()
			change := store.StatusChange{
				TransferID: t.ID,
				PayoutFrom: domain.PayoutCreated,
				PayoutTo:   domain.PayoutRequested,
				At:         now,
				Events: []domain.TransferEvent{
					{TransferID: t.ID, Type: domain.EventInvoiceIssued, Message: "invoice requested for payout", CreatedAt: now},
				},
			}
			if err := s.apply(ctx, change); err != nil {
				return TransferState{}, err
			}
			p := *payout
			p.Status, p.UpdatedAt = domain.PayoutRequested, now
			payout = &p
		}
		if payout.Status != domain.PayoutRequested {
			return TransferState{}, domain.Conflict(nil, "crypto payout for %s is %s", t.ID, payout.Status)
		}
	}

	// 2. Adapter
	adapter, err := s.payouts.For(t.Rail)
	if err != nil {
		return TransferState{}, domain.Internal(err, "no payout adapter")
	}
	outcome, err := adapter.Execute(ctx, t)
	if err != nil {
		payoutOutcomes.WithLabelValues(string(t.Rail), "error").Inc()
		s.logger.Error("payout adapter error", zap.String("transfer_id", t.ID), zap.String("rail", string(t.Rail)), zap.Error(err))
		return TransferState{}, domain.Internal(err, "payout execution failed")
	}

	// 3. Feed the outcome back
	now := s.clock()
	next, message := domain.StatusCompleted, "paid out by "+outcome.Provider
	if !outcome.OK {
		next = domain.StatusFailed
		message = strings.TrimSpace("payout failed: " + outcome.Reason)
	}
	change := store.StatusChange{
		TransferID: t.ID,
		From:       domain.StatusProcessing,
		To:         next,
		Provider:   outcome.Provider,
		At:         now,
	}
	if payout != nil {
		change.PayoutFrom = payout.Status
		if outcome.OK {
			change.PayoutTo = domain.PayoutPaid
			change.Events = append(change.Events, domain.TransferEvent{
				TransferID: t.ID, Type: domain.EventPayoutPaid, Message: "invoice paid via " + outcome.Provider, CreatedAt: now,
			})
		} else {
			change.PayoutTo = domain.PayoutFailed
			change.PayoutReason = outcome.Reason
		}
	}
	change.Events = append(change.Events, domain.TransferEvent{
		TransferID: t.ID, Type: domain.EventFor(next), Message: message, CreatedAt: now,
	})
	if err := s.apply(ctx, change); err != nil {
		return TransferState{}, err
	}
	result := "ok"
	if !outcome.OK {
		result = "failed"
	}
	payoutOutcomes.WithLabelValues(string(t.Rail), result).Inc()

	t = applied(t, change)
	out, err := s.loadState(ctx, t)
	if err != nil {
		return TransferState{}, err
	}
	s.audit(ctx, actor, "TRANSFER_"+string(next), "transfer", t.ID, map[string]any{
		"from":     string(domain.StatusProcessing),
		"to":       string(next),
		"provider": outcome.Provider,
		"reason":   outcome.Reason,
	})
	s.finalEffects(ctx, t, nil, outcome.Reason)
	return out, nil
}

// GetTransfer returns the transfer with its quote, payout and timeline. An
// EXPIRED transfer is returned together with a Gone error.
func (s *Service) GetTransfer(ctx context.Context, id string) (TransferDetails, error) {
	t, err := s.getTransfer(ctx, id)
	if err != nil {
		return TransferDetails{}, err
	}
	return s.details(ctx, t)
}

func (s *Service) GetTransferByReference(ctx context.Context, reference string) (TransferDetails, error) {
	reference = strings.ToUpper(strings.TrimSpace(reference))
	if reference == "" {
		return TransferDetails{}, domain.Validation("reference is required")
	}
	t, err := s.store.GetTransferByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return TransferDetails{}, domain.NotFound("no transfer with reference %s", reference)
	}
	if err != nil {
		return TransferDetails{}, domain.Internal(err, "transfer lookup failed")
	}
	return s.details(ctx, t)
}

func (s *Service) details(ctx context.Context, t domain.Transfer) (TransferDetails, error) {
	q, err := s.store.GetQuote(ctx, t.QuoteID)
	if err != nil {
		return TransferDetails{}, domain.Internal(err, "quote lookup failed")
	}
	st, err := s.loadState(ctx, t)
	if err != nil {
		return TransferDetails{}, err
	}
	events, err := s.store.ListTransferEvents(ctx, t.ID)
	if err != nil {
		return TransferDetails{}, domain.Internal(err, "timeline lookup failed")
	}
	if events == nil {
		events = []domain.TransferEvent{}
	}
	d := TransferDetails{Transfer: t, Quote: q, CryptoPayout: st.CryptoPayout, Events: events}
	if t.Status == domain.StatusExpired {
		return d, domain.Gone(domain.ErrTransferExpired, "transfer %s has expired", t.ReferenceCode)
	}
	return d, nil
}
