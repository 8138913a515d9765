package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CryptoDestination is where a Lightning payout is sent. Providing one at
// creation issues the invoice immediately.
type CryptoDestination struct {
	Destination string
}

type CreateTransferRequest struct {
	QuoteID        string
	Rail           string
	Recipient      domain.Recipient
	Crypto         *CryptoDestination
	IdempotencyKey string
	Identity       string
	UserID         string
	Actor          string
}

// TransferState is a transfer together with its Lightning payout, if any.
type TransferState struct {
	Transfer     domain.Transfer      `json:"transfer"`
	CryptoPayout *domain.CryptoPayout `json:"cryptoPayout,omitempty"`
}

// CreateResult reports whether the transfer was created by this call or
// replayed from an earlier one with the same idempotency key.
type CreateResult struct {
	TransferState
	Replayed bool
}

func (s *Service) loadState(ctx context.Context, t domain.Transfer) (TransferState, error) {
	st := TransferState{Transfer: t}
	if t.Rail != domain.RailLightning {
		return st, nil
	}
	p, err := s.store.GetCryptoPayout(ctx, t.ID)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return TransferState{}, domain.Internal(err, "crypto payout lookup failed")
	}
	st.CryptoPayout = &p
	return st, nil
}

// replay returns the transfer already created under key, if any.
func (s *Service) replay(ctx context.Context, key, path string) (CreateResult, bool, error) {
	existing, err := s.store.GetTransferByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return CreateResult{}, false, nil
	}
	if err != nil {
		return CreateResult{}, false, domain.Internal(err, "idempotency lookup failed")
	}
	st, err := s.loadState(ctx, existing)
	if err != nil {
		return CreateResult{}, false, err
	}
	idempotentReplays.WithLabelValues(path).Inc()
	return CreateResult{TransferState: st, Replayed: true}, true, nil
}

// CreateTransfer locks a quote into a new READY transfer.
//
// A known idempotency key returns the stored transfer with no new writes or
// side effects. Reference codes are drawn at random and retried on
// collision; if the idempotency key collides with a concurrent request the
// winner's row is returned instead.
func (s *Service) CreateTransfer(ctx context.Context, req CreateTransferRequest) (res CreateResult, err error) {
	ctx, span := s.startSpan(ctx, "CreateTransfer", attribute.String("quote_id", req.QuoteID))
	defer func() { endSpan(span, err) }()

	key := strings.TrimSpace(req.IdempotencyKey)

	// 1. Idempotency check
	if key != "" {
		if res, ok, err := s.replay(ctx, key, "lookup"); err != nil || ok {
			return res, err
		}
	}

	// 2. Validation
	rail, err := domain.ParseRail(req.Rail)
	if err != nil {
		return CreateResult{}, domain.Validation("payoutRail must be one of BANK, MOBILE_MONEY, LIGHTNING")
	}
	if err := req.Recipient.Validate(rail); err != nil {
		return CreateResult{}, domain.Validation("%s", err.Error())
	}
	if strings.TrimSpace(req.QuoteID) == "" {
		return CreateResult{}, domain.Validation("quoteId is required")
	}
	q, err := s.store.GetQuote(ctx, req.QuoteID)
	if errors.Is(err, store.ErrNotFound) {
		return CreateResult{}, domain.NotFound("quote %s not found", req.QuoteID)
	}
	if err != nil {
		return CreateResult{}, domain.Internal(err, "quote lookup failed")
	}
	now := s.clock()
	if q.Expired(now) {
		return CreateResult{}, domain.Gone(domain.ErrQuoteExpired, "quote %s expired at %s", q.ID, q.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if q.Rail != rail {
		return CreateResult{}, domain.Conflict(nil, "quote was priced for %s, not %s", q.Rail, rail)
	}
	routes, err := s.store.ActiveRoutes(ctx, q.FromAsset, q.ToAsset)
	if err != nil {
		return CreateResult{}, domain.Internal(err, "route lookup failed")
	}
	if !hasRail(routes, rail) {
		return CreateResult{}, domain.Conflict(nil, "no active %s route for %s to %s", rail, q.FromAsset, q.ToAsset)
	}

	// 3. Rate limit
	if err := s.enforce(ctx, ActionTransfer, req.Identity); err != nil {
		return CreateResult{}, err
	}

	// 4. Insert with reference allocation
	transferID := uuid.NewString()
	t := domain.Transfer{
		ID:             transferID,
		QuoteID:        q.ID,
		Rail:           rail,
		IdempotencyKey: key,
		UserID:         strings.TrimSpace(req.UserID),
		Recipient:      req.Recipient,
		Status:         domain.StatusReady,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	events := []domain.TransferEvent{
		{TransferID: transferID, Type: domain.EventCreated, Message: "transfer created", CreatedAt: now},
		{TransferID: transferID, Type: domain.EventQuoteLocked, Message: "quote " + q.ID + " locked", CreatedAt: now},
	}
	var payout *domain.CryptoPayout
	if rail == domain.RailLightning {
		payout = newCryptoPayout(t, q, req.Crypto, now)
		if payout.Status == domain.PayoutRequested {
			events = append(events, domain.TransferEvent{
				TransferID: transferID, Type: domain.EventInvoiceIssued,
				Message: "invoice issued to " + payout.Destination, CreatedAt: now,
			})
		}
	}

	created := false
	for attempt := 1; attempt <= s.cfg.ReferenceAttempts; attempt++ {
		ref, err := s.newRef()
		if err != nil {
			return CreateResult{}, domain.Internal(err, "could not generate reference")
		}
		t.ReferenceCode = ref

		err = s.store.CreateTransfer(ctx, store.NewTransfer{Transfer: t, Payout: payout, Events: events})
		if err == nil {
			created = true
			break
		}

		uniqueViolation := errors.Is(err, store.ErrDuplicateReference) ||
			errors.Is(err, store.ErrDuplicateIdempotencyKey) ||
			errors.Is(err, store.ErrQuoteAlreadyUsed)
		// 5. Idempotency wins over every other unique violation
		if uniqueViolation && key != "" {
			if res, ok, lookupErr := s.replay(ctx, key, "insert_race"); lookupErr != nil || ok {
				return res, lookupErr
			}
		}

		switch {
		case errors.Is(err, store.ErrDuplicateReference):
			referenceCollisions.Inc()
			s.logger.Debug("reference collision", zap.String("reference", ref), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, store.ErrQuoteAlreadyUsed):
			return CreateResult{}, domain.Conflict(err, "quote %s is already locked by another transfer", q.ID)
		case errors.Is(err, store.ErrDuplicateIdempotencyKey):
			return CreateResult{}, domain.Conflict(err, "idempotency key is in use by another request")
		default:
			return CreateResult{}, domain.Internal(err, "could not save transfer")
		}
	}
	if !created {
		referenceExhausted.Inc()
		s.logger.Error("reference allocation exhausted",
			zap.String("transfer_id", transferID), zap.Int("attempts", s.cfg.ReferenceAttempts))
		return CreateResult{}, domain.Conflict(domain.ErrReferenceExhausted, "could not allocate a unique reference code")
	}
	transfersCreated.WithLabelValues(string(rail)).Inc()

	// 6. Post-commit side effects
	s.audit(ctx, req.Actor, "TRANSFER_CREATED", "transfer", t.ID, map[string]any{
		"quoteId":       q.ID,
		"referenceCode": t.ReferenceCode,
		"rail":          string(rail),
		"idempotent":    key != "",
	})
	s.notifyStatus(ctx, t, &q, "")

	return CreateResult{TransferState: TransferState{Transfer: t, CryptoPayout: payout}}, nil
}

func hasRail(routes []domain.Route, rail domain.Rail) bool {
	for _, r := range routes {
		if r.Rail == rail && r.Active {
			return true
		}
	}
	return false
}

// newCryptoPayout provisions the Lightning leg. Without a destination the
// payout waits in CREATED until one is requested at execution time.
func newCryptoPayout(t domain.Transfer, q domain.Quote, crypto *CryptoDestination, now time.Time) *domain.CryptoPayout {
	destination := strings.TrimSpace(t.Recipient.LightningAddress)
	if crypto != nil && strings.TrimSpace(crypto.Destination) != "" {
		destination = strings.TrimSpace(crypto.Destination)
	}
	status := domain.PayoutCreated
	if destination != "" {
		status = domain.PayoutRequested
	}
	return &domain.CryptoPayout{
		TransferID:  t.ID,
		Asset:       q.ToAsset,
		Network:     "LIGHTNING",
		Amount:      domain.RoundMoney(q.RecipientGets),
		Destination: destination,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
