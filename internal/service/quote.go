package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// QuoteRequest holds quote inputs. Nil pricing fields fall back to the
// configured default margin model; a nil MarketRate is read from the
// oracle.
type QuoteRequest struct {
	From        string
	To          string
	Rail        string
	SendAmount  float64
	MarketRate  *float64
	FXMarginPct *float64
	FeeFixed    *float64
	FeePct      *float64
	Identity    string
	Actor       string
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func optionalNonNegative(name string, v *float64, fallback float64) (float64, error) {
	if v == nil {
		return fallback, nil
	}
	if !finite(*v) || *v < 0 {
		return 0, domain.Validation("%s must be a non-negative number", name)
	}
	return *v, nil
}

// activeAsset resolves code against the catalog; unknown and inactive
// assets are validation errors.
func (s *Service) activeAsset(ctx context.Context, code string) (domain.Asset, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Asset{}, domain.Validation("asset is required")
	}
	asset, err := s.store.GetAsset(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Asset{}, domain.Validation("unknown asset %s", code)
	}
	if err != nil {
		return domain.Asset{}, domain.Internal(err, "asset lookup failed")
	}
	if !asset.Active {
		return domain.Asset{}, domain.Validation("asset %s is not active", code)
	}
	return asset, nil
}

// CreateQuote prices a send amount and persists the result as an
// immutable quote valid for the configured TTL.
func (s *Service) CreateQuote(ctx context.Context, req QuoteRequest) (q domain.Quote, err error) {
	ctx, span := s.startSpan(ctx, "CreateQuote",
		attribute.String("corridor", req.From+":"+req.To), attribute.String("rail", req.Rail))
	defer func() { endSpan(span, err) }()

	// 1. Input validation
	rail, err := domain.ParseRail(req.Rail)
	if err != nil {
		return domain.Quote{}, domain.Validation("rail must be one of BANK, MOBILE_MONEY, LIGHTNING")
	}
	if !finite(req.SendAmount) || req.SendAmount < s.cfg.MinSendAmount {
		return domain.Quote{}, domain.Validation("sendAmount must be a number of at least %s", domain.MoneyString(s.cfg.MinSendAmount))
	}
	margin := s.cfg.DefaultMargin
	if margin.FXMarginPct, err = optionalNonNegative("fxMarginPct", req.FXMarginPct, margin.FXMarginPct); err != nil {
		return domain.Quote{}, err
	}
	if margin.FeeFixed, err = optionalNonNegative("feeFixed", req.FeeFixed, margin.FeeFixed); err != nil {
		return domain.Quote{}, err
	}
	if margin.FeePct, err = optionalNonNegative("feePct", req.FeePct, margin.FeePct); err != nil {
		return domain.Quote{}, err
	}
	if req.MarketRate != nil && (!finite(*req.MarketRate) || *req.MarketRate <= 0) {
		return domain.Quote{}, domain.Validation("marketRate must be a positive number")
	}

	// 2. Rate limit
	if err := s.enforce(ctx, ActionQuote, req.Identity); err != nil {
		return domain.Quote{}, err
	}

	// 3. Catalog
	from, err := s.activeAsset(ctx, req.From)
	if err != nil {
		return domain.Quote{}, err
	}
	to, err := s.activeAsset(ctx, req.To)
	if err != nil {
		return domain.Quote{}, err
	}

	// 4. Market rate
	now := s.clock()
	marketRate, rateSource, rateAt := 0.0, "client", now
	if req.MarketRate != nil {
		marketRate = *req.MarketRate
	} else {
		r, err := s.rates.Rate(ctx, from.Code, to.Code)
		if err != nil {
			return domain.Quote{}, domain.Internal(err, "market rate unavailable")
		}
		marketRate, rateSource, rateAt = r.Value, r.Source, r.Timestamp
	}

	// 5. Price and persist
	p := domain.Price(req.SendAmount, marketRate, margin)
	q = domain.Quote{
		ID:               uuid.NewString(),
		FromAsset:        from.Code,
		ToAsset:          to.Code,
		Rail:             rail,
		SendAmount:       req.SendAmount,
		MarketRate:       marketRate,
		RateSource:       rateSource,
		RateTimestamp:    rateAt.UTC(),
		FXMarginPct:      margin.FXMarginPct,
		FeeFixed:         margin.FeeFixed,
		FeePct:           margin.FeePct,
		FeePercentAmount: p.FeePercentAmount,
		TotalFee:         p.TotalFee,
		AppliedRate:      p.AppliedRate,
		NetAmount:        p.Net,
		RecipientGets:    p.RecipientGets,
		ExpiresAt:        now.Add(s.cfg.QuoteTTL),
		CreatedAt:        now,
	}
	if err := s.store.CreateQuote(ctx, q); err != nil {
		return domain.Quote{}, domain.Internal(err, "could not save quote")
	}
	quotesCreated.WithLabelValues(string(rail)).Inc()

	s.audit(ctx, req.Actor, "QUOTE_CREATED", "quote", q.ID, map[string]any{
		"fromAsset":     q.FromAsset,
		"toAsset":       q.ToAsset,
		"rail":          string(q.Rail),
		"sendAmount":    q.SendAmount,
		"recipientGets": domain.RoundMoney(q.RecipientGets),
	})
	return q, nil
}
