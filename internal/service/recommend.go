package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/rates"
	"go.opentelemetry.io/otel/attribute"
)

// Route labels and suggestion reasons.
const (
	LabelLowestFee     = "lowest-fee"
	LabelFastestETA    = "fastest-eta"
	LabelHighestPayout = "highest-payout"

	SuggestBestValue = "best-value"
	SuggestCheapest  = "cheapest"
	SuggestFastest   = "fastest"
)

type RecommendRequest struct {
	From       string
	To         string
	SendAmount float64
	Identity   string
}

// PricedRoute is a catalog route priced for one send amount.
type PricedRoute struct {
	Route            domain.Route `json:"route"`
	TotalFee         float64      `json:"totalFee"`
	AppliedRate      float64      `json:"appliedRate"`
	RecipientGets    float64      `json:"recipientGets"`
	EffectiveCostPct float64      `json:"effectiveCostPct"`
	EtaMidMinutes    int          `json:"etaMidMinutes"`
	Labels           []string     `json:"labels"`
}

type Suggestion struct {
	Reason string      `json:"reason"`
	Route  PricedRoute `json:"route"`
}

type Recommendation struct {
	FromAsset        string        `json:"fromAsset"`
	ToAsset          string        `json:"toAsset"`
	SendAmount       float64       `json:"sendAmount"`
	MarketRate       rates.Rate    `json:"marketRate"`
	Routes           []PricedRoute `json:"routes"`
	Suggestions      []Suggestion  `json:"suggestions"`
	CheapestRouteID  string        `json:"cheapestRouteId"`
	FastestRouteID   string        `json:"fastestRouteId"`
	BestValueRouteID string        `json:"bestValueRouteId"`
}

// Recommend prices every active route of the corridor at one market rate
// and ranks them.
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) (rec Recommendation, err error) {
	from, to := strings.ToUpper(strings.TrimSpace(req.From)), strings.ToUpper(strings.TrimSpace(req.To))
	ctx, span := s.startSpan(ctx, "Recommend", attribute.String("corridor", from+":"+to))
	defer func() { endSpan(span, err) }()

	if from == "" || to == "" {
		return Recommendation{}, domain.Validation("from and to are required")
	}
	if !finite(req.SendAmount) || req.SendAmount <= 0 {
		return Recommendation{}, domain.Validation("sendAmount must be a positive number")
	}
	if err := s.enforce(ctx, ActionRecommend, req.Identity); err != nil {
		return Recommendation{}, err
	}

	routes, err := s.store.ActiveRoutes(ctx, from, to)
	if err != nil {
		return Recommendation{}, domain.Internal(err, "route lookup failed")
	}
	if len(routes) == 0 {
		return Recommendation{}, domain.Validation("unknown corridor %s to %s", from, to)
	}

	rate, err := s.rates.Rate(ctx, from, to)
	if err != nil {
		return Recommendation{}, domain.Internal(err, "market rate unavailable")
	}

	priced := make([]PricedRoute, 0, len(routes))
	for _, r := range routes {
		priced = append(priced, priceRoute(r, req.SendAmount, rate.Value))
	}

	rec = rank(priced)
	rec.FromAsset, rec.ToAsset, rec.SendAmount, rec.MarketRate = from, to, req.SendAmount, rate
	return rec, nil
}

func priceRoute(r domain.Route, sendAmount, marketRate float64) PricedRoute {
	p := domain.Price(sendAmount, marketRate, r.Margin())
	return PricedRoute{
		Route:            r,
		TotalFee:         p.TotalFee,
		AppliedRate:      p.AppliedRate,
		RecipientGets:    p.RecipientGets,
		EffectiveCostPct: p.TotalFee/sendAmount*100 + r.FXMarginPct,
		EtaMidMinutes:    int(math.Round(float64(r.EtaMinMinutes+r.EtaMaxMinutes) / 2)),
		Labels:           []string{},
	}
}

func bestValueLess(a, b PricedRoute) bool {
	if a.RecipientGets != b.RecipientGets {
		return a.RecipientGets > b.RecipientGets
	}
	if a.TotalFee != b.TotalFee {
		return a.TotalFee < b.TotalFee
	}
	if a.Route.EtaMaxMinutes != b.Route.EtaMaxMinutes {
		return a.Route.EtaMaxMinutes < b.Route.EtaMaxMinutes
	}
	if a.Route.EtaMinMinutes != b.Route.EtaMinMinutes {
		return a.Route.EtaMinMinutes < b.Route.EtaMinMinutes
	}
	return a.Route.ID < b.Route.ID
}

func cheapestLess(a, b PricedRoute) bool {
	if a.TotalFee != b.TotalFee {
		return a.TotalFee < b.TotalFee
	}
	if a.Route.EtaMaxMinutes != b.Route.EtaMaxMinutes {
		return a.Route.EtaMaxMinutes < b.Route.EtaMaxMinutes
	}
	if a.Route.EtaMinMinutes != b.Route.EtaMinMinutes {
		return a.Route.EtaMinMinutes < b.Route.EtaMinMinutes
	}
	return a.Route.ID < b.Route.ID
}

func fastestLess(a, b PricedRoute) bool {
	if a.Route.EtaMaxMinutes != b.Route.EtaMaxMinutes {
		return a.Route.EtaMaxMinutes < b.Route.EtaMaxMinutes
	}
	if a.Route.EtaMinMinutes != b.Route.EtaMinMinutes {
		return a.Route.EtaMinMinutes < b.Route.EtaMinMinutes
	}
	if a.RecipientGets != b.RecipientGets {
		return a.RecipientGets > b.RecipientGets
	}
	if a.TotalFee != b.TotalFee {
		return a.TotalFee < b.TotalFee
	}
	return a.Route.ID < b.Route.ID
}

// dedupe keeps one route per (rail, provider), the best-value winner. It
// runs once, before every ranking, so a cheaper or faster variant of the
// same provider never reaches the cheapest or fastest lists.
func dedupe(priced []PricedRoute) []PricedRoute {
	type key struct {
		rail     domain.Rail
		provider string
	}
	index := make(map[key]int, len(priced))
	out := make([]PricedRoute, 0, len(priced))
	for _, p := range priced {
		k := key{p.Route.Rail, p.Route.Provider}
		if i, ok := index[k]; ok {
			if bestValueLess(p, out[i]) {
				out[i] = p
			}
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}
	return out
}

func sorted(priced []PricedRoute, less func(a, b PricedRoute) bool) []PricedRoute {
	out := append([]PricedRoute(nil), priced...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// rank dedupes, builds the three rankings, labels their leaders and picks
// up to three distinct suggestions in best-value, cheapest, fastest order.
// Routes are returned in best-value order.
func rank(priced []PricedRoute) Recommendation {
	routes := dedupe(priced)
	if len(routes) == 0 {
		return Recommendation{Routes: []PricedRoute{}, Suggestions: []Suggestion{}}
	}
	bestValue := sorted(routes, bestValueLess)
	cheapest := sorted(routes, cheapestLess)
	fastest := sorted(routes, fastestLess)

	labels := map[string][]string{}
	labels[cheapest[0].Route.ID] = append(labels[cheapest[0].Route.ID], LabelLowestFee)
	labels[fastest[0].Route.ID] = append(labels[fastest[0].Route.ID], LabelFastestETA)
	labels[bestValue[0].Route.ID] = append(labels[bestValue[0].Route.ID], LabelHighestPayout)
	for i := range bestValue {
		if l, ok := labels[bestValue[i].Route.ID]; ok {
			bestValue[i].Labels = l
		}
	}
	byID := make(map[string]PricedRoute, len(bestValue))
	for _, r := range bestValue {
		byID[r.Route.ID] = r
	}

	claimed := map[string]bool{}
	suggestions := []Suggestion{}
	for _, pick := range []struct {
		reason  string
		ranking []PricedRoute
	}{
		{SuggestBestValue, bestValue},
		{SuggestCheapest, cheapest},
		{SuggestFastest, fastest},
	} {
		for _, r := range pick.ranking {
			if claimed[r.Route.ID] {
				continue
			}
			claimed[r.Route.ID] = true
			suggestions = append(suggestions, Suggestion{Reason: pick.reason, Route: byID[r.Route.ID]})
			break
		}
	}

	return Recommendation{
		Routes:           bestValue,
		Suggestions:      suggestions,
		CheapestRouteID:  cheapest[0].Route.ID,
		FastestRouteID:   fastest[0].Route.ID,
		BestValueRouteID: bestValue[0].Route.ID,
	}
}
