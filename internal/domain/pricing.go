package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// MarginModel is the fee and FX margin applied to a send amount.
type MarginModel struct {
	FXMarginPct float64 `json:"fxMarginPct"`
	FeeFixed    float64 `json:"feeFixed"`
	FeePct      float64 `json:"feePct"`
}

// Pricing is the result of applying a MarginModel to a send amount at a
// market rate.
type Pricing struct {
	FeePercentAmount float64
	TotalFee         float64
	AppliedRate      float64
	Net              float64
	RecipientGets    float64
}

// Price computes fees and payout in float64. Quotes and recommendations
// both go through here so the two always agree.
func Price(sendAmount, marketRate float64, m MarginModel) Pricing {
	feePercentAmount := sendAmount * m.FeePct / 100
	totalFee := m.FeeFixed + feePercentAmount
	appliedRate := marketRate * (1 - m.FXMarginPct/100)
	net := math.Max(0, sendAmount-totalFee)
	return Pricing{
		FeePercentAmount: feePercentAmount,
		TotalFee:         totalFee,
		AppliedRate:      appliedRate,
		Net:              net,
		RecipientGets:    net * appliedRate,
	}
}

// RoundMoney rounds v half away from zero to two decimal places.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// MoneyString formats v with exactly two decimals.
func MoneyString(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
