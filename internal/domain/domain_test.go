package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceReferenceExample(t *testing.T) {
	p := Price(100, 12.35, MarginModel{FXMarginPct: 1.5, FeeFixed: 1.0, FeePct: 2.9})

	assert.InDelta(t, 2.9, p.FeePercentAmount, 1e-9)
	assert.InDelta(t, 3.90, p.TotalFee, 1e-9)
	assert.InDelta(t, 12.16475, p.AppliedRate, 1e-9)
	assert.InDelta(t, 96.10, p.Net, 1e-9)
	assert.Equal(t, 3.90, RoundMoney(p.TotalFee))
	assert.Equal(t, 1169.03, RoundMoney(p.RecipientGets))
	assert.Equal(t, "1169.03", MoneyString(p.RecipientGets))
}

func TestPriceFeesLargerThanAmountClampNetToZero(t *testing.T) {
	p := Price(2, 10, MarginModel{FeeFixed: 5})

	assert.Equal(t, 0.0, p.Net)
	assert.Equal(t, 0.0, p.RecipientGets)
	assert.Equal(t, 5.0, p.TotalFee)
}

func TestTerminalStatusesRejectEveryTransition(t *testing.T) {
	all := []TransferStatus{StatusDraft, StatusReady, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled, StatusExpired}
	for _, from := range []TransferStatus{StatusCompleted, StatusFailed, StatusCanceled, StatusExpired} {
		assert.True(t, from.Terminal(), "%s should be terminal", from)
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTransferTransitionTable(t *testing.T) {
	cases := []struct {
		from, to TransferStatus
		ok       bool
	}{
		{StatusDraft, StatusReady, true},
		{StatusDraft, StatusProcessing, false},
		{StatusReady, StatusProcessing, true},
		{StatusReady, StatusExpired, true},
		{StatusReady, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCanceled, false},
		{StatusProcessing, StatusReady, false},
		{StatusReady, StatusReady, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPayoutTransitionTable(t *testing.T) {
	assert.True(t, PayoutCreated.CanTransitionTo(PayoutRequested))
	assert.False(t, PayoutCreated.CanTransitionTo(PayoutPaid))
	assert.True(t, PayoutRequested.CanTransitionTo(PayoutPaid))
	assert.True(t, PayoutPaid.Terminal())
	assert.False(t, PayoutPaid.CanTransitionTo(PayoutFailed))
}

func TestParseTransferStatus(t *testing.T) {
	st, err := ParseTransferStatus(" processing ")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, st)

	_, err = ParseTransferStatus("SETTLED")
	assert.Error(t, err)
}

func TestRecipientValidateByRail(t *testing.T) {
	assert.Error(t, Recipient{BankName: "BBVA"}.Validate(RailBank))
	assert.NoError(t, Recipient{BankName: "BBVA", BankAccount: "0123"}.Validate(RailBank))
	assert.Error(t, Recipient{MobileNumber: "+254700000000"}.Validate(RailMobileMoney))
	assert.NoError(t, Recipient{MobileProvider: "M-Pesa", MobileNumber: "+254700000000"}.Validate(RailMobileMoney))
	assert.NoError(t, Recipient{}.Validate(RailLightning))
}

func TestQuoteExpiredComparesWallClock(t *testing.T) {
	created := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	q := Quote{CreatedAt: created, ExpiresAt: created.Add(30 * time.Second)}

	assert.False(t, q.Expired(created.Add(30*time.Second)))
	assert.True(t, q.Expired(created.Add(31*time.Second)))
}

func TestKindOfMapsStatusCodes(t *testing.T) {
	assert.Equal(t, 410, KindOf(Gone(ErrQuoteExpired, "quote expired")).HTTPStatus())
	assert.Equal(t, 409, KindOf(Conflict(ErrReferenceExhausted, "x")).HTTPStatus())
	assert.Equal(t, 500, KindOf(assert.AnError).HTTPStatus())
}
