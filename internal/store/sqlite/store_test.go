package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "remit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedCatalog(context.Background(), store.DefaultAssets(), store.DefaultRoutes()))
	return s
}

var testNow = time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)

func seedQuote(t *testing.T, s *Store, id string) domain.Quote {
	t.Helper()
	q := domain.Quote{
		ID: id, FromAsset: "USD", ToAsset: "MXN", Rail: domain.RailBank, SendAmount: 100,
		MarketRate: 17.05, RateSource: "static", RateTimestamp: testNow,
		FXMarginPct: 1.5, FeeFixed: 1, FeePct: 2.9, FeePercentAmount: 2.9, TotalFee: 3.9,
		AppliedRate: 16.79425, NetAmount: 96.1, RecipientGets: 1613.92, ExpiresAt: testNow.Add(30 * time.Second),
		CreatedAt: testNow,
	}
	require.NoError(t, s.CreateQuote(context.Background(), q))
	return q
}

func newTransfer(id, quoteID, ref, key string) store.NewTransfer {
	return store.NewTransfer{
		Transfer: domain.Transfer{
			ID: id, QuoteID: quoteID, Rail: domain.RailBank, ReferenceCode: ref, IdempotencyKey: key,
			Recipient: domain.Recipient{Name: "Ana", BankName: "Banorte", BankAccount: "072180"},
			Status:    domain.StatusReady, CreatedAt: testNow, UpdatedAt: testNow,
		},
		Events: []domain.TransferEvent{
			{TransferID: id, Type: domain.EventCreated, Message: "created", CreatedAt: testNow},
			{TransferID: id, Type: domain.EventQuoteLocked, Message: "locked", CreatedAt: testNow},
		},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestCatalogReadsOnlyActiveRoutes(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	routes, err := s.ActiveRoutes(ctx, "USD", "MXN")
	require.NoError(t, err)
	ids := make([]string, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"usd-mxn-bank-banorte", "usd-mxn-bank-spei", "usd-mxn-lightning-strike"}, ids)

	asset, err := s.GetAsset(ctx, "VES")
	require.NoError(t, err)
	assert.False(t, asset.Active)

	_, err = s.GetAsset(ctx, "XXX")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQuoteRoundTrip(t *testing.T) {
	s := openTempStore(t)
	want := seedQuote(t, s, "q-1")

	got, err := s.GetQuote(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.GetQuote(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateTransferClassifiesUniqueViolations(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	seedQuote(t, s, "q-1")
	seedQuote(t, s, "q-2")
	seedQuote(t, s, "q-3")

	require.NoError(t, s.CreateTransfer(ctx, newTransfer("t-1", "q-1", "FX-AAAAAA", "key-1")))

	err := s.CreateTransfer(ctx, newTransfer("t-2", "q-2", "FX-AAAAAA", "key-2"))
	assert.ErrorIs(t, err, store.ErrDuplicateReference)

	err = s.CreateTransfer(ctx, newTransfer("t-3", "q-3", "FX-BBBBBB", "key-1"))
	assert.ErrorIs(t, err, store.ErrDuplicateIdempotencyKey)

	err = s.CreateTransfer(ctx, newTransfer("t-4", "q-1", "FX-CCCCCC", ""))
	assert.ErrorIs(t, err, store.ErrQuoteAlreadyUsed)

	// A failed insert leaves no partial timeline behind.
	events, err := s.ListTransferEvents(ctx, "t-2")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTransfersWithoutIdempotencyKeyDoNotCollide(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	seedQuote(t, s, "q-1")
	seedQuote(t, s, "q-2")

	require.NoError(t, s.CreateTransfer(ctx, newTransfer("t-1", "q-1", "FX-AAAAAA", "")))
	require.NoError(t, s.CreateTransfer(ctx, newTransfer("t-2", "q-2", "FX-BBBBBB", "")))

	got, err := s.GetTransferByReference(ctx, "FX-BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, "t-2", got.ID)
	assert.Empty(t, got.IdempotencyKey)
}

func TestApplyStatusChangeIsGuarded(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	seedQuote(t, s, "q-1")
	require.NoError(t, s.CreateTransfer(ctx, newTransfer("t-1", "q-1", "FX-AAAAAA", "")))

	later := testNow.Add(time.Minute)
	require.NoError(t, s.ApplyStatusChange(ctx, store.StatusChange{
		TransferID: "t-1", From: domain.StatusReady, To: domain.StatusProcessing, At: later,
		Events: []domain.TransferEvent{{TransferID: "t-1", Type: domain.EventProcessing, Message: "processing", CreatedAt: later}},
	}))

	err := s.ApplyStatusChange(ctx, store.StatusChange{
		TransferID: "t-1", From: domain.StatusReady, To: domain.StatusCanceled, At: later,
		Events: []domain.TransferEvent{{TransferID: "t-1", Type: domain.EventCanceled, Message: "canceled", CreatedAt: later}},
	})
	assert.ErrorIs(t, err, store.ErrStaleState)

	got, err := s.GetTransfer(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, later, got.UpdatedAt)

	events, err := s.ListTransferEvents(ctx, "t-1")
	require.NoError(t, err)
	types := []domain.EventType{}
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventCreated, domain.EventQuoteLocked, domain.EventProcessing}, types)
}

func TestCryptoPayoutStatusChange(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	seedQuote(t, s, "q-1")
	nt := newTransfer("t-1", "q-1", "FX-AAAAAA", "")
	nt.Transfer.Rail = domain.RailLightning
	nt.Payout = &domain.CryptoPayout{
		TransferID: "t-1", Asset: "BTC", Network: "LIGHTNING", Amount: 1613.92,
		Status: domain.PayoutRequested, CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, s.CreateTransfer(ctx, nt))

	require.NoError(t, s.ApplyStatusChange(ctx, store.StatusChange{
		TransferID: "t-1", PayoutFrom: domain.PayoutRequested, PayoutTo: domain.PayoutFailed,
		Provider: "sim-lightning", PayoutReason: "route not found", At: testNow,
	}))

	p, err := s.GetCryptoPayout(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutFailed, p.Status)
	assert.Equal(t, "sim-lightning", p.Provider)
	assert.Equal(t, "route not found", p.FailureReason)

	_, err = s.GetCryptoPayout(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIncrementBucketFixedWindow(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	window := time.Minute

	var counts []int
	for i := 0; i < 5; i++ {
		count, resetAt, err := s.IncrementBucket(ctx, "transfer:create:alice", 3, window, testNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(window), resetAt)
		counts = append(counts, count)
	}
	// Count stops at limit+1 once the bucket is exhausted.
	assert.Equal(t, []int{1, 2, 3, 4, 4}, counts)

	count, resetAt, err := s.IncrementBucket(ctx, "transfer:create:alice", 3, window, testNow.Add(window))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, testNow.Add(2*window), resetAt)
}

func TestAppendAuditRoundTrip(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, domain.AuditEntry{
		ID: "a-1", Actor: "user-1", Action: "TRANSFER_CREATED", EntityType: "transfer", EntityID: "t-1",
		Metadata: map[string]any{"referenceCode": "FX-AAAAAA"}, CreatedAt: testNow,
	}))

	entries, err := s.ListAudit(ctx, "transfer", "t-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "TRANSFER_CREATED", entries[0].Action)
	assert.Equal(t, "FX-AAAAAA", entries[0].Metadata["referenceCode"])
}
