package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransferIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.quote(t, "USD", "MXN", domain.RailBank)
	req := CreateTransferRequest{
		QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient(), IdempotencyKey: "order-42",
		Identity: "tester", UserID: "user-1",
	}

	first, err := h.svc.CreateTransfer(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, domain.StatusReady, first.Transfer.Status)
	assert.True(t, ValidReference(first.Transfer.ReferenceCode), first.Transfer.ReferenceCode)

	second, err := h.svc.CreateTransfer(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	assert.Equal(t, first.Transfer.ReferenceCode, second.Transfer.ReferenceCode)

	assert.Equal(t, []domain.EventType{domain.EventCreated, domain.EventQuoteLocked}, h.eventTypes(t, first.Transfer.ID))

	h.svc.Wait()
	audit, err := h.store.ListAudit(ctx, "transfer", first.Transfer.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1, "replays produce no side effects")
	assert.Len(t, h.rec.notifications(), 1)
	assert.Equal(t, domain.StatusReady, h.rec.notifications()[0].Status)
}

func TestConcurrentCreationWithSameKey(t *testing.T) {
	h := newHarness(t)
	q := h.quote(t, "USD", "MXN", domain.RailBank)

	const n = 10
	ids := make([]string, n)
	replayed := atomic.Int32{}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
				QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient(), IdempotencyKey: "same-key", Identity: "tester",
			})
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = res.Transfer.ID
			if res.Replayed {
				replayed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.EqualValues(t, n-1, replayed.Load())
	assert.Len(t, h.eventTypes(t, ids[0]), 2)
}

func TestReferenceCodesStayUniqueUnderConcurrency(t *testing.T) {
	h := newHarness(t)

	const n = 20
	quotes := make([]domain.Quote, n)
	for i := range quotes {
		quotes[i] = h.quote(t, "USD", "MXN", domain.RailBank)
	}

	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
				QuoteID: quotes[i].ID, Rail: "BANK", Recipient: bankRecipient(), Identity: "tester",
			})
			if assert.NoError(t, err) {
				refs[i] = res.Transfer.ReferenceCode
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, ref := range refs {
		assert.True(t, ValidReference(ref), ref)
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}
}

// sequence returns the given codes in order, then repeats the last one.
func sequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	}
}

func TestReferenceCollisionIsRetried(t *testing.T) {
	h := newHarness(t)
	h.svc.newRef = sequence("FX-AAAAAA", "FX-AAAAAA", "FX-AAAAAA", "FX-BBBBBB")

	first := h.bankTransfer(t, "")
	assert.Equal(t, "FX-AAAAAA", first.ReferenceCode)

	second := h.bankTransfer(t, "")
	assert.Equal(t, "FX-BBBBBB", second.ReferenceCode)
}

func TestReferenceExhaustionIsConflict(t *testing.T) {
	h := newHarness(t)
	h.svc.newRef = sequence("FX-AAAAAA")
	h.bankTransfer(t, "")

	q := h.quote(t, "USD", "MXN", domain.RailBank)
	_, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
		QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient(), Identity: "tester",
	})
	assert.Equal(t, domain.KindConflict, kindOf(err))
	assert.ErrorIs(t, err, domain.ErrReferenceExhausted)

	_, err = h.store.GetTransferByReference(context.Background(), "FX-AAAAAA")
	require.NoError(t, err)
}

// hidingStore misses the first idempotency lookup, as a request racing
// another one with the same key would.
type hidingStore struct {
	store.Store
	hide atomic.Bool
}

func (s *hidingStore) GetTransferByIdempotencyKey(ctx context.Context, key string) (domain.Transfer, error) {
	if s.hide.CompareAndSwap(true, false) {
		return domain.Transfer{}, store.ErrNotFound
	}
	return s.Store.GetTransferByIdempotencyKey(ctx, key)
}

func TestIdempotencyWinsOverInsertCollision(t *testing.T) {
	hs := &hidingStore{}
	h := newHarness(t, func(_ *Config, d *Deps) {
		hs.Store = d.Store
		d.Store = hs
	})
	h.svc.newRef = sequence("FX-CCCCCC")

	winner := h.bankTransfer(t, "race-key")

	// Same key, same reference candidate: both unique constraints fire.
	hs.hide.Store(true)
	q := h.quote(t, "USD", "MXN", domain.RailBank)
	res, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
		QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient(), IdempotencyKey: "race-key", Identity: "tester",
	})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, winner.ID, res.Transfer.ID)
}

func TestCreateTransferValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bankQuote := h.quote(t, "USD", "MXN", domain.RailBank)

	_, err := h.svc.CreateTransfer(ctx, CreateTransferRequest{QuoteID: bankQuote.ID, Rail: "CASH", Recipient: bankRecipient()})
	assert.Equal(t, domain.KindValidation, kindOf(err), "unknown rail")

	_, err = h.svc.CreateTransfer(ctx, CreateTransferRequest{QuoteID: bankQuote.ID, Rail: "BANK", Recipient: domain.Recipient{Name: "Ana", BankName: "Banorte"}})
	assert.Equal(t, domain.KindValidation, kindOf(err), "missing account")

	_, err = h.svc.CreateTransfer(ctx, CreateTransferRequest{QuoteID: bankQuote.ID, Rail: "MOBILE_MONEY", Recipient: domain.Recipient{MobileProvider: "gcash"}})
	assert.Equal(t, domain.KindValidation, kindOf(err), "missing mobile number")

	_, err = h.svc.CreateTransfer(ctx, CreateTransferRequest{QuoteID: "6f1d0c6e-0000-4000-8000-000000000000", Rail: "BANK", Recipient: bankRecipient()})
	assert.Equal(t, domain.KindNotFound, kindOf(err))

	_, err = h.svc.CreateTransfer(ctx, CreateTransferRequest{QuoteID: bankQuote.ID, Rail: "MOBILE_MONEY", Recipient: domain.Recipient{MobileProvider: "gcash", MobileNumber: "0917"}})
	assert.Equal(t, domain.KindConflict, kindOf(err), "rail differs from quote")

	phpLightning := h.quote(t, "USD", "PHP", domain.RailLightning)
	_, err = h.svc.CreateTransfer(ctx, CreateTransferRequest{QuoteID: phpLightning.ID, Rail: "LIGHTNING"})
	assert.Equal(t, domain.KindConflict, kindOf(err), "no active lightning route for USD->PHP")
}

func TestCreateTransferExpiredQuote(t *testing.T) {
	h := newHarness(t)
	q := h.quote(t, "USD", "MXN", domain.RailBank)
	h.clock.Advance(31 * time.Second)

	_, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient()})
	assert.Equal(t, domain.KindGone, kindOf(err))
	assert.ErrorIs(t, err, domain.ErrQuoteExpired)
}

func TestQuoteLocksOneTransfer(t *testing.T) {
	h := newHarness(t)
	q := h.quote(t, "USD", "MXN", domain.RailBank)
	req := CreateTransferRequest{QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient()}

	_, err := h.svc.CreateTransfer(context.Background(), req)
	require.NoError(t, err)
	_, err = h.svc.CreateTransfer(context.Background(), req)
	assert.Equal(t, domain.KindConflict, kindOf(err))
}

func TestCreateTransferRateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) {
		c.Limits[ActionTransfer] = Rule{Limit: 1, Window: time.Minute}
	})
	h.bankTransfer(t, "")

	q := h.quote(t, "USD", "MXN", domain.RailBank)
	_, err := h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
		QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient(), Identity: "tester",
	})
	assert.Equal(t, domain.KindRateLimited, kindOf(err))

	_, err = h.svc.CreateTransfer(context.Background(), CreateTransferRequest{
		QuoteID: q.ID, Rail: "BANK", Recipient: bankRecipient(), Identity: "someone-else",
	})
	assert.NoError(t, err, "the rejected call left the quote unlocked")
}

func TestLightningTransferProvisionsPayout(t *testing.T) {
	h := newHarness(t)

	withDest := h.lightningTransfer(t, "luis@strike.me")
	require.NotNil(t, withDest.CryptoPayout)
	assert.Equal(t, domain.PayoutRequested, withDest.CryptoPayout.Status)
	assert.Equal(t, "luis@strike.me", withDest.CryptoPayout.Destination)
	assert.Equal(t, "LIGHTNING", withDest.CryptoPayout.Network)
	assert.Equal(t, []domain.EventType{domain.EventCreated, domain.EventQuoteLocked, domain.EventInvoiceIssued},
		h.eventTypes(t, withDest.Transfer.ID))

	without := h.lightningTransfer(t, "")
	require.NotNil(t, without.CryptoPayout)
	assert.Equal(t, domain.PayoutCreated, without.CryptoPayout.Status)
	assert.Equal(t, []domain.EventType{domain.EventCreated, domain.EventQuoteLocked}, h.eventTypes(t, without.Transfer.ID))

	stored, err := h.store.GetCryptoPayout(context.Background(), without.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, *without.CryptoPayout, stored)
}

func TestNotifierFailureDoesNotFailCreation(t *testing.T) {
	h := newHarness(t)
	h.rec.err = assert.AnError

	tr := h.bankTransfer(t, "")
	h.svc.Wait()
	assert.Len(t, h.rec.notifications(), 1)

	got, err := h.store.GetTransfer(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, got.Status)
}
