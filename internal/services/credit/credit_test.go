package credit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/pricing"
	"github.com/magabrotheeeer/coin-billing/internal/services/idempotency"
	"github.com/magabrotheeeer/coin-billing/internal/services/ledger"
	"github.com/magabrotheeeer/coin-billing/internal/services/subscription"
	"github.com/magabrotheeeer/coin-billing/internal/services/wallet"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
	"github.com/magabrotheeeer/coin-billing/internal/storage/memory"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fixture struct {
	store   *memory.Store
	ledger  *ledger.Recorder
	wallets *wallet.Service
	plans   *subscription.Manager
	guard   *idempotency.Guard
	prices  *pricing.Table
	service *Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	table, err := pricing.New(pricing.File{
		Version:    "2025-09",
		PlanPeriod: 720 * time.Hour,
		Plans: []pricing.PlanOffer{
			{SKU: "plan_lite", Plan: models.PlanLite, Price: 299, Coins: 70},
			{SKU: "plan_standard", Plan: models.PlanStandard, Price: 690, Coins: 210, Recommended: true},
		},
		TopUps: []pricing.Package{{SKU: "coins_50", Price: 199, Coins: 50}},
		Addons: []pricing.Package{{SKU: "addon_video_pack", Price: 390, Coins: 120}},
	})
	require.NoError(t, err)

	f := &fixture{store: memory.New(), prices: table, now: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.NewRecorder(f.store, newNoopLogger())
	f.wallets = wallet.NewService(f.store, f.ledger, newNoopLogger()).WithClock(clock)
	f.plans = subscription.NewManager(f.store, f.wallets, table, newNoopLogger()).WithClock(clock)
	f.guard = idempotency.New(f.store, newNoopLogger())
	f.service = NewService(f.store, f.guard, table, f.wallets, f.plans, newNoopLogger())
	return f
}

func succeeded(id string, userID int64, sku string) models.PaymentEvent {
	return models.PaymentEvent{PaymentID: id, UserID: userID, SKU: sku, Outcome: models.OutcomeSucceeded}
}

func entriesOf(t *testing.T, f *fixture, userID int64) []models.LedgerEntry {
	t.Helper()
	var out []models.LedgerEntry
	for e, err := range f.ledger.History(context.Background(), userID, time.Time{}) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestService_ApplyPayment_TopUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.ApplyPayment(ctx, succeeded("pay-1", 1, "coins_50"))
	require.NoError(t, err)
	assert.Equal(t, models.CreditApplied, res.Status)
	require.NotNil(t, res.Wallet)
	require.NotNil(t, res.Entry)
	assert.Equal(t, int64(50), res.Wallet.SubscriptionCoins)
	assert.Equal(t, models.EntryCredit, res.Entry.Type)
	assert.Equal(t, "pay-1", res.Entry.Metadata["payment_id"])
	assert.Equal(t, "2025-09", res.Entry.Metadata["price_version"])

	p, ok := f.store.Payment("pay-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeSucceeded, p.Outcome)
	assert.Equal(t, int64(1), p.UserID)
}

func TestService_ApplyPayment_Addon(t *testing.T) {
	f := newFixture(t)

	res, err := f.service.ApplyPayment(context.Background(), succeeded("pay-a", 1, "addon_video_pack"))
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.Wallet.SubscriptionCoins)
	assert.Equal(t, models.PlanNone, res.Wallet.Plan)
}

func TestService_ApplyPayment_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := succeeded("pay-1", 1, "coins_50")

	_, err := f.service.ApplyPayment(ctx, ev)
	require.NoError(t, err)

	res, err := f.service.ApplyPayment(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.CreditAlreadyProcessed, res.Status)
	assert.Nil(t, res.Wallet)

	w, err := f.wallets.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Total())
	assert.Len(t, entriesOf(t, f, 1), 1)
}

func TestService_ApplyPayment_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := succeeded("pay-race", 1, "coins_50")

	var (
		mu       sync.Mutex
		statuses = map[models.CreditStatus]int{}
		wg       sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.service.ApplyPayment(ctx, ev)
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[models.CreditApplied])
	assert.Equal(t, 19, statuses[models.CreditAlreadyProcessed])

	w, err := f.wallets.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Total())
	_, err = f.ledger.Reconcile(ctx, 1)
	require.NoError(t, err)
}

func TestService_ApplyPayment_PlanRenewalStacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.ApplyPayment(ctx, succeeded("pay-lite", 1, "plan_lite"))
	require.NoError(t, err)
	_, err = f.wallets.Debit(ctx, 1, 20, models.DefaultPrecedence, "video", nil)
	require.NoError(t, err)

	f.now = f.now.Add(5 * 24 * time.Hour)
	res, err := f.service.ApplyPayment(ctx, succeeded("pay-std", 1, "plan_standard"))
	require.NoError(t, err)

	assert.Equal(t, models.CreditApplied, res.Status)
	assert.Equal(t, int64(260), res.Wallet.SubscriptionCoins)
	assert.Equal(t, models.PlanStandard, res.Wallet.Plan)
	want := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC).Add(2 * 720 * time.Hour)
	require.NotNil(t, res.Wallet.PlanExpiry)
	assert.True(t, res.Wallet.PlanExpiry.Equal(want))
	assert.Equal(t, models.EntryPlanGrant, res.Entry.Type)
	assert.Equal(t, "pay-std", res.Entry.Metadata["payment_id"])
}

func TestService_ApplyPayment_UnknownSKU(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := succeeded("pay-x", 1, "coins_9000")

	_, err := f.service.ApplyPayment(ctx, ev)
	require.ErrorIs(t, err, billing.ErrUnknownSKU)

	_, claimed := f.store.Payment("pay-x")
	assert.True(t, claimed, "unknown sku still consumes the payment id")

	res, err := f.service.ApplyPayment(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.CreditAlreadyProcessed, res.Status)

	w, err := f.wallets.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Total())
	assert.Empty(t, entriesOf(t, f, 1))
}

func TestService_ApplyPayment_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.ApplyPayment(ctx, models.PaymentEvent{
		PaymentID: "pay-c", UserID: 1, SKU: "coins_50", Outcome: models.OutcomeCanceled,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CreditRecorded, res.Status)

	p, ok := f.store.Payment("pay-c")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeCanceled, p.Outcome)

	res, err = f.service.ApplyPayment(ctx, succeeded("pay-c", 1, "coins_50"))
	require.NoError(t, err)
	assert.Equal(t, models.CreditAlreadyProcessed, res.Status)

	w, err := f.wallets.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Total())
}

func TestService_ApplyPayment_InvalidEvent(t *testing.T) {
	tests := []struct {
		name  string
		event models.PaymentEvent
	}{
		{name: "empty payment id", event: models.PaymentEvent{UserID: 1, SKU: "coins_50"}},
		{name: "bad user", event: models.PaymentEvent{PaymentID: "p", SKU: "coins_50"}},
		{name: "bad outcome", event: models.PaymentEvent{PaymentID: "p", UserID: 1, SKU: "coins_50", Outcome: "pending"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.ApplyPayment(context.Background(), tt.event)
			require.ErrorIs(t, err, billing.ErrInvalidArgument)
			_, claimed := f.store.Payment("p")
			assert.False(t, claimed)
		})
	}
}

type MockWallets struct {
	mock.Mock
}

func (m *MockWallets) CreditIn(ctx context.Context, tx storage.Tx, amount int64, pool models.Pool, typ models.EntryType, reason string, meta map[string]string) (models.Mutation, error) {
	args := m.Called(ctx, tx, amount, pool, typ, reason, meta)
	return args.Get(0).(models.Mutation), args.Error(1)
}

func TestService_ApplyPayment_FailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := succeeded("pay-retry", 1, "coins_50")

	failing := new(MockWallets)
	failing.On("CreditIn", mock.Anything, mock.Anything, int64(50), models.PoolSubscription, models.EntryCredit, "coins_50", mock.Anything).
		Return(models.Mutation{}, billing.NewStorageError("wallet.Credit", errors.New("serialization failure"), true)).Once()
	s := NewService(f.store, f.guard, f.prices, failing, f.plans, newNoopLogger())

	_, err := s.ApplyPayment(ctx, ev)
	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err))
	_, claimed := f.store.Payment("pay-retry")
	assert.False(t, claimed)
	failing.AssertExpectations(t)

	res, err := f.service.ApplyPayment(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.CreditApplied, res.Status)
	assert.Equal(t, int64(50), res.Wallet.Total())
}
