package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/services/wallet"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
	"github.com/magabrotheeeer/coin-billing/internal/storage/memory"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// appendCredits добавляет n пополнений по одной монете, сдвигая время записи на минуту.
func appendCredits(t *testing.T, store *memory.Store, rec *Recorder, userID int64, n int) {
	t.Helper()
	for i := range n {
		err := store.WithUser(context.Background(), userID, func(ctx context.Context, tx storage.Tx) error {
			w, err := tx.LockWallet(ctx)
			if err != nil {
				return err
			}
			before := w.Total()
			w.SubscriptionCoins++
			w.Version++
			if err := tx.SaveWallet(ctx, w); err != nil {
				return err
			}
			_, err = rec.Append(ctx, tx, models.LedgerEntry{
				UserID:            userID,
				Seq:               w.Version,
				Type:              models.EntryCredit,
				Delta:             1,
				BalanceBefore:     before,
				BalanceAfter:      before + 1,
				SubscriptionDelta: 1,
				Plan:              models.PlanNone,
				Reason:            "coins_50",
				CreatedAt:         base.Add(time.Duration(i) * time.Minute),
			})
			return err
		})
		require.NoError(t, err)
	}
}

func TestRecorder_Append(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger())

	var got models.LedgerEntry
	err := store.WithUser(context.Background(), 1, func(ctx context.Context, tx storage.Tx) error {
		var err error
		got, err = rec.Append(ctx, tx, models.LedgerEntry{
			UserID: 1, Seq: 1, Type: models.EntryCredit, Delta: 5, BalanceAfter: 5, SubscriptionDelta: 5,
		})
		return err
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, uuid.Version(7), got.ID.Version())
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRecorder_Append_RejectsBrokenArithmetic(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger())

	err := store.WithUser(context.Background(), 1, func(ctx context.Context, tx storage.Tx) error {
		_, err := rec.Append(ctx, tx, models.LedgerEntry{
			UserID: 1, Type: models.EntryCredit, Delta: 5, BalanceBefore: 0, BalanceAfter: 6, SubscriptionDelta: 5,
		})
		return err
	})
	require.ErrorIs(t, err, billing.ErrInvalidArgument)

	entries, err := store.Entries(context.Background(), 1, time.Time{}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecorder_Append_RejectsMissingSeq(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger())

	err := store.WithUser(context.Background(), 1, func(ctx context.Context, tx storage.Tx) error {
		_, err := rec.Append(ctx, tx, models.LedgerEntry{
			UserID: 1, Type: models.EntryCredit, Delta: 5, BalanceAfter: 5, SubscriptionDelta: 5,
		})
		return err
	})
	require.ErrorIs(t, err, billing.ErrInvalidArgument)
}

func TestRecorder_History(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger()).WithPageSize(3)
	appendCredits(t, store, rec, 1, 7)
	appendCredits(t, store, rec, 2, 2)

	ctx := context.Background()

	var all []models.LedgerEntry
	for e, err := range rec.History(ctx, 1, time.Time{}) {
		require.NoError(t, err)
		all = append(all, e)
	}
	require.Len(t, all, 7)
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, int64(i), e.BalanceBefore)
		assert.Equal(t, int64(1), e.UserID)
	}

	// последовательность можно обойти повторно
	count := 0
	for _, err := range rec.History(ctx, 1, time.Time{}) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 7, count)

	// since отбрасывает ранние записи
	count = 0
	for e, err := range rec.History(ctx, 1, base.Add(5*time.Minute)) {
		require.NoError(t, err)
		assert.False(t, e.CreatedAt.Before(base.Add(5*time.Minute)))
		count++
	}
	assert.Equal(t, 2, count)

	// досрочный выход из цикла
	count = 0
	for range rec.History(ctx, 1, time.Time{}) {
		count++
		if count == 4 {
			break
		}
	}
	assert.Equal(t, 4, count)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Entries(context.Context, int64, time.Time, *storage.Cursor, int) ([]models.LedgerEntry, error) {
	return nil, errors.New("connection reset")
}

func TestRecorder_History_StorageError(t *testing.T) {
	rec := NewRecorder(failingStore{memory.New()}, newNoopLogger())

	var gotErr error
	for _, err := range rec.History(context.Background(), 1, time.Time{}) {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, billing.ErrStorage)
}

func TestRecorder_Page(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger()).WithPageSize(4)
	appendCredits(t, store, rec, 1, 6)
	ctx := context.Background()

	first, err := rec.Page(ctx, 1, time.Time{}, nil, 100)
	require.NoError(t, err)
	require.Len(t, first, 4, "limit is capped by page size")

	second, err := rec.Page(ctx, 1, time.Time{}, &storage.Cursor{Seq: first[len(first)-1].Seq}, 4)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, int64(4), second[0].BalanceBefore)
}

func TestRecorder_Reconcile(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger()).WithPageSize(2)
	appendCredits(t, store, rec, 1, 5)

	report, err := rec.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Entries)
	assert.Equal(t, int64(5), report.Live.SubscriptionCoins)
	assert.Equal(t, int64(5), report.Replayed.SubscriptionCoins)
	assert.Equal(t, int64(5), report.Replayed.Version)
}

func TestRecorder_Reconcile_ClockStepsBack(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger())

	clock := []time.Time{base, base.Add(-2 * time.Millisecond), base.Add(-time.Hour)}
	tick := 0
	wallets := wallet.NewService(store, rec, newNoopLogger()).WithClock(func() time.Time {
		now := clock[min(tick, len(clock)-1)]
		tick++
		return now
	})
	ctx := context.Background()

	_, err := wallets.Credit(ctx, 1, 100, models.PoolSubscription, models.EntryCredit, "coins_150", nil)
	require.NoError(t, err)
	_, err = wallets.Debit(ctx, 1, 30, models.DefaultPrecedence, "video", nil)
	require.NoError(t, err)
	_, err = wallets.Credit(ctx, 1, 5, models.PoolAdmin, models.EntryAdminAdjust, "bonus", nil)
	require.NoError(t, err)

	var deltas []int64
	for e, err := range rec.History(ctx, 1, time.Time{}) {
		require.NoError(t, err)
		assert.Equal(t, int64(len(deltas)+1), e.Seq)
		deltas = append(deltas, e.Delta)
	}
	assert.Equal(t, []int64{100, -30, 5}, deltas, "journal keeps mutation order when timestamps go backwards")

	report, err := rec.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(75), report.Replayed.Total())
	assert.Equal(t, int64(3), report.Live.Version)
}

func TestRecorder_Reconcile_Mismatch(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, newNoopLogger())
	appendCredits(t, store, rec, 1, 3)

	// изменение кошелька в обход журнала
	err := store.WithUser(context.Background(), 1, func(ctx context.Context, tx storage.Tx) error {
		w, err := tx.LockWallet(ctx)
		if err != nil {
			return err
		}
		w.AdminCoins = 100
		return tx.SaveWallet(ctx, w)
	})
	require.NoError(t, err)

	report, err := rec.Reconcile(context.Background(), 1)
	require.ErrorIs(t, err, billing.ErrLedgerMismatch)
	assert.Equal(t, int64(103), report.Live.Total())
	assert.Equal(t, int64(3), report.Replayed.Total())
}

func TestReplay(t *testing.T) {
	expiry := base.Add(720 * time.Hour)

	tests := []struct {
		name    string
		entries []models.LedgerEntry
		want    models.Wallet
		wantErr error
	}{
		{
			name: "empty journal",
			want: models.Wallet{UserID: 1, Plan: models.PlanNone},
		},
		{
			name: "gap in seq",
			entries: []models.LedgerEntry{
				{Seq: 1, Type: models.EntryCredit, Delta: 5, BalanceBefore: 0, BalanceAfter: 5, SubscriptionDelta: 5, Plan: models.PlanNone},
				{Seq: 3, Type: models.EntryCredit, Delta: 5, BalanceBefore: 5, BalanceAfter: 10, SubscriptionDelta: 5, Plan: models.PlanNone},
			},
			wantErr: billing.ErrLedgerMismatch,
		},
		{
			name: "grant spend adjust",
			entries: []models.LedgerEntry{
				{Seq: 1, Type: models.EntryPlanGrant, Delta: 210, BalanceBefore: 0, BalanceAfter: 210, SubscriptionDelta: 210, Plan: models.PlanStandard, PlanExpiry: &expiry, CreatedAt: base},
				{Seq: 2, Type: models.EntrySpend, Delta: -20, BalanceBefore: 210, BalanceAfter: 190, SubscriptionDelta: -20, Plan: models.PlanStandard, PlanExpiry: &expiry, CreatedAt: base.Add(time.Minute)},
				{Seq: 3, Type: models.EntryAdminAdjust, Delta: 10, BalanceBefore: 190, BalanceAfter: 200, AdminDelta: 10, Plan: models.PlanStandard, PlanExpiry: &expiry, CreatedAt: base.Add(2 * time.Minute)},
			},
			want: models.Wallet{UserID: 1, Version: 3, SubscriptionCoins: 190, AdminCoins: 10, Plan: models.PlanStandard, PlanExpiry: &expiry, CreatedAt: base, UpdatedAt: base.Add(2 * time.Minute)},
		},
		{
			name: "broken chain",
			entries: []models.LedgerEntry{
				{Seq: 1, Type: models.EntryCredit, Delta: 5, BalanceBefore: 0, BalanceAfter: 5, SubscriptionDelta: 5, Plan: models.PlanNone},
				{Seq: 2, Type: models.EntryCredit, Delta: 5, BalanceBefore: 7, BalanceAfter: 12, SubscriptionDelta: 5, Plan: models.PlanNone},
			},
			wantErr: billing.ErrLedgerMismatch,
		},
		{
			name: "pool goes negative",
			entries: []models.LedgerEntry{
				{Seq: 1, Type: models.EntryCredit, Delta: 5, BalanceBefore: 0, BalanceAfter: 5, SubscriptionDelta: 5, Plan: models.PlanNone},
				{Seq: 2, Type: models.EntrySpend, Delta: -3, BalanceBefore: 5, BalanceAfter: 2, AdminDelta: -3, Plan: models.PlanNone},
			},
			wantErr: billing.ErrLedgerMismatch,
		},
		{
			name: "inconsistent entry",
			entries: []models.LedgerEntry{
				{Seq: 1, Type: models.EntryCredit, Delta: 5, BalanceBefore: 0, BalanceAfter: 5, SubscriptionDelta: 4, Plan: models.PlanNone},
			},
			wantErr: billing.ErrLedgerMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Replay(1, Entries(tt.entries))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
