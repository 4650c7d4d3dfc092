package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
	"github.com/magabrotheeeer/coin-billing/internal/storage/memory"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ClaimPayment(ctx context.Context, p models.ProcessedPayment) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestGuard_Claim(t *testing.T) {
	ev := models.PaymentEvent{PaymentID: "pay-1", UserID: 7, SKU: "coins_50", Outcome: models.OutcomeSucceeded}

	tests := []struct {
		name      string
		event     models.PaymentEvent
		mockSetup func(*MockStore)
		want      bool
		wantErr   error
	}{
		{
			name:  "first claim",
			event: ev,
			mockSetup: func(m *MockStore) {
				m.On("ClaimPayment", mock.Anything, mock.MatchedBy(func(p models.ProcessedPayment) bool {
					return p.PaymentID == "pay-1" && p.UserID == 7 && p.SKU == "coins_50" && !p.ProcessedAt.IsZero()
				})).Return(true, nil).Once()
			},
			want: true,
		},
		{
			name:  "already claimed",
			event: ev,
			mockSetup: func(m *MockStore) {
				m.On("ClaimPayment", mock.Anything, mock.Anything).Return(false, nil).Once()
			},
			want: false,
		},
		{
			name:  "storage failure",
			event: ev,
			mockSetup: func(m *MockStore) {
				m.On("ClaimPayment", mock.Anything, mock.Anything).Return(false, errors.New("db down")).Once()
			},
			wantErr: billing.ErrStorage,
		},
		{
			name:      "empty payment id",
			event:     models.PaymentEvent{UserID: 7, SKU: "coins_50"},
			mockSetup: func(*MockStore) {},
			wantErr:   billing.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			tt.mockSetup(store)
			g := New(store, newNoopLogger())

			got, err := g.Claim(context.Background(), tt.event)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestGuard_Claim_ConcurrentExactlyOnce(t *testing.T) {
	g := New(memory.New(), newNoopLogger())
	ev := models.PaymentEvent{PaymentID: "pay-42", UserID: 1, SKU: "coins_50", Outcome: models.OutcomeSucceeded}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Claim(context.Background(), ev)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestGuard_ClaimIn_RolledBackWithTransaction(t *testing.T) {
	store := memory.New()
	g := New(store, newNoopLogger())
	ev := models.PaymentEvent{PaymentID: "pay-7", UserID: 3, SKU: "plan_lite"}
	boom := errors.New("credit failed")

	err := store.WithUser(context.Background(), 3, func(ctx context.Context, tx storage.Tx) error {
		ok, err := g.ClaimIn(ctx, tx, ev)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, claimed := store.Payment("pay-7")
	assert.False(t, claimed)

	err = store.WithUser(context.Background(), 3, func(ctx context.Context, tx storage.Tx) error {
		ok, err := g.ClaimIn(ctx, tx, ev)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	p, claimed := store.Payment("pay-7")
	require.True(t, claimed)
	assert.Equal(t, models.OutcomeSucceeded, p.Outcome)

	ok, err := g.Claim(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, ok)
}
