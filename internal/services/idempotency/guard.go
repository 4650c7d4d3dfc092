// Package idempotency гарантирует, что внешний платёж обрабатывается ровно один раз.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

// Store — отметка платежа в отдельной транзакции.
type Store interface {
	ClaimPayment(ctx context.Context, p models.ProcessedPayment) (bool, error)
}

// Guard отмечает платежи обработанными.
type Guard struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New создаёт Guard.
func New(store Store, log *slog.Logger) *Guard {
	return &Guard{store: store, log: log, now: time.Now}
}

// Claim отмечает платёж в собственной транзакции.
// Возвращает true, если вызов первый для этого PaymentID.
func (g *Guard) Claim(ctx context.Context, ev models.PaymentEvent) (bool, error) {
	const op = "idempotency.Claim"
	p, err := g.record(ev)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	ok, err := g.store.ClaimPayment(ctx, p)
	if err != nil {
		return false, billing.NewStorageError(op, err, false)
	}
	if !ok {
		g.log.Info("payment already processed", slog.String("op", op), sl.PaymentID(ev.PaymentID))
	}
	return ok, nil
}

// ClaimIn отмечает платёж внутри транзакции пользователя: отметка фиксируется
// только вместе с начислением, откат транзакции снимает её.
func (g *Guard) ClaimIn(ctx context.Context, tx storage.Tx, ev models.PaymentEvent) (bool, error) {
	const op = "idempotency.ClaimIn"
	p, err := g.record(ev)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	ok, err := tx.ClaimPayment(ctx, p)
	if err != nil {
		return false, billing.NewStorageError(op, err, false)
	}
	return ok, nil
}

func (g *Guard) record(ev models.PaymentEvent) (models.ProcessedPayment, error) {
	if ev.PaymentID == "" {
		return models.ProcessedPayment{}, fmt.Errorf("%w: empty payment id", billing.ErrInvalidArgument)
	}
	outcome := ev.Outcome
	if outcome == "" {
		outcome = models.OutcomeSucceeded
	}
	return models.ProcessedPayment{
		PaymentID:   ev.PaymentID,
		UserID:      ev.UserID,
		SKU:         ev.SKU,
		Outcome:     outcome,
		ProcessedAt: g.now().UTC(),
	}, nil
}
