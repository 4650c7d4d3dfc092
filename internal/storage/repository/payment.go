package repository

import (
	"context"
	"database/sql"

	"github.com/magabrotheeeer/coin-billing/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ClaimPayment отмечает платёж обработанным в отдельной транзакции.
func (s *Storage) ClaimPayment(ctx context.Context, p models.ProcessedPayment) (bool, error) {
	return claimPayment(ctx, s.DB, p)
}

// Payment возвращает отметку о платеже.
func (s *Storage) Payment(ctx context.Context, paymentID string) (models.ProcessedPayment, bool, error) {
	const op = "storage.Payment"

	var (
		p       models.ProcessedPayment
		outcome string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT payment_id, user_id, sku, outcome, processed_at
		FROM processed_payments WHERE payment_id = $1`, paymentID).
		Scan(&p.PaymentID, &p.UserID, &p.SKU, &outcome, &p.ProcessedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ProcessedPayment{}, false, nil
		}
		return models.ProcessedPayment{}, false, storageErr(op, err)
	}
	p.Outcome = models.Outcome(outcome)
	return p, true, nil
}

func claimPayment(ctx context.Context, db execer, p models.ProcessedPayment) (bool, error) {
	const op = "storage.ClaimPayment"

	res, err := db.ExecContext(ctx, `
		INSERT INTO processed_payments (payment_id, user_id, sku, outcome, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_id) DO NOTHING`,
		p.PaymentID, p.UserID, p.SKU, string(p.Outcome), p.ProcessedAt)
	if err != nil {
		return false, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(op, err)
	}
	return n == 1, nil
}
