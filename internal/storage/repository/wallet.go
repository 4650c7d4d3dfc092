package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

const walletColumns = `user_id, version, subscription_coins, admin_coins, plan, plan_expiry, created_at, updated_at`

// WithUser выполняет fn в транзакции пользователя userID.
func (s *Storage) WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error {
	const op = "storage.WithUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sqlTx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageErr(op, err)
	}
	if err := fn(ctx, &pgTx{tx: sqlTx, userID: userID}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// EnsureWallet возвращает кошелёк, создавая пустой при первом обращении.
func (s *Storage) EnsureWallet(ctx context.Context, userID int64) (models.Wallet, error) {
	const op = "storage.EnsureWallet"

	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return models.Wallet{}, storageErr(op, err)
	}
	w, err := scanWallet(s.DB.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		return models.Wallet{}, storageErr(op, err)
	}
	return w, nil
}

// ExpiredPlans возвращает до limit пользователей с тарифом, истёкшим к моменту now.
func (s *Storage) ExpiredPlans(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const op = "storage.ExpiredPlans"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT user_id FROM wallets
		WHERE plan <> 'none' AND plan_expiry < $1
		ORDER BY user_id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return ids, nil
}

type pgTx struct {
	tx     *sql.Tx
	userID int64
}

// LockWallet создаёт кошелёк при отсутствии и блокирует его строку до конца транзакции.
func (t *pgTx) LockWallet(ctx context.Context) (models.Wallet, error) {
	const op = "storage.LockWallet"

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, t.userID); err != nil {
		return models.Wallet{}, storageErr(op, err)
	}
	w, err := scanWallet(t.tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, t.userID))
	if err != nil {
		return models.Wallet{}, storageErr(op, err)
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w models.Wallet) error {
	const op = "storage.SaveWallet"

	var expiry sql.NullTime
	if w.PlanExpiry != nil {
		expiry = sql.NullTime{Time: *w.PlanExpiry, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE wallets
		SET version = $2, subscription_coins = $3, admin_coins = $4, plan = $5, plan_expiry = $6, updated_at = $7
		WHERE user_id = $1`,
		t.userID, w.Version, w.SubscriptionCoins, w.AdminCoins, string(w.Plan), expiry, w.UpdatedAt)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n != 1 {
		return billing.NewStorageError(op, fmt.Errorf("wallet %d not found", t.userID), false)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e models.LedgerEntry) error {
	const op = "storage.AppendEntry"

	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var expiry sql.NullTime
	if e.PlanExpiry != nil {
		expiry = sql.NullTime{Time: *e.PlanExpiry, Valid: true}
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, seq, type, delta, balance_before, balance_after,
			subscription_delta, admin_delta, plan, plan_expiry, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, t.userID, e.Seq, string(e.Type), e.Delta, e.BalanceBefore, e.BalanceAfter,
		e.SubscriptionDelta, e.AdminDelta, string(e.Plan), expiry, e.Reason, rawMeta, e.CreatedAt)
	if err != nil {
		return storageErr(op, err)
	}
	return nil
}

func (t *pgTx) ClaimPayment(ctx context.Context, p models.ProcessedPayment) (bool, error) {
	return claimPayment(ctx, t.tx, p)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (models.Wallet, error) {
	var (
		w      models.Wallet
		plan   string
		expiry sql.NullTime
	)
	if err := row.Scan(&w.UserID, &w.Version, &w.SubscriptionCoins, &w.AdminCoins, &plan, &expiry, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return models.Wallet{}, err
	}
	w.Plan = models.Plan(plan)
	if expiry.Valid {
		t := expiry.Time
		w.PlanExpiry = &t
	}
	return w, nil
}
