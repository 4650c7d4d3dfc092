package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

const entryColumns = `id, user_id, seq, type, delta, balance_before, balance_after,
	subscription_delta, admin_delta, plan, plan_expiry, reason, metadata, created_at`

// Entries возвращает страницу журнала пользователя в порядке seq.
func (s *Storage) Entries(ctx context.Context, userID int64, since time.Time, after *storage.Cursor, limit int) ([]models.LedgerEntry, error) {
	const op = "storage.Entries"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE user_id = $1 AND created_at >= $2
			ORDER BY seq
			LIMIT $3`, userID, since, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE user_id = $1 AND created_at >= $2 AND seq > $3
			ORDER BY seq
			LIMIT $4`, userID, since, after.Seq, limit)
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]models.LedgerEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return result, nil
}

func scanEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		e       models.LedgerEntry
		typ     string
		plan    string
		expiry  sql.NullTime
		rawMeta []byte
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Seq, &typ, &e.Delta, &e.BalanceBefore, &e.BalanceAfter,
		&e.SubscriptionDelta, &e.AdminDelta, &plan, &expiry, &e.Reason, &rawMeta, &e.CreatedAt)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	e.Type = models.EntryType(typ)
	e.Plan = models.Plan(plan)
	if expiry.Valid {
		t := expiry.Time
		e.PlanExpiry = &t
	}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
			return models.LedgerEntry{}, err
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
	}
	return e, nil
}
