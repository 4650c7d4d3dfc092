// Package ledger ведёт журнал изменений кошельков: добавляет записи внутри
// транзакции кошелька, отдаёт историю пользователя и сверяет её с кошельком.
package ledger

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

const defaultPageSize = 500

// Store — часть хранилища, нужная журналу.
type Store interface {
	WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error
	Entries(ctx context.Context, userID int64, since time.Time, after *storage.Cursor, limit int) ([]models.LedgerEntry, error)
}

// Recorder добавляет и читает записи журнала.
type Recorder struct {
	store    Store
	log      *slog.Logger
	pageSize int
	now      func() time.Time
}

// NewRecorder создаёт Recorder.
func NewRecorder(store Store, log *slog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		log:      log,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

// WithPageSize задаёт размер страницы при чтении истории.
func (r *Recorder) WithPageSize(n int) *Recorder {
	if n > 0 {
		r.pageSize = n
	}
	return r
}

// Append добавляет запись в журнал в рамках транзакции tx.
// Запись получает идентификатор UUIDv7, упорядоченный по времени.
func (r *Recorder) Append(ctx context.Context, tx storage.Tx, e models.LedgerEntry) (models.LedgerEntry, error) {
	const op = "ledger.Append"

	if !e.Consistent() {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w: entry arithmetic does not hold (before=%d delta=%d after=%d)",
			op, billing.ErrInvalidArgument, e.BalanceBefore, e.Delta, e.BalanceAfter)
	}
	if e.Seq <= 0 {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w: entry seq must be positive, got %d", op, billing.ErrInvalidArgument, e.Seq)
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if err := tx.AppendEntry(ctx, e); err != nil {
		return models.LedgerEntry{}, billing.NewStorageError(op, err, false)
	}
	return e, nil
}

// History возвращает ленивую последовательность записей пользователя,
// созданных не раньше since, в порядке Seq. Записи читаются страницами;
// повторный обход начинает чтение заново. Ошибка хранилища завершает обход.
func (r *Recorder) History(ctx context.Context, userID int64, since time.Time) iter.Seq2[models.LedgerEntry, error] {
	const op = "ledger.History"
	return func(yield func(models.LedgerEntry, error) bool) {
		var after *storage.Cursor
		for {
			page, err := r.store.Entries(ctx, userID, since, after, r.pageSize)
			if err != nil {
				r.log.Error("failed to read ledger page", slog.String("op", op), sl.UserID(userID), sl.Err(err))
				yield(models.LedgerEntry{}, billing.NewStorageError(op, err, false))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			after = &storage.Cursor{Seq: page[len(page)-1].Seq}
		}
	}
}

// Page возвращает одну страницу истории для постраничной выдачи наружу.
func (r *Recorder) Page(ctx context.Context, userID int64, since time.Time, after *storage.Cursor, limit int) ([]models.LedgerEntry, error) {
	const op = "ledger.Page"
	if limit <= 0 || limit > r.pageSize {
		limit = r.pageSize
	}
	entries, err := r.store.Entries(ctx, userID, since, after, limit)
	if err != nil {
		return nil, billing.NewStorageError(op, err, false)
	}
	return entries, nil
}

// Report — итог сверки журнала с кошельком.
type Report struct {
	UserID   int64         `json:"user_id"`
	Entries  int           `json:"entries"`
	Live     models.Wallet `json:"live"`
	Replayed models.Wallet `json:"replayed"`
}

// Reconcile восстанавливает кошелёк по всему журналу и сравнивает с текущим.
// Кошелёк блокируется на время сверки, чтобы журнал и баланс читались согласованно.
func (r *Recorder) Reconcile(ctx context.Context, userID int64) (Report, error) {
	const op = "ledger.Reconcile"
	log := r.log.With(slog.String("op", op), sl.UserID(userID))

	var report Report
	err := r.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		live, err := tx.LockWallet(ctx)
		if err != nil {
			return billing.NewStorageError(op, err, false)
		}
		count := 0
		counted := func(yield func(models.LedgerEntry, error) bool) {
			for e, err := range r.History(ctx, userID, time.Time{}) {
				if err == nil {
					count++
				}
				if !yield(e, err) {
					return
				}
			}
		}
		replayed, err := Replay(userID, counted)
		report = Report{UserID: userID, Entries: count, Live: live, Replayed: replayed}
		if err != nil {
			return err
		}
		if !sameState(live, replayed) {
			return fmt.Errorf("%s: %w: live total %d, replayed total %d",
				op, billing.ErrLedgerMismatch, live.Total(), replayed.Total())
		}
		return nil
	})
	if err != nil {
		log.Error("reconciliation failed", sl.Err(err))
		return report, err
	}
	log.Debug("ledger reconciled", slog.Int("entries", report.Entries))
	return report, nil
}

// Replay восстанавливает кошелёк, применяя записи к пустому кошельку.
// Проверяет, что номера записей идут подряд с 1, каждая запись начинается
// с баланса, которым закончилась предыдущая, и пулы не уходят в минус.
func Replay(userID int64, entries iter.Seq2[models.LedgerEntry, error]) (models.Wallet, error) {
	const op = "ledger.Replay"
	w := models.NewWallet(userID, time.Time{})
	n := 0
	for e, err := range entries {
		if err != nil {
			return w, err
		}
		n++
		if !e.Consistent() {
			return w, fmt.Errorf("%s: %w: entry %s is inconsistent", op, billing.ErrLedgerMismatch, e.ID)
		}
		if e.Seq != w.Version+1 {
			return w, fmt.Errorf("%s: %w: entry #%d has seq %d, expected %d",
				op, billing.ErrLedgerMismatch, n, e.Seq, w.Version+1)
		}
		if e.BalanceBefore != w.Total() {
			return w, fmt.Errorf("%s: %w: entry #%d starts at %d, wallet is at %d",
				op, billing.ErrLedgerMismatch, n, e.BalanceBefore, w.Total())
		}
		w.SubscriptionCoins += e.SubscriptionDelta
		w.AdminCoins += e.AdminDelta
		if w.SubscriptionCoins < 0 || w.AdminCoins < 0 {
			return w, fmt.Errorf("%s: %w: entry #%d drives a pool negative", op, billing.ErrLedgerMismatch, n)
		}
		w.Version = e.Seq
		w.Plan = e.Plan
		w.PlanExpiry = e.PlanExpiry
		if n == 1 {
			w.CreatedAt = e.CreatedAt
		}
		w.UpdatedAt = e.CreatedAt
	}
	if w.Plan == "" {
		w.Plan = models.PlanNone
	}
	return w.Clone(), nil
}

// Entries превращает срез записей в последовательность для Replay.
func Entries(entries []models.LedgerEntry) iter.Seq2[models.LedgerEntry, error] {
	return func(yield func(models.LedgerEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func sameState(a, b models.Wallet) bool {
	if a.Version != b.Version || a.SubscriptionCoins != b.SubscriptionCoins || a.AdminCoins != b.AdminCoins || a.Plan != b.Plan {
		return false
	}
	if (a.PlanExpiry == nil) != (b.PlanExpiry == nil) {
		return false
	}
	return a.PlanExpiry == nil || a.PlanExpiry.Equal(*b.PlanExpiry)
}
