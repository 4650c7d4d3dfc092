// Package wallet реализует операции над кошельком пользователя: чтение,
// списание с учётом порядка пулов, пополнение, установку и окончание тарифа,
// ручную корректировку оператором.
//
// Каждая операция блокирует кошелёк пользователя и в той же транзакции
// добавляет запись в журнал. Методы с суффиксом In работают внутри уже
// открытой транзакции и нужны координаторам, которые объединяют несколько
// шагов (например, отметку платежа и начисление) в одну транзакцию.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

// Store — часть хранилища, нужная кошельку.
type Store interface {
	WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error
	EnsureWallet(ctx context.Context, userID int64) (models.Wallet, error)
}

// Recorder добавляет запись журнала внутри транзакции.
type Recorder interface {
	Append(ctx context.Context, tx storage.Tx, e models.LedgerEntry) (models.LedgerEntry, error)
}

// Service реализует операции над кошельками.
type Service struct {
	store     Store
	ledger    Recorder
	log       *slog.Logger
	now       func() time.Time
	operators []string
}

// NewService создаёт сервис кошельков.
func NewService(store Store, ledger Recorder, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		log:    log,
		now:    time.Now,
	}
}

// WithOperators задаёт идентификаторы операторов, которым разрешены ручные корректировки.
func (s *Service) WithOperators(ids ...string) *Service {
	s.operators = slices.Clone(ids)
	return s
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get возвращает снимок кошелька, создавая пустой при первом обращении.
func (s *Service) Get(ctx context.Context, userID int64) (models.Wallet, error) {
	const op = "wallet.Get"
	w, err := s.store.EnsureWallet(ctx, userID)
	if err != nil {
		return models.Wallet{}, billing.NewStorageError(op, err, false)
	}
	return w, nil
}

// Debit списывает amount монет, расходуя пулы в порядке precedence.
// При нехватке средств возвращает *billing.InsufficientFundsError, кошелёк не меняется.
func (s *Service) Debit(ctx context.Context, userID, amount int64, precedence models.Precedence, reason string, meta map[string]string) (models.DebitResult, error) {
	var res models.DebitResult
	err := s.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = s.DebitIn(ctx, tx, amount, precedence, reason, meta)
		return err
	})
	if err != nil {
		return models.DebitResult{}, err
	}
	return res, nil
}

// DebitIn — Debit внутри открытой транзакции.
func (s *Service) DebitIn(ctx context.Context, tx storage.Tx, amount int64, precedence models.Precedence, reason string, meta map[string]string) (models.DebitResult, error) {
	const op = "wallet.Debit"
	if amount <= 0 {
		return models.DebitResult{}, fmt.Errorf("%s: %w: %d", op, billing.ErrInvalidAmount, amount)
	}
	if precedence == nil {
		precedence = models.DefaultPrecedence
	}
	if !precedence.Valid() {
		return models.DebitResult{}, fmt.Errorf("%s: %w: precedence %v", op, billing.ErrInvalidArgument, precedence)
	}

	var fromSub, fromAdmin int64
	m, err := s.mutate(ctx, tx, models.EntrySpend, reason, meta, func(w *models.Wallet) error {
		var err error
		fromSub, fromAdmin, err = Split(*w, amount, precedence)
		if err != nil {
			return err
		}
		w.SubscriptionCoins -= fromSub
		w.AdminCoins -= fromAdmin
		return nil
	})
	if err != nil {
		return models.DebitResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.DebitResult{Mutation: m, FromSubscription: fromSub, FromAdmin: fromAdmin}, nil
}

// Split раскладывает списание amount по пулам кошелька в порядке precedence.
func Split(w models.Wallet, amount int64, precedence models.Precedence) (fromSub, fromAdmin int64, err error) {
	if w.Total() < amount {
		return 0, 0, &billing.InsufficientFundsError{Required: amount, Available: w.Total()}
	}
	remaining := amount
	for _, pool := range precedence {
		take := min(remaining, w.Balance(pool))
		if pool == models.PoolAdmin {
			fromAdmin = take
		} else {
			fromSub = take
		}
		remaining -= take
	}
	return fromSub, fromAdmin, nil
}

// Credit увеличивает пул pool на amount монет и записывает запись типа typ.
func (s *Service) Credit(ctx context.Context, userID, amount int64, pool models.Pool, typ models.EntryType, reason string, meta map[string]string) (models.Mutation, error) {
	var res models.Mutation
	err := s.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = s.CreditIn(ctx, tx, amount, pool, typ, reason, meta)
		return err
	})
	if err != nil {
		return models.Mutation{}, err
	}
	return res, nil
}

// CreditIn — Credit внутри открытой транзакции.
func (s *Service) CreditIn(ctx context.Context, tx storage.Tx, amount int64, pool models.Pool, typ models.EntryType, reason string, meta map[string]string) (models.Mutation, error) {
	const op = "wallet.Credit"
	if amount < 0 {
		return models.Mutation{}, fmt.Errorf("%s: %w: %d", op, billing.ErrInvalidAmount, amount)
	}
	if !pool.Valid() {
		return models.Mutation{}, fmt.Errorf("%s: %w: pool %q", op, billing.ErrInvalidArgument, pool)
	}
	m, err := s.mutate(ctx, tx, typ, reason, meta, func(w *models.Wallet) error {
		if err := checkHeadroom(*w, amount); err != nil {
			return err
		}
		if pool == models.PoolAdmin {
			w.AdminCoins += amount
		} else {
			w.SubscriptionCoins += amount
		}
		return nil
	})
	if err != nil {
		return models.Mutation{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// SetPlan устанавливает тариф и дату окончания и добавляет coinGrant подписочных монет.
// Оставшиеся монеты не сгорают: начисление складывается с текущим балансом.
func (s *Service) SetPlan(ctx context.Context, userID int64, plan models.Plan, coinGrant int64, expiry time.Time, reason string, meta map[string]string) (models.Mutation, error) {
	var res models.Mutation
	err := s.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = s.SetPlanIn(ctx, tx, plan, coinGrant, expiry, reason, meta)
		return err
	})
	if err != nil {
		return models.Mutation{}, err
	}
	return res, nil
}

// SetPlanIn — SetPlan внутри открытой транзакции.
func (s *Service) SetPlanIn(ctx context.Context, tx storage.Tx, plan models.Plan, coinGrant int64, expiry time.Time, reason string, meta map[string]string) (models.Mutation, error) {
	const op = "wallet.SetPlan"
	if !plan.Valid() || plan == models.PlanNone {
		return models.Mutation{}, fmt.Errorf("%s: %w: %q", op, billing.ErrUnknownPlan, plan)
	}
	if coinGrant < 0 {
		return models.Mutation{}, fmt.Errorf("%s: %w: %d", op, billing.ErrInvalidAmount, coinGrant)
	}
	if expiry.IsZero() {
		return models.Mutation{}, fmt.Errorf("%s: %w: empty expiry", op, billing.ErrInvalidArgument)
	}
	m, err := s.mutate(ctx, tx, models.EntryPlanGrant, reason, meta, func(w *models.Wallet) error {
		if err := checkHeadroom(*w, coinGrant); err != nil {
			return err
		}
		w.Plan = plan
		w.PlanExpiry = &expiry
		w.SubscriptionCoins += coinGrant
		return nil
	})
	if err != nil {
		return models.Mutation{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// ExpirePlan завершает тариф, если он истёк к моменту now.
// Монеты не списываются. Если тарифа нет или он ещё действует, ничего не меняется
// и возвращается false.
func (s *Service) ExpirePlan(ctx context.Context, userID int64, now time.Time) (models.Mutation, bool, error) {
	var (
		res     models.Mutation
		expired bool
	)
	err := s.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, expired, err = s.ExpirePlanIn(ctx, tx, now)
		return err
	})
	if err != nil {
		return models.Mutation{}, false, err
	}
	return res, expired, nil
}

// ExpirePlanIn — ExpirePlan внутри открытой транзакции.
func (s *Service) ExpirePlanIn(ctx context.Context, tx storage.Tx, now time.Time) (models.Mutation, bool, error) {
	const op = "wallet.ExpirePlan"
	current, err := tx.LockWallet(ctx)
	if err != nil {
		return models.Mutation{}, false, billing.NewStorageError(op, err, false)
	}
	if current.Plan == models.PlanNone || current.PlanExpiry == nil || !current.PlanExpiry.Before(now) {
		return models.Mutation{Before: current, After: current}, false, nil
	}
	meta := map[string]string{
		"plan":   string(current.Plan),
		"expiry": current.PlanExpiry.UTC().Format(time.RFC3339),
	}
	m, err := s.mutate(ctx, tx, models.EntryPlanExpire, "plan_expired", meta, func(w *models.Wallet) error {
		w.Plan = models.PlanNone
		w.PlanExpiry = nil
		return nil
	})
	if err != nil {
		return models.Mutation{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return m, true, nil
}

// Adjust устанавливает суммарный баланс пользователя в newBalance.
// Подписочный пул сохраняется, если новый баланс его покрывает, разница уходит
// в бонусный пул; иначе подписочный пул урезается до newBalance, бонусный обнуляется.
func (s *Service) Adjust(ctx context.Context, operatorID string, userID, newBalance int64) (models.Mutation, error) {
	const op = "wallet.Adjust"
	log := s.log.With(slog.String("op", op), sl.UserID(userID), slog.String("operator", operatorID))

	if !s.isOperator(operatorID) {
		log.Warn("adjustment rejected: not an operator")
		return models.Mutation{}, fmt.Errorf("%s: %w", op, billing.ErrForbidden)
	}
	if newBalance < 0 {
		return models.Mutation{}, fmt.Errorf("%s: %w: %d", op, billing.ErrInvalidAmount, newBalance)
	}

	var res models.Mutation
	err := s.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.LockWallet(ctx)
		if err != nil {
			return billing.NewStorageError(op, err, false)
		}
		meta := map[string]string{
			"operator":         operatorID,
			"previous_balance": strconv.FormatInt(current.Total(), 10),
			"new_balance":      strconv.FormatInt(newBalance, 10),
		}
		res, err = s.mutate(ctx, tx, models.EntryAdminAdjust, "override", meta, func(w *models.Wallet) error {
			if newBalance >= w.SubscriptionCoins {
				w.AdminCoins = newBalance - w.SubscriptionCoins
			} else {
				w.SubscriptionCoins = newBalance
				w.AdminCoins = 0
			}
			return nil
		})
		return err
	})
	if err != nil {
		log.Error("failed to adjust balance", sl.Err(err))
		return models.Mutation{}, err
	}
	log.Info("balance adjusted", slog.Int64("before", res.Before.Total()), slog.Int64("after", res.After.Total()))
	return res, nil
}

// Bonus начисляет бонусные монеты от имени оператора.
func (s *Service) Bonus(ctx context.Context, operatorID string, userID, amount int64, reason string) (models.Mutation, error) {
	const op = "wallet.Bonus"
	log := s.log.With(slog.String("op", op), sl.UserID(userID), slog.String("operator", operatorID))

	if !s.isOperator(operatorID) {
		log.Warn("bonus rejected: not an operator")
		return models.Mutation{}, fmt.Errorf("%s: %w", op, billing.ErrForbidden)
	}
	if amount <= 0 {
		return models.Mutation{}, fmt.Errorf("%s: %w: %d", op, billing.ErrInvalidAmount, amount)
	}
	if reason == "" {
		reason = "bonus"
	}
	res, err := s.Credit(ctx, userID, amount, models.PoolAdmin, models.EntryAdminAdjust, reason,
		map[string]string{"operator": operatorID})
	if err != nil {
		log.Error("failed to grant bonus", sl.Err(err))
		return models.Mutation{}, err
	}
	log.Info("bonus granted", slog.Int64("amount", amount))
	return res, nil
}

// checkHeadroom не даёт начислению переполнить суммарный баланс.
func checkHeadroom(w models.Wallet, amount int64) error {
	if amount > math.MaxInt64-w.Total() {
		return fmt.Errorf("%w: crediting %d to balance %d overflows", billing.ErrInvalidAmount, amount, w.Total())
	}
	return nil
}

func (s *Service) isOperator(id string) bool {
	return id != "" && slices.Contains(s.operators, id)
}

// mutate блокирует кошелёк, применяет change, сохраняет результат и пишет запись журнала.
func (s *Service) mutate(ctx context.Context, tx storage.Tx, typ models.EntryType, reason string, meta map[string]string, change func(w *models.Wallet) error) (models.Mutation, error) {
	const op = "wallet.mutate"

	before, err := tx.LockWallet(ctx)
	if err != nil {
		return models.Mutation{}, billing.NewStorageError(op, err, false)
	}
	after := before.Clone()
	if err := change(&after); err != nil {
		return models.Mutation{}, err
	}
	if after.SubscriptionCoins < 0 || after.AdminCoins < 0 {
		return models.Mutation{}, &billing.InsufficientFundsError{Required: before.Total() - after.Total(), Available: before.Total()}
	}

	now := s.now()
	after.UpdatedAt = now
	after.Version = before.Version + 1
	if err := tx.SaveWallet(ctx, after); err != nil {
		return models.Mutation{}, billing.NewStorageError(op, err, false)
	}

	entry, err := s.ledger.Append(ctx, tx, models.LedgerEntry{
		UserID:            before.UserID,
		Seq:               after.Version,
		Type:              typ,
		Delta:             after.Total() - before.Total(),
		BalanceBefore:     before.Total(),
		BalanceAfter:      after.Total(),
		SubscriptionDelta: after.SubscriptionCoins - before.SubscriptionCoins,
		AdminDelta:        after.AdminCoins - before.AdminCoins,
		Plan:              after.Plan,
		PlanExpiry:        after.Clone().PlanExpiry,
		Reason:            reason,
		Metadata:          maps.Clone(meta),
		CreatedAt:         now,
	})
	if err != nil {
		return models.Mutation{}, err
	}

	s.log.Debug("wallet mutated",
		sl.UserID(before.UserID),
		slog.String("type", string(typ)),
		slog.Int64("delta", entry.Delta),
		slog.Int64("balance", entry.BalanceAfter),
	)
	return models.Mutation{Before: before, After: after, Entry: entry}, nil
}
