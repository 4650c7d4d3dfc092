// Package subscription управляет жизненным циклом тарифов: активацией,
// продлением и окончанием подписок.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/metrics"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/pricing"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

const defaultBatchSize = 100

// Store — часть хранилища, нужная менеджеру подписок.
type Store interface {
	WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error
	ExpiredPlans(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Wallets — операции кошелька, которыми пользуется менеджер.
type Wallets interface {
	SetPlanIn(ctx context.Context, tx storage.Tx, plan models.Plan, coinGrant int64, expiry time.Time, reason string, meta map[string]string) (models.Mutation, error)
	ExpirePlan(ctx context.Context, userID int64, now time.Time) (models.Mutation, bool, error)
}

// Plans — тарифы из прайса.
type Plans interface {
	Plan(plan models.Plan) (pricing.PlanOffer, error)
	PlanPeriod() time.Duration
}

// Notifier сообщает пользователю об окончании тарифа.
type Notifier interface {
	PlanExpired(ctx context.Context, n models.PlanExpiredNotice) error
}

// Manager активирует, продлевает и завершает тарифы.
type Manager struct {
	store     Store
	wallets   Wallets
	plans     Plans
	log       *slog.Logger
	notifier  Notifier
	batchSize int
	now       func() time.Time
}

// NewManager создаёт Manager.
func NewManager(store Store, wallets Wallets, plans Plans, log *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		wallets:   wallets,
		plans:     plans,
		log:       log,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// WithNotifier задаёт получателя уведомлений об окончании тарифа.
func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notifier = n
	return m
}

// WithBatchSize задаёт, сколько пользователей обрабатывается за одну выборку.
func (m *Manager) WithBatchSize(n int) *Manager {
	if n > 0 {
		m.batchSize = n
	}
	return m
}

// WithClock подменяет источник времени.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Grant активирует или продлевает тариф plan в отдельной транзакции.
func (m *Manager) Grant(ctx context.Context, userID int64, plan models.Plan, reason string, meta map[string]string) (models.Mutation, error) {
	var res models.Mutation
	err := m.store.WithUser(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = m.GrantIn(ctx, tx, plan, reason, meta)
		return err
	})
	if err != nil {
		return models.Mutation{}, err
	}
	return res, nil
}

// GrantIn активирует или продлевает тариф внутри транзакции пользователя.
//
// Если текущий тариф ещё действует, новая дата окончания отсчитывается от старой,
// иначе от текущего момента. Монеты тарифа добавляются к остатку, тариф
// заменяется купленным.
func (m *Manager) GrantIn(ctx context.Context, tx storage.Tx, plan models.Plan, reason string, meta map[string]string) (models.Mutation, error) {
	const op = "subscription.Grant"

	offer, err := m.plans.Plan(plan)
	if err != nil {
		return models.Mutation{}, fmt.Errorf("%s: %w", op, err)
	}
	current, err := tx.LockWallet(ctx)
	if err != nil {
		return models.Mutation{}, billing.NewStorageError(op, err, false)
	}

	now := m.now()
	expiry := RenewalExpiry(current, now, m.plans.PlanPeriod())
	renewal := current.PlanActive(now)

	meta = maps.Clone(meta)
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	meta["plan"] = string(plan)
	if renewal {
		meta["renewal_of"] = string(current.Plan)
	}

	res, err := m.wallets.SetPlanIn(ctx, tx, plan, offer.Coins, expiry, reason, meta)
	if err != nil {
		return models.Mutation{}, fmt.Errorf("%s: %w", op, err)
	}
	m.log.Info("plan granted",
		slog.String("op", op),
		sl.UserID(current.UserID),
		slog.String("plan", string(plan)),
		slog.Bool("renewal", renewal),
		slog.Time("expiry", expiry),
	)
	return res, nil
}

// RenewalExpiry вычисляет дату окончания после покупки ещё одного периода.
func RenewalExpiry(w models.Wallet, now time.Time, period time.Duration) time.Time {
	if w.PlanActive(now) {
		return w.PlanExpiry.Add(period)
	}
	return now.Add(period)
}

// Sweep завершает все тарифы, истёкшие к текущему моменту, и возвращает их число.
// Каждый пользователь обрабатывается в своей транзакции; повторный проход ничего
// не меняет. Ошибки по отдельным пользователям не прерывают проход и
// возвращаются вместе в конце.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	const op = "subscription.Sweep"
	log := m.log.With(slog.String("op", op))

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := m.now()
	var (
		expired int
		errs    []error
	)
	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ids, err := m.store.ExpiredPlans(ctx, now, m.batchSize)
		if err != nil {
			log.Error("failed to find expired plans", sl.Err(err))
			return expired, billing.NewStorageError(op, err, false)
		}
		progress := 0
		for _, userID := range ids {
			res, ok, err := m.wallets.ExpirePlan(ctx, userID, now)
			if err != nil {
				log.Error("failed to expire plan", sl.UserID(userID), sl.Err(err))
				errs = append(errs, fmt.Errorf("user %d: %w", userID, err))
				continue
			}
			if !ok {
				continue
			}
			progress++
			metrics.PlansExpired.Inc()
			m.notify(ctx, res)
		}
		expired += progress
		// выборка повторяется, пока она полная и по ней удалось что-то завершить
		if len(ids) < m.batchSize || progress == 0 {
			break
		}
	}

	if expired > 0 {
		log.Info("plans expired", slog.Int("count", expired))
	} else {
		log.Debug("no expired plans found")
	}
	return expired, errors.Join(errs...)
}

func (m *Manager) notify(ctx context.Context, res models.Mutation) {
	if m.notifier == nil {
		return
	}
	n := models.PlanExpiredNotice{
		UserID:  res.Before.UserID,
		Plan:    res.Before.Plan,
		Balance: res.After.Total(),
	}
	if res.Before.PlanExpiry != nil {
		n.ExpiredAt = *res.Before.PlanExpiry
	}
	if err := m.notifier.PlanExpired(ctx, n); err != nil {
		m.log.Warn("failed to publish plan expired notification", sl.UserID(n.UserID), sl.Err(err))
	}
}
