// Package credit обрабатывает подтверждения платежей: начисляет монеты
// или продлевает тариф ровно один раз на каждый внешний платёж.
package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/metrics"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/pricing"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

// Store — транзакции пользователя.
type Store interface {
	WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error
}

// Guard отмечает платежи обработанными.
type Guard interface {
	Claim(ctx context.Context, ev models.PaymentEvent) (bool, error)
	ClaimIn(ctx context.Context, tx storage.Tx, ev models.PaymentEvent) (bool, error)
}

// SKUResolver разрешает SKU покупки.
type SKUResolver interface {
	ResolveSKU(sku string) (pricing.Grant, error)
	Version() string
}

// Wallets начисляет монеты внутри транзакции.
type Wallets interface {
	CreditIn(ctx context.Context, tx storage.Tx, amount int64, pool models.Pool, typ models.EntryType, reason string, meta map[string]string) (models.Mutation, error)
}

// Plans активирует или продлевает тариф внутри транзакции.
type Plans interface {
	GrantIn(ctx context.Context, tx storage.Tx, plan models.Plan, reason string, meta map[string]string) (models.Mutation, error)
}

// Service применяет подтверждения платежей.
type Service struct {
	store   Store
	guard   Guard
	prices  SKUResolver
	wallets Wallets
	plans   Plans
	log     *slog.Logger
}

// NewService создаёт сервис начислений.
func NewService(store Store, guard Guard, prices SKUResolver, wallets Wallets, plans Plans, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		guard:   guard,
		prices:  prices,
		wallets: wallets,
		plans:   plans,
		log:     log,
	}
}

// ApplyPayment обрабатывает подтверждение платежа.
//
// Успешный платёж начисляет монеты пакета или продлевает тариф; отметка платежа,
// изменение кошелька и запись журнала фиксируются одной транзакцией.
// Повторная доставка того же PaymentID возвращает CreditAlreadyProcessed без изменений.
// Отменённый платёж только фиксируется (CreditRecorded). Неизвестный SKU
// фиксирует платёж, чтобы повторы не зацикливались, и возвращает billing.ErrUnknownSKU.
func (s *Service) ApplyPayment(ctx context.Context, ev models.PaymentEvent) (models.CreditResult, error) {
	const op = "credit.ApplyPayment"
	log := s.log.With(
		slog.String("op", op),
		sl.PaymentID(ev.PaymentID),
		sl.UserID(ev.UserID),
		slog.String("sku", ev.SKU),
	)

	if ev.Outcome == "" {
		ev.Outcome = models.OutcomeSucceeded
	}
	if err := check(ev); err != nil {
		return models.CreditResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if ev.Outcome == models.OutcomeCanceled {
		return s.recordCanceled(ctx, log, ev)
	}

	grant, err := s.prices.ResolveSKU(ev.SKU)
	if err != nil {
		return s.rejectUnknownSKU(ctx, log, ev, err)
	}

	meta := map[string]string{
		"payment_id":    ev.PaymentID,
		"sku":           ev.SKU,
		"price_version": s.prices.Version(),
	}
	var (
		res     models.Mutation
		claimed bool
	)
	err = s.store.WithUser(ctx, ev.UserID, func(ctx context.Context, tx storage.Tx) error {
		var err error
		claimed, err = s.guard.ClaimIn(ctx, tx, ev)
		if err != nil || !claimed {
			return err
		}
		switch grant.Kind {
		case pricing.GrantPlan:
			res, err = s.plans.GrantIn(ctx, tx, grant.Plan, ev.SKU, meta)
		default:
			res, err = s.wallets.CreditIn(ctx, tx, grant.Coins, models.PoolSubscription, models.EntryCredit, ev.SKU, meta)
		}
		return err
	})
	if err != nil {
		log.Error("failed to apply payment", sl.Err(err), slog.Bool("retryable", billing.IsRetryable(err)))
		metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultError).Inc()
		return models.CreditResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		log.Info("payment already processed")
		metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultAlreadyProcessed).Inc()
		return models.CreditResult{Status: models.CreditAlreadyProcessed}, nil
	}

	metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultOK).Inc()
	metrics.CoinsGranted.WithLabelValues(string(res.Entry.Type)).Add(float64(res.Entry.Delta))
	log.Info("payment applied",
		slog.String("kind", string(grant.Kind)),
		slog.Int64("coins", res.Entry.Delta),
		slog.Int64("balance", res.After.Total()),
	)
	return models.CreditResult{Status: models.CreditApplied, Wallet: &res.After, Entry: &res.Entry}, nil
}

func (s *Service) recordCanceled(ctx context.Context, log *slog.Logger, ev models.PaymentEvent) (models.CreditResult, error) {
	const op = "credit.recordCanceled"
	claimed, err := s.guard.Claim(ctx, ev)
	if err != nil {
		log.Error("failed to record canceled payment", sl.Err(err))
		metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultError).Inc()
		return models.CreditResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultAlreadyProcessed).Inc()
		return models.CreditResult{Status: models.CreditAlreadyProcessed}, nil
	}
	log.Info("canceled payment recorded")
	metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultRecorded).Inc()
	return models.CreditResult{Status: models.CreditRecorded}, nil
}

func (s *Service) rejectUnknownSKU(ctx context.Context, log *slog.Logger, ev models.PaymentEvent, cause error) (models.CreditResult, error) {
	const op = "credit.ApplyPayment"
	claimed, err := s.guard.Claim(ctx, ev)
	if err != nil {
		log.Error("failed to record payment with unknown sku", sl.Err(err))
		metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultError).Inc()
		return models.CreditResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultAlreadyProcessed).Inc()
		return models.CreditResult{Status: models.CreditAlreadyProcessed}, nil
	}
	log.Error("payment for unknown sku, manual review required", sl.Alert(), sl.Err(cause))
	metrics.Payments.WithLabelValues(string(ev.Outcome), metrics.ResultUnknown).Inc()
	return models.CreditResult{}, fmt.Errorf("%s: %w", op, cause)
}

func check(ev models.PaymentEvent) error {
	var errs []error
	if ev.PaymentID == "" {
		errs = append(errs, errors.New("empty payment id"))
	}
	if ev.UserID <= 0 {
		errs = append(errs, fmt.Errorf("bad user id %d", ev.UserID))
	}
	if ev.Outcome != models.OutcomeSucceeded && ev.Outcome != models.OutcomeCanceled {
		errs = append(errs, fmt.Errorf("unknown outcome %q", ev.Outcome))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", billing.ErrInvalidArgument, err)
	}
	return nil
}
