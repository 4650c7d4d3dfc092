// Package spend списывает монеты за использование функций бота.
package spend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/metrics"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// PriceResolver возвращает стоимость функции.
type PriceResolver interface {
	Cost(feature string, quality models.Quality) (int64, error)
	Version() string
}

// Debiter списывает монеты с кошелька.
type Debiter interface {
	Debit(ctx context.Context, userID, amount int64, precedence models.Precedence, reason string, meta map[string]string) (models.DebitResult, error)
}

// Service оплачивает функции.
type Service struct {
	prices     PriceResolver
	wallets    Debiter
	log        *slog.Logger
	precedence models.Precedence
}

// NewService создаёт сервис списаний. Пулы расходуются в порядке models.DefaultPrecedence.
func NewService(prices PriceResolver, wallets Debiter, log *slog.Logger) *Service {
	return &Service{
		prices:     prices,
		wallets:    wallets,
		log:        log,
		precedence: models.DefaultPrecedence,
	}
}

// WithPrecedence задаёт порядок расхода пулов.
func (s *Service) WithPrecedence(p models.Precedence) *Service {
	s.precedence = p
	return s
}

// Charge списывает стоимость функции feature в качестве quality.
// Неизвестная функция считается ошибкой конфигурации, кошелёк не трогается.
// При нехватке монет возвращается *billing.InsufficientFundsError.
func (s *Service) Charge(ctx context.Context, userID int64, feature string, quality models.Quality) (models.ChargeResult, error) {
	const op = "spend.Charge"
	log := s.log.With(slog.String("op", op), sl.UserID(userID), slog.String("feature", feature), slog.String("quality", string(quality)))

	cost, err := s.prices.Cost(feature, quality)
	if err != nil {
		log.Error("feature is not priced", sl.Err(err))
		metrics.Charges.WithLabelValues(feature, metrics.ResultUnknown).Inc()
		return models.ChargeResult{}, fmt.Errorf("%s: %w", op, err)
	}

	meta := map[string]string{
		"feature":       feature,
		"quality":       string(quality),
		"price_version": s.prices.Version(),
	}
	res, err := s.wallets.Debit(ctx, userID, cost, s.precedence, feature, meta)
	if err != nil {
		if errors.Is(err, billing.ErrInsufficientFunds) {
			log.Info("insufficient funds", slog.Int64("cost", cost))
			metrics.Charges.WithLabelValues(feature, metrics.ResultInsufficientFunds).Inc()
			return models.ChargeResult{}, err
		}
		log.Error("failed to debit wallet", sl.Err(err))
		metrics.Charges.WithLabelValues(feature, metrics.ResultError).Inc()
		return models.ChargeResult{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.Charges.WithLabelValues(feature, metrics.ResultOK).Inc()
	metrics.CoinsSpent.WithLabelValues(string(models.PoolSubscription)).Add(float64(res.FromSubscription))
	metrics.CoinsSpent.WithLabelValues(string(models.PoolAdmin)).Add(float64(res.FromAdmin))
	log.Info("feature charged", slog.Int64("cost", cost), slog.Int64("balance", res.After.Total()))

	return models.ChargeResult{
		Feature: feature,
		Quality: quality,
		Cost:    cost,
		Wallet:  res.After,
		Entry:   res.Entry,
	}, nil
}
