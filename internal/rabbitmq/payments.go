package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// PaymentApplier применяет подтверждение платежа.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, ev models.PaymentEvent) (models.CreditResult, error)
}

// PaymentHandler возвращает обработчик очереди подтверждений платежей.
//
// Сообщение возвращается в очередь при временной ошибке хранилища или отмене
// контекста: транзакция откатилась, платёж не отмечен, и повтор безопасен.
// Постоянная ошибка хранилища отклоняет сообщение в dead-letter очередь, чтобы
// оно не крутилось по кругу. Некорректные сообщения, неизвестные SKU и прочие
// бизнес-ошибки логируются и подтверждаются.
func PaymentHandler(applier PaymentApplier, log *slog.Logger) Handler {
	const op = "rabbitmq.PaymentHandler"
	validate := validator.New()

	return func(ctx context.Context, body []byte) error {
		log := log.With(slog.String("op", op))

		var ev models.PaymentEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Error("failed to decode payment event, dropping", sl.Err(err))
			return nil
		}
		if err := validate.Struct(ev); err != nil {
			log.Error("invalid payment event, dropping", sl.PaymentID(ev.PaymentID), sl.Err(err))
			return nil
		}

		res, err := applier.ApplyPayment(ctx, ev)
		switch {
		case err == nil:
			log.Debug("payment event handled", sl.PaymentID(ev.PaymentID), slog.String("status", string(res.Status)))
			return nil
		case billing.IsRetryable(err),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, billing.ErrStorage):
			log.Error("payment event failed permanently", sl.PaymentID(ev.PaymentID), sl.Alert(), sl.Err(err))
			return fmt.Errorf("%w: %w", ErrReject, err)
		case errors.Is(err, billing.ErrUnknownSKU):
			return nil
		default:
			log.Error("payment event rejected", sl.PaymentID(ev.PaymentID), sl.Err(err))
			return nil
		}
	}
}
