// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразно формировать структурированные поля лога:
// ошибки, идентификаторы пользователей и платежей.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to charge", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// UserID возвращает атрибут с идентификатором пользователя.
func UserID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

// PaymentID возвращает атрибут с идентификатором внешнего платежа.
func PaymentID(id string) slog.Attr {
	return slog.String("payment_id", id)
}

// Alert помечает запись, на которую должен среагировать дежурный.
func Alert() slog.Attr {
	return slog.Bool("alert", true)
}
