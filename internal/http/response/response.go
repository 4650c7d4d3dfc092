// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков биллинга.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse — структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

// InsufficientFundsResponse — ответ на списание, для которого не хватило монет.
type InsufficientFundsResponse struct {
	Status    string `json:"status" example:"Error"`
	Error     string `json:"error" example:"insufficient funds"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
	Shortfall int64  `json:"shortfall"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// InsufficientFunds формирует ответ с размером нехватки.
func InsufficientFunds(e *billing.InsufficientFundsError) InsufficientFundsResponse {
	return InsufficientFundsResponse{
		Status:    StatusError,
		Error:     "insufficient funds",
		Required:  e.Required,
		Available: e.Available,
		Shortfall: e.Shortfall(),
	}
}

// FromError переводит ошибку биллинга в HTTP-статус и тело ответа.
// Внутренние подробности сбоев хранилища наружу не отдаются.
func FromError(err error) (int, any) {
	var insufficient *billing.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired, InsufficientFunds(insufficient)
	case errors.Is(err, billing.ErrInsufficientFunds):
		return http.StatusPaymentRequired, Error("insufficient funds")
	case errors.Is(err, billing.ErrUnknownFeature):
		return http.StatusNotFound, Error("unknown feature")
	case errors.Is(err, billing.ErrUnknownSKU):
		return http.StatusNotFound, Error("unknown sku")
	case errors.Is(err, billing.ErrUnknownPlan):
		return http.StatusNotFound, Error("unknown plan")
	case errors.Is(err, billing.ErrInvalidAmount), errors.Is(err, billing.ErrInvalidArgument):
		return http.StatusUnprocessableEntity, Error("invalid request")
	case errors.Is(err, billing.ErrForbidden):
		return http.StatusForbidden, Error("forbidden")
	case errors.Is(err, billing.ErrLedgerMismatch):
		return http.StatusConflict, Error("ledger does not reconcile")
	case billing.IsRetryable(err):
		return http.StatusServiceUnavailable, Error("temporarily unavailable, retry")
	default:
		return http.StatusInternalServerError, Error("internal error")
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "gt":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		case "gte":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		case "alphanum":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}
