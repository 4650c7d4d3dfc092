// Package billing содержит общую для всех сервисов таксономию ошибок.
//
// Бизнес-ошибки возвращаются вызывающему как есть и сравниваются через errors.Is;
// ошибки хранилища оборачиваются в StorageError, чтобы вызывающий сам решил,
// можно ли повторять операцию.
package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds — на кошельке не хватает монет, кошелёк не изменён.
	ErrInsufficientFunds = errors.New("billing: insufficient funds")
	// ErrUnknownFeature — пары функция/качество нет в прайсе.
	ErrUnknownFeature = errors.New("billing: unknown feature")
	// ErrUnknownSKU — SKU нет в прайсе.
	ErrUnknownSKU = errors.New("billing: unknown sku")
	// ErrUnknownPlan — тарифа нет в прайсе.
	ErrUnknownPlan = errors.New("billing: unknown plan")
	// ErrInvalidAmount — отрицательная или нулевая сумма там, где она недопустима.
	ErrInvalidAmount = errors.New("billing: invalid amount")
	// ErrInvalidArgument — некорректный аргумент операции.
	ErrInvalidArgument = errors.New("billing: invalid argument")
	// ErrForbidden — операция разрешена только оператору.
	ErrForbidden = errors.New("billing: forbidden")
	// ErrLedgerMismatch — журнал не сходится с кошельком.
	ErrLedgerMismatch = errors.New("billing: ledger does not reconcile with wallet")
	// ErrStorage — сбой хранилища.
	ErrStorage = errors.New("billing: storage error")
)

// InsufficientFundsError сообщает, сколько требовалось и сколько было доступно.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("billing: insufficient funds: required %d, available %d", e.Required, e.Available)
}

// Unwrap позволяет сравнивать ошибку с ErrInsufficientFunds.
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Shortfall возвращает недостающее количество монет.
func (e *InsufficientFundsError) Shortfall() int64 {
	return e.Required - e.Available
}

// StorageError — сбой хранилища. Операция не применена частично:
// изменение кошелька и запись журнала выполняются одной транзакцией.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap раскрывает и ErrStorage, и исходную причину.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// NewStorageError оборачивает err, если он ещё не является StorageError.
func NewStorageError(op string, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err, Retryable: retryable}
}

// IsRetryable сообщает, что операцию можно безопасно повторить:
// транзакция была отклонена хранилищем из-за конфликта или потери соединения.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsConfigError сообщает об ошибке конфигурации прайса.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownFeature) ||
		errors.Is(err, ErrUnknownSKU) ||
		errors.Is(err, ErrUnknownPlan)
}
