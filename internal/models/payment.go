package models

import "time"

// Outcome — итог платежа у платёжного провайдера.
type Outcome string

const (
	// OutcomeSucceeded — платёж проведён, нужно начислить.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeCanceled — платёж отменён, фиксируется без начисления.
	OutcomeCanceled Outcome = "canceled"
)

// ProcessedPayment — отметка о том, что внешний платёж уже обработан.
// PaymentID уникален за всё время работы системы.
type ProcessedPayment struct {
	PaymentID   string    `json:"payment_id"`
	UserID      int64     `json:"user_id"`
	SKU         string    `json:"sku"`
	Outcome     Outcome   `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PaymentEvent — входящее подтверждение платежа (вебхук или очередь).
type PaymentEvent struct {
	PaymentID string  `json:"payment_id" validate:"required"`
	UserID    int64   `json:"user_id" validate:"required,gt=0"`
	SKU       string  `json:"sku" validate:"required"`
	Outcome   Outcome `json:"outcome" validate:"required,oneof=succeeded canceled"`
}
