package models

// Quality — уровень качества для функции.
type Quality string

const (
	// QualityBasic — обычное качество.
	QualityBasic Quality = "basic"
	// QualityPremium — повышенное качество.
	QualityPremium Quality = "premium"
)

// ChargeRequest — запрос на списание за использование функции.
type ChargeRequest struct {
	UserID  int64   `json:"user_id" validate:"required,gt=0"`
	Feature string  `json:"feature" validate:"required"`
	Quality Quality `json:"quality" validate:"required,oneof=basic premium"`
}

// AdjustRequest — ручная установка суммарного баланса оператором.
type AdjustRequest struct {
	UserID     int64 `json:"user_id" validate:"required,gt=0"`
	NewBalance int64 `json:"new_balance" validate:"gte=0"`
}

// BonusRequest — начисление бонусных монет оператором.
type BonusRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason"`
}

// LoginRequest — вход оператора.
type LoginRequest struct {
	OperatorID string `json:"operator_id" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// ServiceTokenRequest — выпуск сервисного токена для клиента (бота).
type ServiceTokenRequest struct {
	ClientID string `json:"client_id" validate:"required,max=64"`
}
