// Package models содержит доменные структуры биллинга: кошелёк пользователя
// с двумя пулами монет, записи журнала операций, обработанные платежи,
// а также входящие запросы и результаты операций.
package models

import (
	"slices"
	"time"
)

// Plan — тариф подписки пользователя.
type Plan string

const (
	// PlanNone — подписки нет.
	PlanNone Plan = "none"
	// PlanLite — базовый тариф.
	PlanLite Plan = "lite"
	// PlanStandard — стандартный тариф.
	PlanStandard Plan = "standard"
	// PlanPro — расширенный тариф.
	PlanPro Plan = "pro"
)

// Valid сообщает, является ли значение известным тарифом.
func (p Plan) Valid() bool {
	switch p {
	case PlanNone, PlanLite, PlanStandard, PlanPro:
		return true
	}
	return false
}

// Pool — пул монет кошелька.
type Pool string

const (
	// PoolSubscription — монеты, начисленные по подписке.
	PoolSubscription Pool = "subscription"
	// PoolAdmin — бонусные монеты от администратора, не сгорают.
	PoolAdmin Pool = "admin"
)

// Valid сообщает, является ли значение известным пулом.
func (p Pool) Valid() bool {
	return p == PoolSubscription || p == PoolAdmin
}

// Precedence задаёт порядок, в котором пулы расходуются при списании.
type Precedence []Pool

var (
	// DefaultPrecedence — сначала подписочные монеты, затем бонусные.
	DefaultPrecedence = Precedence{PoolSubscription, PoolAdmin}
	// AdminFirst — сначала бонусные монеты, затем подписочные.
	AdminFirst = Precedence{PoolAdmin, PoolSubscription}
)

// Valid проверяет, что порядок перечисляет каждый пул ровно один раз.
func (p Precedence) Valid() bool {
	if len(p) != 2 {
		return false
	}
	return slices.Contains(p, PoolSubscription) && slices.Contains(p, PoolAdmin)
}

// Wallet — состояние кошелька пользователя.
// Оба баланса всегда неотрицательны; PlanExpiry равен nil для PlanNone.
// Version увеличивается на единицу при каждом изменении и равна Seq последней записи журнала.
type Wallet struct {
	UserID            int64      `json:"user_id"`
	Version           int64      `json:"version"`
	SubscriptionCoins int64      `json:"subscription_coins"`
	AdminCoins        int64      `json:"admin_coins"`
	Plan              Plan       `json:"plan"`
	PlanExpiry        *time.Time `json:"plan_expiry,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewWallet возвращает пустой кошелёк без подписки.
func NewWallet(userID int64, now time.Time) Wallet {
	return Wallet{
		UserID:    userID,
		Plan:      PlanNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total возвращает суммарный доступный баланс.
func (w Wallet) Total() int64 {
	return w.SubscriptionCoins + w.AdminCoins
}

// Balance возвращает баланс указанного пула.
func (w Wallet) Balance(pool Pool) int64 {
	if pool == PoolAdmin {
		return w.AdminCoins
	}
	return w.SubscriptionCoins
}

// PlanActive сообщает, действует ли подписка на момент now.
func (w Wallet) PlanActive(now time.Time) bool {
	return w.Plan != PlanNone && w.PlanExpiry != nil && w.PlanExpiry.After(now)
}

// Clone возвращает копию, не разделяющую указатель на дату окончания.
func (w Wallet) Clone() Wallet {
	if w.PlanExpiry != nil {
		t := *w.PlanExpiry
		w.PlanExpiry = &t
	}
	return w
}
