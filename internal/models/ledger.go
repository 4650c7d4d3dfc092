package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryType — тип записи журнала.
type EntryType string

const (
	// EntrySpend — списание за использование функции.
	EntrySpend EntryType = "spend"
	// EntryCredit — пополнение по платежу.
	EntryCredit EntryType = "credit"
	// EntryAdminAdjust — ручная корректировка оператором.
	EntryAdminAdjust EntryType = "admin_adjust"
	// EntryPlanGrant — активация или продление тарифа.
	EntryPlanGrant EntryType = "plan_grant"
	// EntryPlanExpire — окончание тарифа.
	EntryPlanExpire EntryType = "plan_expire"
)

// LedgerEntry — неизменяемая запись об одном изменении кошелька.
//
// Delta, BalanceBefore и BalanceAfter относятся к суммарному балансу,
// SubscriptionDelta и AdminDelta раскладывают Delta по пулам,
// Plan и PlanExpiry фиксируют состояние тарифа после изменения.
// Этого достаточно, чтобы восстановить кошелёк целиком по журналу.
// Seq — номер записи в журнале пользователя, начиная с 1, без пропусков;
// порядок журнала определяется им, а не временем создания.
type LedgerEntry struct {
	ID                uuid.UUID         `json:"id"`
	UserID            int64             `json:"user_id"`
	Seq               int64             `json:"seq"`
	Type              EntryType         `json:"type"`
	Delta             int64             `json:"delta"`
	BalanceBefore     int64             `json:"balance_before"`
	BalanceAfter      int64             `json:"balance_after"`
	SubscriptionDelta int64             `json:"subscription_delta"`
	AdminDelta        int64             `json:"admin_delta"`
	Plan              Plan              `json:"plan"`
	PlanExpiry        *time.Time        `json:"plan_expiry,omitempty"`
	Reason            string            `json:"reason"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Consistent проверяет арифметику записи.
func (e LedgerEntry) Consistent() bool {
	return e.BalanceAfter == e.BalanceBefore+e.Delta &&
		e.Delta == e.SubscriptionDelta+e.AdminDelta
}
