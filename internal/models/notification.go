package models

import "time"

// PlanExpiredNotice — уведомление об окончании тарифа, публикуется после фиксации изменения.
type PlanExpiredNotice struct {
	UserID    int64     `json:"user_id"`
	Plan      Plan      `json:"plan"`
	ExpiredAt time.Time `json:"expired_at"`
	Balance   int64     `json:"balance"`
}
