// Package metrics объявляет метрики биллинга Prometheus.
// Метрики регистрируются в реестре по умолчанию и отдаются через /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты операций для метки result.
const (
	ResultOK                = "ok"
	ResultInsufficientFunds = "insufficient_funds"
	ResultUnknown           = "unknown"
	ResultAlreadyProcessed  = "already_processed"
	ResultRecorded          = "recorded"
	ResultError             = "error"
)

var (
	// Charges — количество списаний за функции.
	Charges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "charges_total",
		Help:      "Feature charges by feature and result.",
	}, []string{"feature", "result"})

	// CoinsSpent — количество списанных монет по пулам.
	CoinsSpent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "coins_spent_total",
		Help:      "Coins debited by pool.",
	}, []string{"pool"})

	// Payments — обработанные подтверждения платежей.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "payments_total",
		Help:      "Payment confirmations by outcome and result.",
	}, []string{"outcome", "result"})

	// CoinsGranted — начисленные монеты по типу записи.
	CoinsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "coins_granted_total",
		Help:      "Coins credited by ledger entry type.",
	}, []string{"type"})

	// PlansExpired — тарифы, завершённые проходом по истёкшим подпискам.
	PlansExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "plans_expired_total",
		Help:      "Plans expired by the sweeper.",
	})

	// SweepDuration — длительность одного прохода.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "billing",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a plan expiry sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)
