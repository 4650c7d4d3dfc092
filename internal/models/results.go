package models

// Mutation — результат изменения кошелька внутри одной транзакции.
type Mutation struct {
	Before Wallet      `json:"before"`
	After  Wallet      `json:"after"`
	Entry  LedgerEntry `json:"entry"`
}

// DebitResult — результат списания с разбивкой по пулам.
type DebitResult struct {
	Mutation
	FromSubscription int64 `json:"from_subscription"`
	FromAdmin        int64 `json:"from_admin"`
}

// ChargeResult — результат оплаты функции.
type ChargeResult struct {
	Feature string      `json:"feature"`
	Quality Quality     `json:"quality"`
	Cost    int64       `json:"cost"`
	Wallet  Wallet      `json:"wallet"`
	Entry   LedgerEntry `json:"entry"`
}

// CreditStatus — итог обработки платежа.
type CreditStatus string

const (
	// CreditApplied — начисление выполнено.
	CreditApplied CreditStatus = "applied"
	// CreditAlreadyProcessed — платёж уже был обработан, изменений нет.
	CreditAlreadyProcessed CreditStatus = "already_processed"
	// CreditRecorded — платёж зафиксирован без начисления (отмена).
	CreditRecorded CreditStatus = "recorded"
)

// CreditResult — результат обработки подтверждения платежа.
type CreditResult struct {
	Status CreditStatus `json:"status"`
	Wallet *Wallet      `json:"wallet,omitempty"`
	Entry  *LedgerEntry `json:"entry,omitempty"`
}
