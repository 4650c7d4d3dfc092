// Package storage описывает транзакционный контракт хранилища биллинга.
//
// Все изменения кошелька пользователя выполняются внутри Store.WithUser:
// операции над одним пользователем линеаризуются, над разными идут параллельно.
// Изменение кошелька, запись журнала и отметка о платеже, сделанные внутри одного
// вызова WithUser, применяются вместе или не применяются вовсе.
package storage

import (
	"context"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// Tx — операции, доступные внутри транзакции одного пользователя.
type Tx interface {
	// LockWallet блокирует кошелёк до конца транзакции и возвращает его состояние.
	// Если кошелька ещё нет, он создаётся с нулевыми балансами.
	LockWallet(ctx context.Context) (models.Wallet, error)
	// SaveWallet сохраняет новое состояние заблокированного кошелька.
	SaveWallet(ctx context.Context, w models.Wallet) error
	// AppendEntry добавляет запись в журнал.
	AppendEntry(ctx context.Context, e models.LedgerEntry) error
	// ClaimPayment атомарно отмечает платёж обработанным.
	// Возвращает false, если платёж уже отмечен или обрабатывается.
	ClaimPayment(ctx context.Context, p models.ProcessedPayment) (bool, error)
}

// Cursor — позиция в журнале пользователя для постраничного чтения.
type Cursor struct {
	Seq int64
}

// Store — хранилище кошельков, журнала и обработанных платежей.
type Store interface {
	// WithUser выполняет fn в транзакции пользователя userID.
	// Если fn возвращает ошибку, все изменения откатываются и ошибка возвращается как есть.
	WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error
	// EnsureWallet возвращает кошелёк, создавая пустой при первом обращении.
	EnsureWallet(ctx context.Context, userID int64) (models.Wallet, error)
	// ClaimPayment отмечает платёж обработанным в отдельной транзакции.
	ClaimPayment(ctx context.Context, p models.ProcessedPayment) (bool, error)
	// Entries возвращает до limit записей журнала пользователя, созданных не раньше since,
	// строго после курсора after (если он задан), в порядке Seq.
	Entries(ctx context.Context, userID int64, since time.Time, after *Cursor, limit int) ([]models.LedgerEntry, error)
	// ExpiredPlans возвращает до limit пользователей, у которых тариф истёк к моменту now.
	ExpiredPlans(ctx context.Context, now time.Time, limit int) ([]int64, error)
}
