// Package memory реализует storage.Store в памяти процесса.
// Используется в тестах сервисов и для локального запуска без PostgreSQL.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

// Store хранит кошельки, журнал и обработанные платежи в памяти.
type Store struct {
	mu       sync.RWMutex
	wallets  map[int64]models.Wallet
	entries  map[int64][]models.LedgerEntry
	payments map[string]models.ProcessedPayment
	pending  map[string]struct{}

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		wallets:  make(map[int64]models.Wallet),
		entries:  make(map[int64][]models.LedgerEntry),
		payments: make(map[string]models.ProcessedPayment),
		pending:  make(map[string]struct{}),
		locks:    make(map[int64]*sync.Mutex),
		now:      time.Now,
	}
}

func (s *Store) userLock(userID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// WithUser выполняет fn под мьютексом пользователя и применяет изменения только при успехе.
func (s *Store) WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	tx := &memTx{store: s, userID: userID}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// EnsureWallet возвращает кошелёк, создавая пустой при первом обращении.
func (s *Store) EnsureWallet(_ context.Context, userID int64) (models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		w = models.NewWallet(userID, s.now())
		s.wallets[userID] = w
	}
	return w.Clone(), nil
}

// ClaimPayment отмечает платёж обработанным.
func (s *Store) ClaimPayment(_ context.Context, p models.ProcessedPayment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimedLocked(p.PaymentID) {
		return false, nil
	}
	s.payments[p.PaymentID] = p
	return true, nil
}

// Payment возвращает отметку о платеже, если она есть.
func (s *Store) Payment(paymentID string) (models.ProcessedPayment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[paymentID]
	return p, ok
}

func (s *Store) claimedLocked(paymentID string) bool {
	if _, ok := s.payments[paymentID]; ok {
		return true
	}
	_, ok := s.pending[paymentID]
	return ok
}

// Entries возвращает страницу журнала пользователя в порядке Seq.
func (s *Store) Entries(_ context.Context, userID int64, since time.Time, after *storage.Cursor, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LedgerEntry, 0, limit)
	for _, e := range s.entries[userID] {
		if after != nil && e.Seq <= after.Seq {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		result = append(result, cloneEntry(e))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// ExpiredPlans возвращает пользователей с истёкшим тарифом в порядке возрастания id.
func (s *Store) ExpiredPlans(_ context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	for id, w := range s.wallets {
		if w.Plan != models.PlanNone && w.PlanExpiry != nil && w.PlanExpiry.Before(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memTx struct {
	store   *Store
	userID  int64
	wallet  *models.Wallet
	entries []models.LedgerEntry
	claims  []models.ProcessedPayment
}

func (t *memTx) LockWallet(_ context.Context) (models.Wallet, error) {
	if t.wallet != nil {
		return t.wallet.Clone(), nil
	}
	t.store.mu.RLock()
	w, ok := t.store.wallets[t.userID]
	t.store.mu.RUnlock()
	if !ok {
		w = models.NewWallet(t.userID, t.store.now())
	}
	w = w.Clone()
	t.wallet = &w
	return w.Clone(), nil
}

func (t *memTx) SaveWallet(_ context.Context, w models.Wallet) error {
	w = w.Clone()
	w.UserID = t.userID
	t.wallet = &w
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e models.LedgerEntry) error {
	t.entries = append(t.entries, cloneEntry(e))
	return nil
}

func (t *memTx) ClaimPayment(_ context.Context, p models.ProcessedPayment) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.claimedLocked(p.PaymentID) {
		return false, nil
	}
	t.store.pending[p.PaymentID] = struct{}{}
	t.claims = append(t.claims, p)
	return true, nil
}

func (t *memTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, p := range t.claims {
		delete(t.store.pending, p.PaymentID)
	}
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.wallet != nil {
		t.store.wallets[t.userID] = t.wallet.Clone()
	}
	t.store.entries[t.userID] = append(t.store.entries[t.userID], t.entries...)
	for _, p := range t.claims {
		delete(t.store.pending, p.PaymentID)
		t.store.payments[p.PaymentID] = p
	}
}

func cloneEntry(e models.LedgerEntry) models.LedgerEntry {
	if e.PlanExpiry != nil {
		t := *e.PlanExpiry
		e.PlanExpiry = &t
	}
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
