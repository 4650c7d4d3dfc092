package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
)

const sweepLockKey = "billing:sweep"

// Locker выдаёт блокировку, чтобы проход выполнял только один экземпляр.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// Sweeper периодически запускает Manager.Sweep.
type Sweeper struct {
	manager  *Manager
	locker   Locker
	interval time.Duration
	lockTTL  time.Duration
	log      *slog.Logger
}

// NewSweeper создаёт Sweeper. locker может быть nil: тогда проход запускается без блокировки.
func NewSweeper(manager *Manager, locker Locker, interval, lockTTL time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		manager:  manager,
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
		log:      log,
	}
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("starting plan expiry sweeper", slog.Duration("interval", s.interval))
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("plan expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick выполняет один проход, если удалось взять блокировку.
func (s *Sweeper) tick(ctx context.Context) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			s.log.Error("failed to acquire sweep lock", sl.Err(err))
			return
		}
		if !ok {
			s.log.Debug("sweep is running on another instance")
			return
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweep lock", sl.Err(err))
			}
		}()
	}

	if _, err := s.manager.Sweep(ctx); err != nil {
		s.log.Error("sweep finished with errors", sl.Err(err))
	}
}
