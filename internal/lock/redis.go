// Package lock реализует распределённую блокировку на Redis.
// Блокировка нужна только чтобы не выполнять одну и ту же работу на нескольких
// экземплярах; корректность изменений обеспечивает транзакция пользователя.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/coin-billing/internal/config"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker выдаёт блокировки с ограниченным временем жизни.
type Locker struct {
	Db *redis.Client
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Locker, error) {
	const op = "lock.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Locker{Db: db}, nil
}

// TryLock пытается взять блокировку key на ttl.
// Возвращает ok=false, если блокировку держит кто-то другой.
// unlock снимает только собственную блокировку.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	const op = "lock.TryLock"

	token := uuid.NewString()
	ok, err := l.Db.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.Db, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("lock.Unlock: %w", err)
		}
		return nil
	}
	return unlock, true, nil
}

// Close закрывает соединение.
func (l *Locker) Close() error {
	return l.Db.Close()
}
