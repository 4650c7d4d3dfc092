package middlewarectx

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/coin-billing/internal/http/response"
)

// DefaultIdleTTL — сколько хранится bucket ключа без запросов.
const DefaultIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// KeyedLimiter держит отдельный token bucket на каждый ключ (пользователя или клиента).
// Bucket'ы, простаивающие дольше idleTTL и успевшие наполниться, удаляются.
type KeyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyedLimiter создаёт ограничитель: perSecond запросов в секунду с запасом burst на ключ.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
	}
}

// WithIdleTTL задаёт время простоя, после которого bucket ключа можно удалить.
func (l *KeyedLimiter) WithIdleTTL(ttl time.Duration) *KeyedLimiter {
	if ttl > 0 {
		l.idleTTL = ttl
	}
	return l
}

// WithClock подменяет источник времени.
func (l *KeyedLimiter) WithClock(now func() time.Time) *KeyedLimiter {
	l.now = now
	return l
}

// Allow сообщает, можно ли выполнить ещё один запрос по ключу key.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// Len возвращает число отслеживаемых ключей.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweep удаляет простаивающие bucket'ы; вызывается под l.mu.
// Неполный bucket остаётся, иначе удаление обнулило бы ограничение ключа.
func (l *KeyedLimiter) sweep(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.seen) >= l.idleTTL && e.lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// RateLimitMiddleware отклоняет запросы сверх лимита ключа с 429 Too Many Requests.
func RateLimitMiddleware(log *slog.Logger, limiter *KeyedLimiter, key func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !limiter.Allow(k) {
				log.Warn("too many requests", slog.String("key", k))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey возвращает IP клиента без порта; вместе с middleware.RealIP учитывает прокси.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
