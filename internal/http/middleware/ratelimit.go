package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"resource_wars/internal/logger"
	"resource_wars/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "resource_wars:rl:"

// RateLimiter - счетчик с фиксированным окном.
// С redis лимит общий для всех инстансов, без него считает в памяти процесса
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*counter
}

type counter struct {
	count   int
	resetAt time.Time
}

// InitRedisRateLimiter подключается к redis. Пустой адрес - nil клиент и лимитер в памяти
func InitRedisRateLimiter(addr, password string, db int) *redis.Client {
	if addr == "" {
		logger.Info("rate limiter: redis not configured, using in-memory counters")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("rate limiter: redis unavailable, using in-memory counters", "addr", addr, "error", err)
		_ = rdb.Close()
		return nil
	}
	logger.Info("rate limiter: redis connected", "addr", addr)
	return rdb
}

// NewRateLimiter - limit <= 0 отключает ограничение
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		rdb:     rdb,
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*counter),
	}
}

// Allow засчитывает одно обращение по ключу
func (l *RateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	if l.rdb != nil {
		n, err := l.incrRedis(ctx, key)
		if err == nil {
			return n <= int64(l.limit)
		}
		// redis лег - продолжаем в памяти, пока не поднимется
		logger.WithContext(ctx).Warn("rate limiter redis error", "error", err)
	}
	return l.allowLocal(key)
}

func (l *RateLimiter) incrRedis(ctx context.Context, key string) (int64, error) {
	k := redisKeyPrefix + key
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	return n, nil
}

func (l *RateLimiter) allowLocal(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.windows[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(l.window)}
		l.windows[key] = c
	}
	c.count++
	return c.count <= l.limit
}

// Prune убирает истекшие окна
func (l *RateLimiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, c := range l.windows {
		if !now.Before(c.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// StartPruning периодически чистит счетчики в памяти до отмены ctx
func (l *RateLimiter) StartPruning(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
}

// Middleware ограничивает REST запросы по IP
func (l *RateLimiter) Middleware(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), scope+":"+c.ClientIP()) {
			metrics.RateLimited.WithLabelValues(scope).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
