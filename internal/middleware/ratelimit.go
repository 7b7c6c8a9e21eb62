package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radiusdt/adspend-kpi/internal/config"
	"github.com/radiusdt/adspend-kpi/internal/metrics"
)

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Backend() string
}

// RateLimitMiddleware rejects clients that exceed their request budget.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter Limiter
}

// NewRateLimitMiddleware creates a rate limiter. With a Redis client the
// budget is shared across replicas; otherwise each process keeps per-IP
// token buckets.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger, m *metrics.Metrics, client *redis.Client) *RateLimitMiddleware {
	var limiter Limiter
	if client != nil {
		limiter = NewRedisLimiter(client, cfg.Window, cfg.PerWindow)
	} else {
		limiter = NewLocalLimiter(cfg.RPS, cfg.Burst)
	}
	return &RateLimitMiddleware{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		limiter: limiter,
	}
}

// Handler wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r)
		allowed, err := rl.limiter.Allow(r.Context(), ip)
		if err != nil {
			// fail open: the limiter store being down must not take the API with it
			rl.logger.Warn("rate limiter unavailable",
				zap.String("backend", rl.limiter.Backend()),
				zap.Error(err),
			)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rl.logger.Warn("rate limit exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
			)
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitHit(rl.limiter.Backend())
			}
			tooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CleanupIPLimiters drops idle in-process buckets. It is a no-op for the
// Redis limiter, whose keys expire on their own.
func (rl *RateLimitMiddleware) CleanupIPLimiters() {
	if l, ok := rl.limiter.(*LocalLimiter); ok {
		l.Cleanup()
		rl.logger.Debug("cleaned up IP rate limiters")
	}
}

// ---- In-process limiter ----

// LocalLimiter keeps one token bucket per client IP.
type LocalLimiter struct {
	rps        float64
	burst      int
	mu         sync.RWMutex
	ipLimiters map[string]*rate.Limiter
}

func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		rps:        rps,
		burst:      burst,
		ipLimiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Backend() string { return "local" }

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.get(key).Allow(), nil
}

func (l *LocalLimiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.ipLimiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = l.ipLimiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.ipLimiters[key] = limiter
	return limiter
}

// Cleanup clears all buckets.
func (l *LocalLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ipLimiters = make(map[string]*rate.Limiter)
}

// ---- Redis limiter ----

// RedisLimiter counts requests per client in fixed windows shared by every
// replica.
type RedisLimiter struct {
	client    *redis.Client
	window    time.Duration
	perWindow int
	now       func() time.Time
}

func NewRedisLimiter(client *redis.Client, window time.Duration, perWindow int) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		window:    window,
		perWindow: perWindow,
		now:       time.Now,
	}
}

func (l *RedisLimiter) Backend() string { return "redis" }

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, slot)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window+time.Second)
		return nil
	})
	if err != nil {
		return false, err
	}

	return incr.Val() <= int64(l.perWindow), nil
}

// ---- Helpers ----

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// tooManyRequests sends a 429 response.
func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","code":"rate_limited"}`))
}
