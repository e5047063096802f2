package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ngoyal88/docgen/pkg/cache"
)

// Limits is a per-caller request budget.
type Limits struct {
	RequestsPerMinute int
	Burst             int
}

func (l Limits) normalized() Limits {
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = 60
	}
	if l.Burst <= 0 {
		l.Burst = l.RequestsPerMinute
	}
	return l
}

// RateLimiter enforces per-caller limits. With Redis the GCRA state is shared
// across replicas; without it (or while Redis is failing) each process keeps
// its own token buckets.
type RateLimiter struct {
	redis  *redis_rate.Limiter
	limits atomic.Pointer[Limits]
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter. rdb may be nil.
func NewRateLimiter(rdb *cache.Client, limits Limits, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &RateLimiter{logger: logger, local: make(map[string]*rate.Limiter)}
	if rdb != nil {
		rl.redis = redis_rate.NewLimiter(rdb.Redis())
	}
	rl.SetLimits(limits)
	return rl
}

// SetLimits swaps the budget at runtime, e.g. after a config reload.
func (rl *RateLimiter) SetLimits(l Limits) {
	l = l.normalized()
	rl.limits.Store(&l)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, lim := range rl.local {
		lim.SetLimit(perSecond(l))
		lim.SetBurst(l.Burst)
	}
}

func perSecond(l Limits) rate.Limit {
	return rate.Limit(float64(l.RequestsPerMinute) / 60)
}

type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

func (rl *RateLimiter) allow(ctx context.Context, key string) decision {
	l := *rl.limits.Load()

	if rl.redis != nil {
		res, err := rl.redis.Allow(ctx, "docgen:"+key, redis_rate.Limit{
			Rate:   l.RequestsPerMinute,
			Burst:  l.Burst,
			Period: time.Minute,
		})
		if err == nil {
			return decision{allowed: res.Allowed > 0, remaining: res.Remaining, retryAfter: res.RetryAfter}
		}
		rl.logger.Warn("redis rate limiter unavailable, using local buckets", zap.Error(err))
	}

	rl.mu.Lock()
	lim, ok := rl.local[key]
	if !ok {
		lim = rate.NewLimiter(perSecond(l), l.Burst)
		rl.local[key] = lim
	}
	rl.mu.Unlock()

	r := lim.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return decision{allowed: false, retryAfter: delay}
	}
	return decision{allowed: true, remaining: int(lim.Tokens())}
}

// Middleware keys callers by authenticated user, falling back to the client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if u, ok := UserFromContext(r.Context()); ok {
			key = "user:" + u.ID
		}

		d := rl.allow(r.Context(), key)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.remaining, 0)))
		if !d.allowed {
			rateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.retryAfter.Seconds()))))
			respondError(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
