package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inspectflow/orchestrator/infrastructure/errors"
	"github.com/inspectflow/orchestrator/infrastructure/logging"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
)

// Limiter is satisfied by both the local token-bucket RateLimiter and the
// Redis-backed sliding window limiter, so the HTTP layer can pick either
// without knowing which is wired in.
type Limiter interface {
	Allow(key string) bool
}

// RateLimiter provides local, per-process rate limiting via a token bucket
// per key (user ID, or client IP for unauthenticated requests).
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	limit    int
	window   time.Duration
	logger   *logging.Logger
}

// NewRateLimiterWithWindow creates a rate limiter configured by a fixed
// window and request budget, e.g. 600 requests per minute.
func NewRateLimiterWithWindow(limit int, window time.Duration, burst int, logger *logging.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	requestsPerSecond := float64(limit) / window.Seconds()
	if requestsPerSecond < 0 {
		requestsPerSecond = 0
	}

	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}

	return limiter
}

// Allow reports whether a request keyed by key is within budget.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// LimiterCount returns the number of active per-key limiters, for tests.
func (rl *RateLimiter) LimiterCount() int {
	if rl == nil {
		return 0
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// Cleanup drops tracked limiters once the map grows unreasonably large,
// rather than tracking last-access time per key.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine that periodically calls
// Cleanup, returning a stop function.
func (rl *RateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Handler returns the rate-limiting middleware, keying on the authenticated
// user+tenant when present and otherwise on client IP.
func Handler(limiter Limiter, limit int, window time.Duration, m *metrics.Metrics, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyKind := "tenant_user"
			key := GetTenantKey(r.Context())
			if key == "" {
				keyKind = "ip"
				key = ClientIP(r)
			}
			if key == "" {
				key = "unknown"
			}

			if !limiter.Allow(key) {
				if logger != nil {
					logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
						"key":    key,
						"path":   r.URL.Path,
						"method": r.Method,
					})
				}
				if m != nil {
					m.RecordRateLimitRejection(keyKind)
				}

				if window <= 0 {
					window = time.Second
				}
				serviceErr := errors.RateLimitExceeded(limit, window.String())
				if seconds := int(math.Ceil(window.Seconds())); seconds > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(seconds))
				}
				WriteErrorResponse(w, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
