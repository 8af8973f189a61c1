package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/pkg/errors"
)

// RateLimiter smooths webhook bursts per source. Each source gets its
// own token bucket; buckets idle long enough are dropped by the
// cleanup loop.
type RateLimiter struct {
	rate  rate.Limit
	burst int
	store sync.Map // map[string]*sourceLimiter
}

type sourceLimiter struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = int(perSecond) * 2
	}

	rl := &RateLimiter{
		rate:  rate.Limit(perSecond),
		burst: burst,
	}
	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	val, _ := rl.store.LoadOrStore(key, &sourceLimiter{
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: time.Now(),
	})

	sl := val.(*sourceLimiter)
	sl.mu.Lock()
	sl.lastAccess = time.Now()
	sl.mu.Unlock()

	return sl.limiter.Allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.store.Range(func(key, value interface{}) bool {
			sl := value.(*sourceLimiter)
			sl.mu.Lock()
			idle := now.Sub(sl.lastAccess) > 10*time.Minute
			sl.mu.Unlock()
			if idle {
				rl.store.Delete(key)
			}
			return true
		})
	}
}

// BySource keys the limit on the :source route parameter, falling back
// to the remote address.
func (rl *RateLimiter) BySource(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if ps, ok := r.Context().Value(apiContext.Params).(httprouter.Params); ok {
			if source := ps.ByName("source"); source != "" {
				key = source
			}
		}

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "1")
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Too many deliveries from this source", nil)
			return
		}

		next(w, r)
	}
}
