package middleware

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/paybridge/filegen/internal/api/response"
)

const defaultRequestsPerSecond = 10

// RateLimit applies per-client token-bucket rate limiting keyed by remote
// address. Limiters live in process memory; this service is single-node.
type RateLimit struct {
	rps   int
	mu    sync.Mutex
	seen  map[string]*rate.Limiter
	burst int
}

// NewRateLimit creates a RateLimit allowing rps requests per second per
// client with a burst of the same size.
func NewRateLimit(rps int) *RateLimit {
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	return &RateLimit{
		rps:   rps,
		burst: rps,
		seen:  make(map[string]*rate.Limiter),
	}
}

// Limit rejects requests from clients that exceed their bucket.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(clientKey(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimit) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.seen[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.seen[key] = l
	}
	return l
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
