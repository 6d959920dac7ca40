package mid

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/WessleyAI/wessley-garage/pkg/resilience"
)

// maxClients bounds the per-client limiter table; it is cleared when full.
const maxClients = 10000

// KeyFunc picks the rate-limit bucket for a request.
type KeyFunc func(*http.Request) string

// ClientIP keys requests by remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests with 429 once a client exceeds opts. Each key
// returned by key gets its own token bucket.
func RateLimit(opts resilience.LimiterOpts, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	var (
		mu      sync.Mutex
		buckets = map[string]*resilience.Limiter{}
	)
	get := func(k string) *resilience.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := buckets[k]
		if !ok {
			if len(buckets) >= maxClients {
				clear(buckets)
			}
			l = resilience.NewLimiter(opts)
			buckets[k] = l
		}
		return l
	}
	retryAfter := strconv.Itoa(int(opts.RetryAfter().Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !get(key(r)).Allow() {
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, http.StatusTooManyRequests, resilience.ErrRateLimited.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
