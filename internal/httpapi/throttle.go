package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/bluquist/bluquist"
	"github.com/bluquist/bluquist/middleware"
	"golang.org/x/time/rate"
)

const (
	throttleIdleTTL     = 10 * time.Minute
	throttleSweepPeriod = time.Minute
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle is a token bucket per client IP for public endpoints. Buckets
// are process-local; the Redis-backed login throttle is the shared one.
type IPThrottle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	rate    rate.Limit
	burst   int
	metrics *Metrics

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewIPThrottle allows r events per second per IP with the given burst and
// starts the idle-entry sweeper. Call Close to stop it.
func NewIPThrottle(r rate.Limit, burst int, metrics *Metrics) *IPThrottle {
	t := &IPThrottle{
		entries: make(map[string]*throttleEntry),
		rate:    r,
		burst:   burst,
		metrics: metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.sweep()
	return t
}

// Allow consumes one token from ip's bucket.
func (t *IPThrottle) Allow(ip string) bool {
	t.mu.Lock()
	entry, ok := t.entries[ip]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.entries[ip] = entry
		t.metrics.ThrottleKeys.Set(float64(len(t.entries)))
	}
	entry.lastSeen = time.Now()
	t.mu.Unlock()

	return entry.limiter.Allow()
}

func (t *IPThrottle) sweep() {
	defer close(t.done)

	ticker := time.NewTicker(throttleSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictIdle(time.Now())
		}
	}
}

func (t *IPThrottle) evictIdle(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, entry := range t.entries {
		if now.Sub(entry.lastSeen) > throttleIdleTTL {
			delete(t.entries, ip)
		}
	}
	t.metrics.ThrottleKeys.Set(float64(len(t.entries)))
}

// Close stops the sweeper and waits for it to exit.
func (t *IPThrottle) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// Handler rejects requests over the client's budget with 429.
func (t *IPThrottle) Handler(engine *bluquist.Engine, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(engine.ClientIP(r)) {
			t.metrics.ThrottledTotal.Inc()
			w.Header().Set("Retry-After", "1")
			middleware.WriteError(w, r, engine, bluquist.ErrTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
