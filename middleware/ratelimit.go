package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimitRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shelfmark",
		Subsystem: "http",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the per-user rate limiter",
	},
	[]string{"route"},
)

var registerRateLimitMetrics sync.Once

func init() {
	registerRateLimitMetrics.Do(func() {
		prometheus.MustRegister(rateLimitRejections)
	})
}

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands every user their own token bucket. Idle buckets are
// swept periodically.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[int64]*limiterEntry
	every   rate.Limit
	burst   int
	perMin  int
	route   string
	done    chan struct{}
	stopped sync.Once
}

// NewRateLimiter allows perMinute requests per user per minute on route. A
// non-positive rate disables limiting.
func NewRateLimiter(route string, perMinute int) *RateLimiter {
	l := &RateLimiter{
		limits: make(map[int64]*limiterEntry),
		route:  route,
		done:   make(chan struct{}),
	}
	if perMinute > 0 {
		l.every = rate.Limit(float64(perMinute) / 60)
		l.burst = perMinute
		l.perMin = perMinute
		go l.clean()
	}
	return l
}

func (l *RateLimiter) enabled() bool {
	return l.burst > 0
}

func (l *RateLimiter) clean() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(time.Now().Add(-limiterIdleTTL))
		}
	}
}

func (l *RateLimiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.limits {
		if e.lastSeen.Before(cutoff) {
			delete(l.limits, id)
		}
	}
}

// Stop ends the sweeper. Safe to call more than once.
func (l *RateLimiter) Stop() {
	l.stopped.Do(func() { close(l.done) })
}

// Allow spends one token from userID's bucket.
func (l *RateLimiter) Allow(userID int64) bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	e, ok := l.limits[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limits[userID] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Limit applies the limiter to identified callers. Anonymous requests pass
// through; RequireAuth deals with them.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if ok && !l.Allow(id.UserID) {
			rateLimitRejections.WithLabelValues(l.route).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfter is the number of seconds until one token refills.
func (l *RateLimiter) retryAfter() int {
	return (60 + l.perMin - 1) / l.perMin
}
