package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stake-group/logger"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// RequestID returns the request id stored by the RequestID middleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Instrument tags each request with an id, logs it and records HTTP metrics
func (h *Handler) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		h.Metrics.ObserveHTTP(r.Method, path, rec.status, time.Since(start))
		logger.Logger.Debug("Request served",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// RateLimiter provides per-client rate limiting for state-changing calls
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	idle      time.Duration
	clock     clockwork.Clock
	lastSweep time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing r requests per second per
// client with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return newRateLimiter(r, burst, clockwork.NewRealClock())
}

func newRateLimiter(r rate.Limit, burst int, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      r,
		burst:     burst,
		idle:      5 * time.Minute,
		clock:     clock,
		lastSweep: clock.Now(),
	}
}

// Allow checks if a request from the given client is allowed and returns
// the wait until the next token if not.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweep(now)
	}

	entry, exists := rl.limiters[client]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[client] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops clients idle for longer than rl.idle. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idle {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

// tracked returns the number of clients currently held
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Limit rejects requests over the limit with 429. A nil limiter allows everything.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if ok, retryAfter := rl.Allow(client); !ok {
			secs := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
