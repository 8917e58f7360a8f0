package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key. Implementations may be shared between
// server instances.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Limiter Limiter
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

// entry tracks request counts across two adjacent windows for the sliding
// window algorithm.
type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

var _ Limiter = (*SlidingWindow)(nil)

// SlidingWindow is an in-process Limiter that approximates a sliding window
// from the current and previous fixed windows.
type SlidingWindow struct {
	max     int
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     max,
		window:  window,
		entries: make(map[string]*entry),
	}
}

func (rl *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &entry{currStart: now}
		rl.entries[key] = e
	}

	// Rotate window if the current window has elapsed.
	if now.Sub(e.currStart) >= rl.window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(rl.window)
		if now.Sub(e.prevStart) >= 2*rl.window {
			e.prevCount = 0
		}
	}

	// Weight the previous window by how much of it overlaps the sliding one.
	elapsed := now.Sub(e.currStart)
	overlapRatio := max(1.0-elapsed.Seconds()/rl.window.Seconds(), 0)
	effectiveCount := e.prevCount*overlapRatio + e.currCount

	d := Decision{Limit: rl.max, ResetAt: e.currStart.Add(rl.window)}
	if effectiveCount >= float64(rl.max) {
		return d, nil
	}

	e.currCount++
	d.Allowed = true
	d.Remaining = max(int(float64(rl.max)-effectiveCount-1), 0)
	return d, nil
}

// cleanup removes entries whose windows have fully expired.
func (rl *SlidingWindow) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for key, e := range rl.entries {
		if now.Sub(e.currStart) >= 2*rl.window {
			delete(rl.entries, key)
			n++
		}
	}
	return n
}

// RunCleanup evicts expired entries every 2x the window until ctx is done.
func (rl *SlidingWindow) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.cleanup(now)
		}
	}
}

// RateLimit returns a middleware that enforces cfg.Limiter per key. When the
// limit is exceeded it responds with 429 and a RATE_LIMITED error body. Every
// response includes X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Requests are let through when the limiter fails.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = defaultKeyFunc
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context(), keyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter failed, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(time.Until(d.ResetAt), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":      "RATE_LIMITED",
					"message":   "rate limit exceeded",
					"retryable": true,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
