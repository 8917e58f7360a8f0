// Package health serves liveness and readiness probes.
//
// Every check runs on its own ticker. A check turns unhealthy after
// failureThreshold consecutive failures and healthy again after
// successThreshold consecutive successes, so a single slow ping does not flip
// readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

type probe string

const (
	probeLiveness  probe = "liveness"
	probeReadiness probe = "readiness"
)

// check is one registered CheckFunc with its state. The counters are owned by
// the goroutine calling run; healthy and lastErr are read by the endpoints.
type check struct {
	name             string
	probe            probe
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	consecutiveFails int
	consecutiveOK    int
}

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once and applies the thresholds.
func (c *check) run(ctx context.Context, lg *zap.Logger) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.consecutiveOK = 0
		c.consecutiveFails++
		if c.consecutiveFails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.consecutiveFails = 0
		c.consecutiveOK++
		if c.consecutiveOK >= c.successThreshold {
			c.healthy.Store(true)
		}
	}

	switch now := c.healthy.Load(); {
	case was && !now:
		lg.Warn("Health check failing",
			zap.String("check", c.name),
			zap.String("probe", string(c.probe)),
			zap.Int("failures", c.consecutiveFails),
			zap.Error(err),
		)
	case !was && now:
		lg.Info("Health check recovered",
			zap.String("check", c.name),
			zap.String("probe", string(c.probe)),
		)
	}
}

// Health tracks liveness and readiness of the service.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(probeLiveness, name, timeout, fn)
}

// AddReadinessCheck registers a check that decides whether the service takes
// traffic, such as database or cache connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(probeReadiness, name, timeout, fn)
}

func (h *Health) add(p probe, name string, timeout time.Duration, fn CheckFunc) {
	c := &check{
		name:             name,
		probe:            p,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	c.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	if p == probeLiveness {
		h.liveness = append(h.liveness, c)
	} else {
		h.readiness = append(h.readiness, c)
	}
}

// Start runs every registered check once immediately and then every interval
// until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := make([]*check, 0, len(h.liveness)+len(h.readiness))
	checks = append(checks, h.liveness...)
	checks = append(checks, h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		go h.loop(ctx, c, interval)
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx, h.lg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx, h.lg)
		}
	}
}

// SetReady marks the service ready after startup, or not ready while
// draining on shutdown.
func (h *Health) SetReady(ready bool) {
	if h.ready.Swap(ready) != ready {
		h.lg.Info("Readiness changed", zap.Bool("ready", ready))
	}
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(probeReadiness) {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) snapshot(p probe) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.readiness
	if p == probeLiveness {
		src = h.liveness
	}
	out := make([]*check, len(src))
	copy(out, src)
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when every liveness check passes, 503 with
// the failing checks otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, failures(h.snapshot(probeLiveness)))
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and
// every readiness check passes, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(probeReadiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeResponse(w, failed)
}

// failures reports the last error of every unhealthy check. Checks are not
// re-run.
func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if c.healthy.Load() {
			continue
		}
		if err := c.lastError(); err != nil {
			out[c.name] = err.Error()
		} else {
			out[c.name] = "check is unhealthy"
		}
	}
	return out
}

func writeResponse(w http.ResponseWriter, failed map[string]string) {
	resp := statusResponse{Status: "ok"}
	status := http.StatusOK
	if len(failed) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failed
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
