package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- Mock implementations ---

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error {
	return m.err
}

// --- Helpers ---

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background(), zap.NewNop())
	}
}

func serve(t *testing.T, fn http.HandlerFunc) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

// --- Tests ---

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		status   int
	}{
		{name: "passing", failures: 0, status: http.StatusOK},
		{name: "below threshold", failures: 2, status: http.StatusOK},
		{name: "at threshold", failures: 3, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.AddLivenessCheck("ok", time.Second, passingCheck())
			h.AddLivenessCheck("db", time.Second, failingCheck("connection refused"))
			runN(h.liveness[1], tt.failures)

			status, body := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.status, status)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
				return
			}
			assert.Equal(t, "unhealthy", body.Status)
			assert.Equal(t, map[string]string{"db": "connection refused"}, body.Checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, passingCheck())
	h.AddReadinessCheck("redis", time.Second, failingCheck("dial tcp: refused"))

	status, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body.Checks, "_readiness")

	h.SetReady(true)
	status, _ = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, h.IsReady())

	runN(h.readiness[1], 3)
	status, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body.Checks, "redis")
	assert.NotContains(t, body.Checks, "postgres")
	assert.False(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestReadyEndpoint_NoChecks(t *testing.T) {
	h := New(nil)
	h.SetReady(true)

	status, _ := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, status)
	status, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, status)
}

func TestCheck_RecoveryIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	lg := zap.New(core)

	failing := true
	h := New(lg)
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})
	c := h.readiness[0]
	assert.Nil(t, c.lastError())

	for range 4 {
		c.run(context.Background(), lg)
	}
	assert.False(t, c.healthy.Load())
	assert.EqualError(t, c.lastError(), "down")
	require.Equal(t, 1, logs.FilterMessage("Health check failing").Len())

	failing = false
	c.run(context.Background(), lg)
	assert.True(t, c.healthy.Load())
	entries := logs.FilterMessage("Health check recovered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "readiness", entries[0].ContextMap()["probe"])
}

func TestSetReady_LogsChangesOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(zap.New(core))

	h.SetReady(true)
	h.SetReady(true)
	h.SetReady(false)

	assert.Equal(t, 2, logs.FilterMessage("Readiness changed").Len())
}

func TestStartStop(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()

	h.Stop()
	h.Stop()
}

func TestPingCheck(t *testing.T) {
	p := &mockPinger{}
	assert.NoError(t, PingCheck(p)(context.Background()))

	p.err = errors.New("connection reset")
	err := PingCheck(p)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
