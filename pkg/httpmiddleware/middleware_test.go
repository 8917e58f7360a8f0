package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	var seen string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		zctx.From(r.Context()).Info("inside")
	}), InjectLogger(zap.New(core)), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "req-42", seen)

		entries := logs.FilterMessage("inside").All()
		require.NotEmpty(t, entries)
		assert.Equal(t, "req-42", entries[len(entries)-1].ContextMap()["request_id"])
	})

	t.Run("invalid replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, strings.Repeat("x", 200), seen)
	})

	t.Run("unsafe characters replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "id with spaces")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, "id with spaces", seen)
		assert.True(t, isValidRequestID(seen))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
}

func TestLogRequests_RoutePattern(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	})
	h := Wrap(r, InjectLogger(zap.New(core)), LogRequests())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/orders/{orderID}", fields["route"])
	assert.Equal(t, "/api/orders/42", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestCORS_SessionHeaders(t *testing.T) {
	h := CORS(CORSConfig{
		AllowOrigins:  []string{"https://shop.example.com"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Checkout-Session"},
		ExposeHeaders: []string{"X-Checkout-Session", "X-Request-ID"},
	})(okHandler())

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
		req.Header.Set("Origin", "https://SHOP.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Checkout-Session")
	})

	t.Run("actual", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "X-Checkout-Session, X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		origin      string
		wantAllowed string
		wantVary    bool
	}{
		{
			name:        "wildcard",
			cfg:         CORSConfig{AllowOrigins: []string{"*"}},
			origin:      "https://anywhere.example",
			wantAllowed: "*",
		},
		{
			name:        "wildcard with credentials echoes origin",
			cfg:         CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true},
			origin:      "https://anywhere.example",
			wantAllowed: "https://anywhere.example",
			wantVary:    true,
		},
		{
			name:        "preview subdomain",
			cfg:         CORSConfig{AllowOrigins: []string{"https://*.shop.example.com"}},
			origin:      "https://pr-12.shop.example.com",
			wantAllowed: "https://pr-12.shop.example.com",
			wantVary:    true,
		},
		{
			name:     "bare suffix does not match",
			cfg:      CORSConfig{AllowOrigins: []string{"https://*.shop.example.com"}},
			origin:   "https://.shop.example.com",
			wantVary: true,
		},
		{
			name:     "scheme must match",
			cfg:      CORSConfig{AllowOrigins: []string{"https://*.shop.example.com"}},
			origin:   "http://pr-12.shop.example.com",
			wantVary: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			CORS(tt.cfg)(okHandler()).ServeHTTP(w, req)

			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantVary, w.Header().Get("Vary") == "Origin")
		})
	}
}
