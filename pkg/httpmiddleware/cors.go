package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. An empty list or "*" allows any
	// origin. Entries like "https://*.shop.example.com" match one or more
	// subdomain labels, which covers storefront preview deployments.
	AllowOrigins []string

	// AllowMethods defaults to "GET, POST, PUT, PATCH, DELETE, OPTIONS".
	AllowMethods []string

	// AllowHeaders lists the request headers clients may send. When empty,
	// preflight responses echo Access-Control-Request-Headers.
	AllowHeaders []string

	// ExposeHeaders lists response headers readable by the browser. The
	// storefront needs the checkout session header here.
	ExposeHeaders []string

	// AllowCredentials sends Access-Control-Allow-Credentials. An any-origin
	// policy then echoes the request origin instead of "*".
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header, a negative value sends "0".
	MaxAge int
}

type corsPolicy struct {
	allowAll      bool
	exact         map[string]string // lowercase -> configured
	suffixes      []originSuffix
	credentials   bool
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

// originSuffix matches "scheme://*.host" entries.
type originSuffix struct {
	prefix string // "https://"
	suffix string // ".shop.example.com"
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		allowAll:      len(cfg.AllowOrigins) == 0,
		exact:         make(map[string]string, len(cfg.AllowOrigins)),
		credentials:   cfg.AllowCredentials,
		allowMethods:  strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:  strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
	}
	for _, o := range cfg.AllowOrigins {
		o = strings.TrimSpace(o)
		switch {
		case o == "*":
			p.allowAll = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(strings.ToLower(o), "://*")
			p.suffixes = append(p.suffixes, originSuffix{prefix: scheme + "://", suffix: host})
		case o != "":
			p.exact[strings.ToLower(o)] = o
		}
	}
	if p.allowMethods == "" {
		p.allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.allowAll {
		// Browsers reject credentials with a wildcard origin.
		if p.credentials {
			return origin
		}
		return "*"
	}
	lower := strings.ToLower(origin)
	if configured, ok := p.exact[lower]; ok {
		return configured
	}
	for _, s := range p.suffixes {
		if strings.HasPrefix(lower, s.prefix) && strings.HasSuffix(lower, s.suffix) &&
			len(lower) > len(s.prefix)+len(s.suffix) {
			return origin
		}
	}
	return ""
}

// varies reports whether responses depend on the Origin header.
func (p *corsPolicy) varies() bool {
	return !p.allowAll || p.credentials
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allowed string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allowed != "" {
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Set("Access-Control-Allow-Methods", p.allowMethods)
		if p.allowHeaders != "" {
			h.Set("Access-Control-Allow-Headers", p.allowHeaders)
		} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
			h.Set("Access-Control-Allow-Headers", rh)
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	// Disallowed origins get a bare 204 and the browser blocks the request.
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, allowed string) {
	h := w.Header()
	if p.varies() {
		h.Add("Vary", "Origin")
	}
	if allowed == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allowed)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing.
// Origins match case-insensitively and Vary is set whenever the response
// depends on the request origin.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if p.varies() {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allowed := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allowed)
				return
			}

			p.actual(w, allowed)
			next.ServeHTTP(w, r)
		})
	}
}
