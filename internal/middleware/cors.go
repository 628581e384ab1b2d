package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Trace-ID"
)

// CORSMiddleware answers browser cross-origin checks for the frontend.
//
// Origins are matched exactly, or by subdomain for entries of the form
// "*.example.com". A lone "*" admits any origin but never with credentials.
// With no entries every cross-origin request is refused.
type CORSMiddleware struct {
	exact    map[string]bool
	suffixes []string
	anyHost  bool
}

// NewCORSMiddleware builds the policy from the configured origin list.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	m := &CORSMiddleware{exact: make(map[string]bool)}
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			m.anyHost = true
		case strings.HasPrefix(origin, "*."):
			m.suffixes = append(m.suffixes, strings.ToLower(origin[1:]))
		default:
			m.exact[strings.ToLower(origin)] = true
		}
	}
	return m
}

// Handler sets the CORS headers for admitted origins. Preflights from other
// origins are rejected with 403.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		credentials := m.trusted(origin)
		if !credentials && !m.anyHost {
			if preflight {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if credentials {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Expose-Headers", "X-Trace-ID")
		if preflight {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trusted reports whether origin was listed explicitly or by subdomain.
func (m *CORSMiddleware) trusted(origin string) bool {
	origin = strings.ToLower(origin)
	if m.exact[origin] {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}
