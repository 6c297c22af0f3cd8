package server

import (
	"net/http"
	"strings"
)

// baseHeaders go on every response. HSTS covers two years.
var baseHeaders = http.Header{
	"Strict-Transport-Security": {"max-age=63072000; includeSubDomains"},
	"X-Content-Type-Options":    {"nosniff"},
	"X-Frame-Options":           {"DENY"},
	"Referrer-Policy":           {"no-referrer"},
	"Content-Security-Policy":   {"default-src 'none'; frame-ancestors 'none'"},
}

// liveHeaders go on responses that report thermostat state from the cycle
// that produced them.
var liveHeaders = http.Header{
	"Cache-Control": {"no-store"},
}

func isLivePath(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/metrics"
}

// headersMiddleware stamps the response headers for r's path and names the
// serving revision in Server.
func (s *Server) headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, vs := range baseHeaders {
			h[k] = vs
		}
		if isLivePath(r.URL.Path) {
			for k, vs := range liveHeaders {
				h[k] = vs
			}
		}
		if s.serverName != "" {
			h.Set("Server", s.serverName)
		}
		next.ServeHTTP(w, r)
	})
}
