// Package middleware provides HTTP middleware for the agent console API.
package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// preflightMaxAge is how long browsers may cache a preflight answer.
const preflightMaxAge = 10 * time.Minute

// Headers the console and browser clients send: Accept selects a streamed
// run, X-Request-Id correlates a call with the server's request log.
const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders = "Accept, Content-Type, X-Request-Id"
	exposedHeaders = "X-Request-Id"
)

// CORS returns middleware that handles CORS headers. A "*" entry allows any
// origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" {
				if explicit, ok := matchOrigin(allowedOrigins, origin); ok {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", allowedMethods)
					h.Set("Access-Control-Allow-Headers", allowedHeaders)
					h.Set("Access-Control-Expose-Headers", exposedHeaders)
					h.Set("Access-Control-Max-Age", strconv.Itoa(int(preflightMaxAge.Seconds())))
					// Credentials only for explicit origins; a wildcard echo would allow CSRF.
					if explicit {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is allowed and whether it was listed
// explicitly rather than through "*".
func matchOrigin(allowed []string, origin string) (explicit, ok bool) {
	for _, o := range allowed {
		if o == origin {
			return true, true
		}
		if o == "*" {
			ok = true
		}
	}
	return false, ok
}
