package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds the single-origin CORS policy.
type CORSConfig struct {
	AllowedOrigin    string
	AllowCredentials bool
	AllowedMethods   []string
	AllowedHeaders   []string
	MaxAge           int
}

// NewCORSConfig returns a policy for origin with the proxy's read-only
// method set.
func NewCORSConfig(origin string, credentials bool, maxAge int) CORSConfig {
	return CORSConfig{
		AllowedOrigin:    origin,
		AllowCredentials: credentials,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:           maxAge,
	}
}

// CORS returns middleware that grants cross-origin access to exactly one
// origin. Other origins get no CORS headers, so browsers refuse the
// response. Preflight requests are answered here and never reach handlers.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && origin == cfg.AllowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
