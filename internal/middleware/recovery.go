package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/githubfinder/ghproxy/internal/apierror"
)

// Recovery returns middleware that turns a handler panic into the uniform
// 500 response and logs the stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
					)
					apierror.WriteJSON(w, http.StatusInternalServerError, apierror.MsgServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
