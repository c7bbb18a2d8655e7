// Package api wires the proxy's public routes onto a gorilla/mux router.
//
// Routes are split into two groups. The public group (/search) calls the
// upstream anonymously. The credentialed group (/user) attaches the shared
// upstream token to the request context; the outbound client sends it.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/githubfinder/ghproxy/internal/apierror"
	"github.com/githubfinder/ghproxy/internal/config"
	"github.com/githubfinder/ghproxy/internal/middleware"
	"github.com/githubfinder/ghproxy/internal/upstream"
)

// Fetcher performs one upstream GET. *upstream.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, path, rawQuery string) (*upstream.Response, error)
}

// Handler holds the dependencies of the route handlers.
type Handler struct {
	client          Fetcher
	logger          *slog.Logger
	maxBodyLogBytes int
}

// NewRouter builds the router for cfg. groupMiddleware runs inside both
// route groups after metrics instrumentation, so it sees the matched route.
func NewRouter(cfg *config.Config, client Fetcher, logger *slog.Logger, groupMiddleware ...mux.MiddlewareFunc) *mux.Router {
	h := &Handler{
		client:          client,
		logger:          logger,
		maxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = middleware.Metrics(apierror.NotFound())
	r.MethodNotAllowedHandler = middleware.Metrics(apierror.MethodNotAllowed())

	public := r.PathPrefix("/search").Subrouter()
	public.Use(middleware.Metrics)
	public.Use(groupMiddleware...)
	public.HandleFunc("/users", h.searchUsers).Methods(http.MethodGet)

	credentialed := r.PathPrefix("/user").Subrouter()
	credentialed.Use(middleware.Metrics)
	credentialed.Use(groupMiddleware...)
	credentialed.Use(withCredential(cfg.Upstream.Token))
	credentialed.HandleFunc("/{login}", h.getUser).Methods(http.MethodGet)
	credentialed.HandleFunc("/{login}/repos", h.getUserRepos).Methods(http.MethodGet)

	return r
}

// withCredential attaches token to every request of the group.
func withCredential(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(upstream.WithToken(r.Context(), token)))
		})
	}
}
