// Package health provides liveness and readiness check handlers.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

var livenessBody = []byte(`{"status":"ok"}`)

const (
	readinessCacheTTL = 5 * time.Second
	dialTimeout       = 2 * time.Second
)

type readiness struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
}

// Handler serves /health and /ready. Readiness is a TCP dial of the
// upstream API host, cached briefly so frequent checks do not turn into
// a dial each.
type Handler struct {
	upstreamURL string
	logger      *slog.Logger

	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a Handler that checks reachability of upstreamURL.
func New(upstreamURL string, logger *slog.Logger) *Handler {
	return &Handler{upstreamURL: upstreamURL, logger: logger}
}

// RegisterRoutes adds the health routes to r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.liveness).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ready", h.readiness).Methods(http.MethodGet, http.MethodHead)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body, status := h.cachedResult, h.cachedStatus
		h.cacheMu.RUnlock()
		writeJSON(w, status, body)
		return
	}
	h.cacheMu.RUnlock()

	// Detached so a caller that hangs up mid-dial does not leave a failed
	// result cached for every other caller.
	result := readiness{Status: "ready", Upstream: h.checkUpstream(context.WithoutCancel(r.Context()))}
	status := http.StatusOK
	if result.Upstream != "ok" {
		result.Status = "not ready"
		status = http.StatusServiceUnavailable
	}

	body, _ := json.Marshal(result)

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = status
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	writeJSON(w, status, body)
}

func (h *Handler) checkUpstream(ctx context.Context) string {
	u, err := url.Parse(h.upstreamURL)
	if err != nil || u.Host == "" {
		return "invalid URL"
	}

	host := u.Host
	if !hasPort(host) {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", host)
	if err != nil {
		h.logger.Warn("upstream unreachable", "upstream", h.upstreamURL, "error", err)
		return "unreachable"
	}
	conn.Close()
	return "ok"
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
