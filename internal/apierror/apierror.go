// Package apierror provides the uniform JSON error responses of the proxy.
// Every failure a caller can observe is a body of the form {"error": "..."};
// upstream details are logged, never returned.
package apierror

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Fixed messages. Clients match on the status code; the message text is part
// of the public contract and must not change.
const (
	MsgServerError      = "Server error"
	MsgNotFound         = "Not found"
	MsgMethodNotAllowed = "Method not allowed"
	MsgTooManyRequests  = "Too many requests"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Pre-serialized bodies for the fixed messages.
var (
	bodyServerError      = mustMarshal(MsgServerError)
	bodyNotFound         = mustMarshal(MsgNotFound)
	bodyMethodNotAllowed = mustMarshal(MsgMethodNotAllowed)
	bodyTooManyRequests  = mustMarshal(MsgTooManyRequests)
)

func mustMarshal(message string) []byte {
	b, _ := json.Marshal(ErrorResponse{Error: message})
	return b
}

// WriteJSON writes status and an {"error": message} body.
func WriteJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if body := preSerialized(message); body != nil {
		w.Write(body) //nolint:errcheck
		return
	}
	json.NewEncoder(w).Encode(ErrorResponse{Error: message}) //nolint:errcheck
}

// ServerError logs err with the request context and answers with the opaque
// 500 body. It is the single failure path of every route handler.
func ServerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, attrs ...any) {
	args := append([]any{
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-ID"),
	}, attrs...)
	logger.ErrorContext(r.Context(), "request failed", args...)

	WriteJSON(w, http.StatusInternalServerError, MsgServerError)
}

// NotFound answers unmatched routes.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, MsgNotFound)
	})
}

// MethodNotAllowed answers routes matched by path but not by method.
func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
	})
}

func preSerialized(message string) []byte {
	switch message {
	case MsgServerError:
		return bodyServerError
	case MsgNotFound:
		return bodyNotFound
	case MsgMethodNotAllowed:
		return bodyMethodNotAllowed
	case MsgTooManyRequests:
		return bodyTooManyRequests
	}
	return nil
}
