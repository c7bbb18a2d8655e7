package api

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/githubfinder/ghproxy/internal/apierror"
	"github.com/githubfinder/ghproxy/internal/upstream"
)

// reposQuery replaces whatever query the caller sent to the repos route.
var reposQuery = url.Values{
	"sort":     {"created"},
	"per_page": {"10"},
}.Encode()

// searchUsers forwards the caller's raw query string byte-for-byte. It is
// not parsed, so separators and escapes Go would reject still reach the
// upstream, which decides what they mean.
func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	rawQuery := r.URL.RawQuery

	resp, err := h.client.Get(r.Context(), "/search/users", rawQuery)
	if err != nil {
		apierror.ServerError(w, r, h.logger, err, "route", "search_users", "query", rawQuery)
		return
	}
	relay(w, resp)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]

	resp, err := h.client.Get(r.Context(), "/users/"+url.PathEscape(login), "")
	if err != nil {
		apierror.ServerError(w, r, h.logger, err, "route", "get_user", "login", login)
		return
	}
	relay(w, resp)
}

func (h *Handler) getUserRepos(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]

	resp, err := h.client.Get(r.Context(), "/users/"+url.PathEscape(login)+"/repos", reposQuery)
	if err != nil {
		apierror.ServerError(w, r, h.logger, err, "route", "get_user_repos", "login", login)
		return
	}

	h.logger.InfoContext(r.Context(), "user repos fetched",
		"login", login,
		"bytes", len(resp.Body),
		"body", truncate(resp.Body, h.maxBodyLogBytes),
		"request_id", r.Header.Get("X-Request-ID"),
	)
	relay(w, resp)
}

// relay writes the upstream status and body unchanged.
func relay(w http.ResponseWriter, resp *upstream.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body) //nolint:errcheck
}

func truncate(b []byte, n int) string {
	if n <= 0 || len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...[truncated]"
}
