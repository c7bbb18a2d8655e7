package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/githubfinder/ghproxy/internal/config"
	"github.com/githubfinder/ghproxy/internal/upstream"
)

const serverErrorBody = `{"error":"Server error"}`

type call struct {
	path     string
	rawQuery string
	token    string
}

// fakeFetcher records calls and answers with a fixed response or error.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []call
	resp  *upstream.Response
	err   error
}

func (f *fakeFetcher) Get(ctx context.Context, path, rawQuery string) (*upstream.Response, error) {
	token, _ := upstream.TokenFromContext(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, call{path: path, rawQuery: rawQuery, token: token})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeFetcher) lastCall(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("expected an upstream call")
	}
	return f.calls[len(f.calls)-1]
}

func okFetcher(body string) *fakeFetcher {
	return &fakeFetcher{resp: &upstream.Response{StatusCode: http.StatusOK, Body: []byte(body)}}
}

func testConfig(token string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{Token: token},
		Logging:  config.LoggingConfig{MaxBodyLogBytes: 64},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSearchUsers_ForwardsQueryVerbatim(t *testing.T) {
	const body = `{"total_count":0,"items":[]}`
	f := okFetcher(body)
	r := NewRouter(testConfig("secret"), f, discardLogger())

	queries := []string{
		"q=octocat",
		"q=tom+repos:%3E42&page=2&per_page=30",
		"page=1&q=a%20b",
		"q=",
		"",
	}
	for _, q := range queries {
		target := "/search/users"
		if q != "" {
			target += "?" + q
		}
		rec := serve(r, "GET", target)

		if rec.Code != http.StatusOK {
			t.Errorf("%q: status = %d", q, rec.Code)
		}
		if rec.Body.String() != body {
			t.Errorf("%q: body = %q", q, rec.Body.String())
		}
		c := f.lastCall(t)
		if c.path != "/search/users" || c.rawQuery != q {
			t.Errorf("%q: upstream call = %+v", q, c)
		}
	}
}

func TestSearchUsers_NeverCarriesCredential(t *testing.T) {
	f := okFetcher(`{}`)
	r := NewRouter(testConfig("secret"), f, discardLogger())

	req := httptest.NewRequest("GET", "/search/users?q=a", nil)
	req.Header.Set("Authorization", "token caller-supplied")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if c := f.lastCall(t); c.token != "" {
		t.Errorf("search call carried credential %q", c.token)
	}
}

func TestSearchUsers_ForwardsUnparseableQuery(t *testing.T) {
	const body = `{"total_count":0,"items":[]}`

	for _, q := range []string{"q=tom;repos", "q=100%", "q=a%zz", "q=a;b&page=2"} {
		f := okFetcher(body)
		r := NewRouter(testConfig(""), f, discardLogger())

		rec := serve(r, "GET", "/search/users?"+q)

		if rec.Code != http.StatusOK || rec.Body.String() != body {
			t.Errorf("%q: got %d %q", q, rec.Code, rec.Body.String())
		}
		if len(f.calls) != 1 {
			t.Fatalf("%q: upstream calls = %d, want 1", q, len(f.calls))
		}
		if c := f.calls[0]; c.path != "/search/users" || c.rawQuery != q {
			t.Errorf("%q: upstream call = %+v", q, c)
		}
	}
}

func TestGetUser(t *testing.T) {
	const body = `{"login":"octocat","id":1}`
	f := okFetcher(body)
	r := NewRouter(testConfig("secret"), f, discardLogger())

	rec := serve(r, "GET", "/user/octocat")

	if rec.Code != http.StatusOK || rec.Body.String() != body {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	c := f.lastCall(t)
	if c.path != "/users/octocat" || c.rawQuery != "" {
		t.Errorf("upstream call = %+v", c)
	}
	if c.token != "secret" {
		t.Errorf("token = %q, want secret", c.token)
	}
}

func TestGetUserRepos_ForcesQuery(t *testing.T) {
	f := okFetcher(`[]`)
	r := NewRouter(testConfig("secret"), f, discardLogger())

	for _, target := range []string{
		"/user/octocat/repos",
		"/user/octocat/repos?sort=updated",
		"/user/octocat/repos?per_page=100&page=3&type=all",
	} {
		serve(r, "GET", target)

		c := f.lastCall(t)
		if c.path != "/users/octocat/repos" {
			t.Errorf("%s: path = %q", target, c.path)
		}
		if c.rawQuery != "per_page=10&sort=created" {
			t.Errorf("%s: query = %q", target, c.rawQuery)
		}
		if c.token != "secret" {
			t.Errorf("%s: token = %q", target, c.token)
		}
	}
}

func TestGetUserRepos_LogsTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	body := `[` + strings.Repeat(`{"id":1},`, 20) + `{"id":2}]`
	r := NewRouter(testConfig(""), okFetcher(body), logger)

	rec := serve(r, "GET", "/user/octocat/repos")

	if rec.Body.String() != body {
		t.Error("relayed body must not be truncated")
	}
	out := buf.String()
	if !strings.Contains(out, "user repos fetched") || !strings.Contains(out, "...[truncated]") {
		t.Errorf("expected truncated body in log, got: %s", out)
	}
}

func TestCredentialedGroup_EmptyToken(t *testing.T) {
	f := okFetcher(`{}`)
	r := NewRouter(testConfig(""), f, discardLogger())

	serve(r, "GET", "/user/octocat")

	if c := f.lastCall(t); c.token != "" {
		t.Errorf("expected no credential, got %q", c.token)
	}
}

func TestRoutes_UpstreamFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	f := &fakeFetcher{err: &upstream.StatusError{StatusCode: http.StatusNotFound, Body: `{"message":"Not Found"}`}}
	r := NewRouter(testConfig("secret"), f, logger)

	for _, target := range []string{"/search/users?q=a", "/user/ghost", "/user/ghost/repos"} {
		buf.Reset()
		rec := serve(r, "GET", target)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
		if rec.Body.String() != serverErrorBody {
			t.Errorf("%s: body = %q", target, rec.Body.String())
		}
		if !strings.Contains(buf.String(), "upstream responded 404") {
			t.Errorf("%s: expected upstream error in log, got: %s", target, buf.String())
		}
	}
}

func TestRoutes_NotFoundAndMethodNotAllowed(t *testing.T) {
	r := NewRouter(testConfig(""), okFetcher(`{}`), discardLogger())

	tests := []struct {
		method, target string
		wantCode       int
		wantBody       string
	}{
		{"GET", "/", http.StatusNotFound, `{"error":"Not found"}`},
		{"GET", "/search/repositories", http.StatusNotFound, `{"error":"Not found"}`},
		{"GET", "/user/octocat/followers", http.StatusNotFound, `{"error":"Not found"}`},
		{"GET", "/user/", http.StatusNotFound, `{"error":"Not found"}`},
		{"POST", "/search/users", http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`},
		{"DELETE", "/user/octocat", http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`},
	}
	for _, tt := range tests {
		rec := serve(r, tt.method, tt.target)
		if rec.Code != tt.wantCode || rec.Body.String() != tt.wantBody {
			t.Errorf("%s %s: got %d %q, want %d %q", tt.method, tt.target, rec.Code, rec.Body.String(), tt.wantCode, tt.wantBody)
		}
	}
}

func TestGroupMiddleware_Applied(t *testing.T) {
	var seen []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	r := NewRouter(testConfig(""), okFetcher(`{}`), discardLogger(), mw)

	serve(r, "GET", "/search/users?q=a")
	serve(r, "GET", "/user/octocat")
	serve(r, "GET", "/nope")

	if len(seen) != 2 || seen[0] != "/search/users" || seen[1] != "/user/octocat" {
		t.Errorf("group middleware saw %v", seen)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("abcdef"), 3); got != "abc...[truncated]" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate([]byte("abc"), 0); got != "abc" {
		t.Errorf("truncate with no limit = %q", got)
	}
}
