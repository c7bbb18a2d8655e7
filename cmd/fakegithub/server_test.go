package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(token string) http.Handler {
	return newServer(token, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(h http.Handler, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchUsers(t *testing.T) {
	rec := do(newTestServer(""), "/search/users?q=OCTO", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result searchResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.TotalCount != 1 || result.Items[0].Login != "octocat" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestSearchUsers_MissingQuery(t *testing.T) {
	if rec := do(newTestServer(""), "/search/users", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestGetUser(t *testing.T) {
	h := newTestServer("")

	rec := do(h, "/users/octocat", "")
	var u user
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatal(err)
	}
	if u.Login != "octocat" || u.HTMLURL != "https://github.com/octocat" {
		t.Errorf("unexpected user %+v", u)
	}

	if rec := do(h, "/users/nobody", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d", rec.Code)
	}
}

func TestGetUserRepos_SortAndLimit(t *testing.T) {
	rec := do(newTestServer(""), "/users/octocat/repos?sort=created&per_page=2", "")

	var list []repo
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "linguist" || list[1].Name != "Spoon-Knife" {
		t.Errorf("expected newest first, got %s, %s", list[0].Name, list[1].Name)
	}
	if list[0].FullName != "octocat/linguist" {
		t.Errorf("full_name = %q", list[0].FullName)
	}
}

func TestRequireToken(t *testing.T) {
	h := newTestServer("s3cret")

	if rec := do(h, "/users/octocat", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rec.Code)
	}
	if rec := do(h, "/users/octocat", "token s3cret"); rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}
	if rec := do(h, "/search/users?q=hub", ""); rec.Code != http.StatusOK {
		t.Errorf("search must not require a token, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	h := newTestServer("")

	tests := map[string]int{
		"/__status/503": http.StatusServiceUnavailable,
		"/__status/404": http.StatusNotFound,
		"/__status/abc": http.StatusInternalServerError,
		"/__status/999": http.StatusInternalServerError,
	}
	for target, want := range tests {
		if rec := do(h, target, ""); rec.Code != want {
			t.Errorf("%s: status = %d, want %d", target, rec.Code, want)
		}
	}
}
