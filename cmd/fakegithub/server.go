package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type user struct {
	Login     string `json:"login"`
	ID        int    `json:"id"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
	Name      string `json:"name,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Followers int    `json:"followers"`
	Following int    `json:"following"`
	Repos     int    `json:"public_repos"`
}

type repo struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	HTMLURL   string    `json:"html_url"`
	Stars     int       `json:"stargazers_count"`
	Forks     int       `json:"forks_count"`
	CreatedAt time.Time `json:"created_at"`
}

type searchResult struct {
	TotalCount        int    `json:"total_count"`
	IncompleteResults bool   `json:"incomplete_results"`
	Items             []user `json:"items"`
}

var users = map[string]user{
	"octocat":  {Login: "octocat", ID: 1, Name: "The Octocat", Bio: "GitHub mascot", Followers: 9000, Following: 9, Repos: 8},
	"hubot":    {Login: "hubot", ID: 2, Name: "Hubot", Followers: 400, Repos: 3},
	"monalisa": {Login: "monalisa", ID: 3, Name: "Mona Lisa Octocat", Followers: 120, Following: 4, Repos: 2},
}

var repos = map[string][]repo{
	"octocat": {
		{ID: 1, Name: "Hello-World", Stars: 2500, Forks: 2300, CreatedAt: time.Date(2011, 1, 26, 19, 1, 12, 0, time.UTC)},
		{ID: 2, Name: "Spoon-Knife", Stars: 12000, Forks: 140000, CreatedAt: time.Date(2011, 1, 27, 19, 30, 43, 0, time.UTC)},
		{ID: 3, Name: "linguist", Stars: 100, Forks: 20, CreatedAt: time.Date(2016, 5, 3, 10, 0, 0, 0, time.UTC)},
	},
	"hubot": {
		{ID: 10, Name: "hubot-scripts", Stars: 3500, Forks: 2000, CreatedAt: time.Date(2011, 10, 26, 0, 0, 0, 0, time.UTC)},
	},
}

func init() {
	for login, u := range users {
		u.AvatarURL = "https://avatars.githubusercontent.com/u/" + strconv.Itoa(u.ID)
		u.HTMLURL = "https://github.com/" + login
		users[login] = u
	}
	for login, rs := range repos {
		for i := range rs {
			rs[i].FullName = login + "/" + rs[i].Name
			rs[i].HTMLURL = "https://github.com/" + rs[i].FullName
		}
	}
}

type server struct {
	token  string
	logger *slog.Logger
}

// newServer returns the fake API. When token is non-empty the /users
// routes answer 401 unless the request carries it.
func newServer(token string, logger *slog.Logger) http.Handler {
	s := &server{token: token, logger: logger}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	})

	r.HandleFunc("/search/users", s.searchUsers).Methods(http.MethodGet)
	r.HandleFunc("/__status/{code}", s.status)

	authed := r.PathPrefix("/users").Subrouter()
	authed.Use(s.requireToken)
	authed.HandleFunc("/{login}", s.getUser).Methods(http.MethodGet)
	authed.HandleFunc("/{login}/repos", s.getUserRepos).Methods(http.MethodGet)

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"authenticated", r.Header.Get("Authorization") != "",
		)
		next.ServeHTTP(w, r)
	})
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "token "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// searchUsers matches q as a case-insensitive substring of the login.
func (s *server) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Validation Failed"})
		return
	}

	result := searchResult{Items: []user{}}
	for login, u := range users {
		if strings.Contains(login, q) {
			result.Items = append(result.Items, u)
		}
	}
	sort.Slice(result.Items, func(i, j int) bool { return result.Items[i].ID < result.Items[j].ID })
	result.TotalCount = len(result.Items)

	writeJSON(w, http.StatusOK, result)
}

func (s *server) getUser(w http.ResponseWriter, r *http.Request) {
	u, ok := users[mux.Vars(r)["login"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// getUserRepos honours sort=created (newest first) and per_page.
func (s *server) getUserRepos(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	if _, ok := users[login]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	list := append([]repo{}, repos[login]...)
	if r.URL.Query().Get("sort") == "created" {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && n >= 0 && n < len(list) {
		list = list[:n]
	}

	writeJSON(w, http.StatusOK, list)
}

// status answers with an arbitrary status code, for exercising error
// handling and retries. Example: GET /__status/503
func (s *server) status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil || code < 100 || code > 599 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]any{
		"requested_code": code,
		"message":        http.StatusText(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
