// Package main is a local stand-in for the GitHub REST API. It serves
// canned search, user and repository JSON so ghproxy can be exercised
// without network access or a token.
package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	token := flag.String("token", "", "if set, user routes require Authorization: token <value>")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			*port = n
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(*port),
		Handler:           newServer(*token, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("fake github listening", "addr", srv.Addr, "token_required", *token != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
