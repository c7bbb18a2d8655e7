package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/githubfinder/ghproxy/internal/api"
	"github.com/githubfinder/ghproxy/internal/config"
	"github.com/githubfinder/ghproxy/internal/health"
	"github.com/githubfinder/ghproxy/internal/metrics"
	"github.com/githubfinder/ghproxy/internal/middleware"
	"github.com/githubfinder/ghproxy/internal/ratelimit"
	"github.com/githubfinder/ghproxy/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy (default command)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe starts the proxy and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"token_configured", cfg.Upstream.Token != "",
		"retries", cfg.Upstream.RetryCount(),
		"cors_origin", cfg.CORS.AllowedOrigin,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"trusted_proxies", len(cfg.Server.TrustedProxies),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	client, err := upstream.New(cfg.Upstream, logger)
	if err != nil {
		return fmt.Errorf("creating upstream client: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit, logger)
	defer limiter.Stop()

	router := api.NewRouter(cfg, client, logger, limiter.Middleware)

	// Health checks and metrics bypass rate limiting and per-route instrumentation.
	health.New(client.BaseURL(), logger).RegisterRoutes(router)
	if cfg.Metrics.IsEnabled() {
		router.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	// Recovery → RequestID → ClientIP → SecurityHeaders → Logging → CORS → router
	var handler http.Handler = router
	handler = middleware.CORS(middleware.NewCORSConfig(
		cfg.CORS.AllowedOrigin,
		cfg.CORS.CredentialsAllowed(),
		cfg.CORS.MaxAge,
	))(handler)
	handler = middleware.Logging(logger, "/health", "/ready", cfg.Metrics.Path)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.ClientIP(cfg.Server.TrustedProxies, logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	if configPath != "" {
		reloader := config.NewReloader(configPath, cfg, logger)
		reloader.OnReload(func(newCfg *config.Config) {
			limiter.UpdateConfig(newCfg.RateLimit)
		})
		reloader.Start()
		defer reloader.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting ghproxy", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("ghproxy stopped gracefully")
	return nil
}
