// Package config builds the proxy's immutable configuration: defaults, an
// optional YAML file with environment variable substitution, and the
// PORT / GITHUB_API_URL / GITHUB_API_TOKEN environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized on top of the config file.
const (
	EnvPort       = "PORT"
	EnvAPIURL     = "GITHUB_API_URL"
	EnvAPIToken   = "GITHUB_API_TOKEN"
	EnvCORSOrigin = "CORS_ORIGIN"
	EnvLogLevel   = "LOG_LEVEL"
)

// Defaults.
const (
	DefaultPort       = 5000
	DefaultAPIURL     = "https://api.github.com"
	DefaultCORSOrigin = "https://jonatan-kwiatkowski-github-finder.vercel.app"
	DefaultRetries    = 3
)

// Config is the top-level proxy configuration. A *Config is never mutated
// after Load returns; hot reload produces a new value.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream" json:"upstream"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`

	// Warnings holds non-fatal issues detected while loading.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// UpstreamConfig describes the proxied API and the outbound client.
type UpstreamConfig struct {
	BaseURL          string        `yaml:"base_url" json:"base_url"`
	Token            string        `yaml:"token" json:"-"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	Retries          *int          `yaml:"retries" json:"retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	UserAgent        string        `yaml:"user_agent" json:"user_agent"`
	MaxResponseBytes int64         `yaml:"max_response_bytes" json:"max_response_bytes"`
}

// RetryCount returns the number of retries after the first attempt
// (defaults to 3; 0 disables retrying).
func (u UpstreamConfig) RetryCount() int {
	if u.Retries == nil {
		return DefaultRetries
	}
	return *u.Retries
}

// CORSConfig holds the single-origin CORS policy.
type CORSConfig struct {
	AllowedOrigin    string `yaml:"allowed_origin" json:"allowed_origin"`
	AllowCredentials *bool  `yaml:"allow_credentials" json:"allow_credentials"`
	MaxAge           int    `yaml:"max_age" json:"max_age"`
}

// CredentialsAllowed reports whether credentialed requests are permitted
// (defaults to true).
func (c CORSConfig) CredentialsAllowed() bool {
	if c.AllowCredentials == nil {
		return true
	}
	return *c.AllowCredentials
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level           string `yaml:"level" json:"level"`                           // "debug", "info", "warn", "error"; default: "info"
	MaxBodyLogBytes int    `yaml:"max_body_log_bytes" json:"max_body_log_bytes"` // default: 4096
}

// SlogLevel converts Level to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var validLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RateLimitConfig holds the per-client rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// MetricsConfig holds Prometheus endpoint settings.
// Enabled defaults to true.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value. Unset variables are left in place.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load builds the configuration. path names an optional YAML file; pass ""
// to configure from defaults and the environment only.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = b
	}
	return LoadFromBytes(data)
}

// LoadFromBytes builds the configuration from raw YAML bytes (which may be
// empty) and the process environment.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

// applyEnv overlays the recognized environment variables. Environment wins
// over the file.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv(EnvAPIURL); ok && v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v, ok := os.LookupEnv(EnvAPIToken); ok {
		cfg.Upstream.Token = v
	}
	if v, ok := os.LookupEnv(EnvCORSOrigin); ok && v != "" {
		cfg.CORS.AllowedOrigin = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	up := &cfg.Upstream
	if up.BaseURL == "" {
		up.BaseURL = DefaultAPIURL
	}
	up.BaseURL = strings.TrimRight(up.BaseURL, "/")
	if up.Timeout == 0 {
		up.Timeout = 10 * time.Second
	}
	if up.RetryBaseDelay == 0 {
		up.RetryBaseDelay = 100 * time.Millisecond
	}
	if up.UserAgent == "" {
		up.UserAgent = "ghproxy"
	}
	if up.MaxResponseBytes == 0 {
		up.MaxResponseBytes = 10 << 20
	}

	if cfg.CORS.AllowedOrigin == "" {
		cfg.CORS.AllowedOrigin = DefaultCORSOrigin
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 86400
	}

	if cfg.Logging.MaxBodyLogBytes == 0 {
		cfg.Logging.MaxBodyLogBytes = 4096
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}

	up := cfg.Upstream
	u, err := url.Parse(up.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url: host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("upstream.base_url must not carry a query or fragment")
	}
	if up.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must be non-negative")
	}
	if n := up.RetryCount(); n < 0 || n > 10 {
		return fmt.Errorf("upstream.retries must be between 0 and 10, got %d", n)
	}
	if up.RetryBaseDelay < 0 {
		return fmt.Errorf("upstream.retry_base_delay must be non-negative")
	}
	if up.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be positive")
	}

	o, err := url.Parse(cfg.CORS.AllowedOrigin)
	if err != nil || o.Scheme == "" || o.Host == "" || (o.Path != "" && o.Path != "/") {
		return fmt.Errorf("cors.allowed_origin must be scheme://host[:port], got %q", cfg.CORS.AllowedOrigin)
	}
	if cfg.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age must be non-negative")
	}

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxBodyLogBytes < 0 {
		return fmt.Errorf("logging.max_body_log_bytes must be non-negative")
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if strings.HasPrefix(cfg.Metrics.Path, "/user") || strings.HasPrefix(cfg.Metrics.Path, "/search") {
		return fmt.Errorf("metrics.path %q collides with proxied routes", cfg.Metrics.Path)
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Upstream.Token == "" {
		warnings = append(warnings, "upstream token is empty; /user routes will call the upstream unauthenticated")
	}
	if strings.Contains(cfg.Upstream.Token, "${") {
		warnings = append(warnings, "upstream.token contains unresolved environment variable")
	}
	if strings.HasPrefix(cfg.Upstream.BaseURL, "http://") {
		warnings = append(warnings, "upstream.base_url is not https; the token is sent in clear text")
	}
	return warnings
}
