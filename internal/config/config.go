package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds runtime settings read from the environment.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	PredictOrigin   string
	PredictPath     string
	PredictTimeout  time.Duration
	HealthInterval  time.Duration
	DatabaseDSN     string
	RedisAddr       string
	JWTSecret       string
	JWTAudience     string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads the configuration using the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through lookup, which returns "" for unset keys.
func LoadFrom(lookup func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if value := strings.TrimSpace(lookup(key)); value != "" {
			return value
		}
		return fallback
	}

	cfg := &Config{
		HTTPAddr:    get("HTTP_ADDR", ":8080"),
		GRPCAddr:    get("GRPC_ADDR", ":9090"),
		PredictPath: get("PREDICT_PATH", "/predict"),
		DatabaseDSN: get("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=facecompare port=5432 sslmode=disable"),
		RedisAddr:   get("REDIS_ADDR", "redis:6379"),
		JWTSecret:   get("JWT_SECRET", "dev-secret"),
		JWTAudience: lookup("JWT_AUDIENCE"),
		LogLevel:    get("LOG_LEVEL", "info"),
	}

	origin, err := parseOrigin(get("PREDICT_ORIGIN", "http://localhost:8000"))
	if err != nil {
		return nil, err
	}
	cfg.PredictOrigin = origin

	if !strings.HasPrefix(cfg.PredictPath, "/") {
		cfg.PredictPath = "/" + cfg.PredictPath
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"PREDICT_TIMEOUT", "90s", &cfg.PredictTimeout},
		{"HEALTH_INTERVAL", "30s", &cfg.HealthInterval},
		{"SHUTDOWN_TIMEOUT", "15s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		value, err := time.ParseDuration(get(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", d.key, err)
		}
		if value < 0 {
			return nil, fmt.Errorf("config: %s must not be negative", d.key)
		}
		*d.dst = value
	}
	if cfg.HealthInterval == 0 {
		return nil, fmt.Errorf("config: HEALTH_INTERVAL must be positive")
	}

	return cfg, nil
}

// parseOrigin validates an absolute http(s) origin and strips any trailing slash.
func parseOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("config: PREDICT_ORIGIN: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("config: PREDICT_ORIGIN must use http or https, got %q", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("config: PREDICT_ORIGIN must include a host, got %q", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
