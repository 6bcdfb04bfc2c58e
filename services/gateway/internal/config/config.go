package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string
	Environment     string
	LogLevel        string
	KeysBaseURL     string
	MessagesBaseURL string
	CORSOrigins     []string
	// RateLimit requests per RateWindow per client IP.
	RateLimit       int
	RateWindow      time.Duration
	RequestTimeout  time.Duration
	UpstreamTimeout time.Duration
	// TokenMaxAge bounds the age of client auth tokens on publish.
	TokenMaxAge time.Duration
	// OperatorPublicKey is the base64 ed25519 key admin JWTs must verify
	// against. Admin routes are disabled when empty.
	OperatorPublicKey string
	OperatorIssuer    string
	Debug             bool
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: could not read .env", "error", err)
	}
	return Config{
		Addr:              envOr("GATEWAY_ADDR", ":8080"),
		Environment:       envOr("ENVIRONMENT", "dev"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		KeysBaseURL:       envOr("KEYS_BASE_URL", "http://localhost:8082"),
		MessagesBaseURL:   envOr("MESSAGES_BASE_URL", "http://localhost:8084"),
		CORSOrigins:       splitOrigins(os.Getenv("CORS_ORIGINS")),
		RateLimit:         envInt("GATEWAY_RATE_LIMIT", 100),
		RateWindow:        envDuration("GATEWAY_RATE_WINDOW", time.Minute),
		RequestTimeout:    envDuration("GATEWAY_REQUEST_TIMEOUT", 30*time.Second),
		UpstreamTimeout:   envDuration("GATEWAY_UPSTREAM_TIMEOUT", 10*time.Second),
		TokenMaxAge:       envDuration("GATEWAY_TOKEN_MAX_AGE", 24*time.Hour),
		OperatorPublicKey: os.Getenv("GATEWAY_OPERATOR_PUBLIC_KEY"),
		OperatorIssuer:    envOr("GATEWAY_OPERATOR_ISSUER", "xmtp-legacy"),
		Debug:             strings.EqualFold(os.Getenv("GATEWAY_DEBUG"), "true"),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("config: invalid integer, using default", "key", k, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("config: invalid duration, using default", "key", k, "value", v, "default", def)
		return def
	}
	return d
}

// splitOrigins parses a comma separated list; an empty list allows any origin.
func splitOrigins(raw string) []string {
	out := []string{}
	for _, o := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
