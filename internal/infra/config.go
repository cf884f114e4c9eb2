package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	SinkInAPIKey       string
	SinkInBaseURL      string
	StoragePath        string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	GenerateTimeout    time.Duration
	UpscaleTimeout     time.Duration
	ListModelsTimeout  time.Duration
	DownloadTimeout    time.Duration
	WorkerPollInterval time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// An empty SINKIN_API_KEY is not an error here; provider calls fail individually instead.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "sqlite://experiments.db"),
		SinkInAPIKey:       strings.TrimSpace(os.Getenv("SINKIN_API_KEY")),
		SinkInBaseURL:      strings.TrimRight(getEnv("SINKIN_BASE_URL", "https://sinkin.ai/api"), "/"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173"}),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		GenerateTimeout:    time.Second * time.Duration(getEnvInt("SINKIN_GENERATE_TIMEOUT_SECONDS", 120)),
		UpscaleTimeout:     time.Second * time.Duration(getEnvInt("SINKIN_UPSCALE_TIMEOUT_SECONDS", 120)),
		ListModelsTimeout:  time.Second * time.Duration(getEnvInt("SINKIN_LIST_TIMEOUT_SECONDS", 30)),
		DownloadTimeout:    time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 30)),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_SECONDS", 2)),
	}

	u, err := url.Parse(cfg.SinkInBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("SINKIN_BASE_URL is invalid: %q", cfg.SinkInBaseURL)
	}

	if _, _, err := ParseDatabaseURL(cfg.DatabaseURL); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
