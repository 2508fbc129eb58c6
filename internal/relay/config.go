package relay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port           string
	AllowedOrigins []string
	RecentMessages int
	SweepInterval  time.Duration
}

const (
	defaultPort           = "8080"
	defaultAllowedOrigin  = "*"
	defaultRecentMessages = 200
	defaultSweepInterval  = time.Minute
)

// LoadConfig builds a Config using environment variables when present. A
// local .env file, if any, is loaded first without overriding the process
// environment.
func LoadConfig() Config {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	cfg := Config{
		Port:           getEnv("PORT", defaultPort),
		AllowedOrigins: parseAllowedOrigins(getEnv("ALLOWED_ORIGINS", defaultAllowedOrigin)),
		RecentMessages: defaultRecentMessages,
		SweepInterval:  defaultSweepInterval,
	}

	if raw := os.Getenv("RECENT_MESSAGES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.RecentMessages = v
		}
	}
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			cfg.SweepInterval = v
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseAllowedOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	var origins []string
	for _, origin := range parts {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	return origins
}
