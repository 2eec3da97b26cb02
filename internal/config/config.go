package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultResultsPath = "results.txt"
	defaultWorkers     = 6

	envResultsPath = "TASKRUNNER_RESULTS_PATH"
	envWorkers     = "TASKRUNNER_WORKERS"
	envLogLevel    = "TASKRUNNER_LOG_LEVEL"
	envAdminAddr   = "TASKRUNNER_ADMIN_ADDR"
	envDBPath      = "TASKRUNNER_DB_PATH"
	envTrace       = "TASKRUNNER_TRACE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ResultsPath string
	Workers     int
	LogLevel    slog.Level
	// AdminAddr enables the admin HTTP server when non-empty.
	AdminAddr string
	// DBPath enables job history when non-empty.
	DBPath string
	// Trace selects a span exporter; "stdout" is the only supported value.
	Trace string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ResultsPath: defaultResultsPath,
		Workers:     defaultWorkers,
		LogLevel:    slog.LevelInfo,
	}

	if v := os.Getenv(envResultsPath); v != "" {
		cfg.ResultsPath = v
	}
	if v := os.Getenv(envWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.AdminAddr = os.Getenv(envAdminAddr)
	cfg.DBPath = os.Getenv(envDBPath)
	cfg.Trace = strings.ToLower(os.Getenv(envTrace))

	return cfg
}

// LoadDotEnv seeds the environment from the given .env files. Variables that
// are already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
