package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string

	// Presence policy.
	StaleAfterSeconds int
	DayTZ             string

	// Lockout policy.
	AccuracyLimitMeters float64
	LockoutBufferMeters float64
	LockoutChecks       int

	// Side-effect queue.
	QueueCapacity int

	// Seed inserts a demo zone and worker at boot. Dev only.
	Seed bool
}

func Load() Config {
	cfg := Config{
		Port:                envOrDefault("FIELDPULSE_PORT", "8080"),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:         envOrDefault("FIELDPULSE_DATABASE_URL", "file:fieldpulse.db"),
		MigrationsDir:       envOrDefault("FIELDPULSE_MIGRATIONS_DIR", "migrations"),
		JWTSecret:           strings.TrimSpace(os.Getenv("FIELDPULSE_JWT_SECRET")),
		StaleAfterSeconds:   intOrDefault(os.Getenv("FIELDPULSE_STALE_AFTER_SECONDS"), 90),
		DayTZ:               envOrDefault("FIELDPULSE_DAY_TZ", "UTC"),
		AccuracyLimitMeters: floatOrDefault(os.Getenv("FIELDPULSE_ACCURACY_LIMIT_METERS"), 50),
		LockoutBufferMeters: floatOrDefault(os.Getenv("FIELDPULSE_LOCKOUT_BUFFER_METERS"), 30),
		LockoutChecks:       intOrDefault(os.Getenv("FIELDPULSE_LOCKOUT_CHECKS"), 2),
		QueueCapacity:       intOrDefault(os.Getenv("FIELDPULSE_QUEUE_CAPACITY"), 256),
	}
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}
	if v, ok := getenvBool("FIELDPULSE_SEED"); ok {
		cfg.Seed = v
	}
	return cfg
}

func (c Config) StaleAfter() time.Duration {
	if c.StaleAfterSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// DayLocation is the timezone used to bound "today" when folding sessions.
func (c Config) DayLocation() *time.Location {
	loc, err := time.LoadLocation(c.DayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func intOrDefault(v string, fallback int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
		return i
	}
	return fallback
}

func floatOrDefault(v string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
		return f
	}
	return fallback
}

func getenvBool(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return false, false
	}
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
