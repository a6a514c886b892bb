// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Database drivers accepted in DB_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (dev, test, prod)
	Port           string // HTTP port to listen on
	LogLevel       slog.Level
	DBDriver       string // mysql or sqlite
	DBUser         string
	DBPass         string // may be empty
	DBHost         string
	DBPort         string
	DBName         string
	SQLiteDSN      string // used when DBDriver is sqlite
	JWTSecret      string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int
	AdminEmail     string // seeded on startup when set
	AdminPassword  string
}

// Load reads configuration values from environment variables. Required
// variables are enforced by must(); a missing one stops the process.
// MySQL credentials are only required when DB_DRIVER is mysql.
func Load() Config {
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		LogLevel:       parseLevel(getenv("LOG_LEVEL", "info")),
		DBDriver:       strings.ToLower(getenv("DB_DRIVER", DriverMySQL)),
		DBPass:         os.Getenv("DB_PASS"),
		SQLiteDSN:      getenv("SQLITE_DSN", "file:auction.db?cache=shared"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
		AdminEmail:     os.Getenv("ADMIN_EMAIL"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
	}
	switch cfg.DBDriver {
	case DriverMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case DriverSQLite:
	default:
		log.Fatalf("invalid DB_DRIVER: %q", cfg.DBDriver)
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}
	return cfg
}

// IsDev reports whether the server runs in a development environment.
func (c Config) IsDev() bool { return c.Env == "dev" || c.Env == "development" }

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
