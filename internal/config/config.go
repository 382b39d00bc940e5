// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is loaded first when present, so
// local development does not need exported variables. Real environment
// variables always win over .env entries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the server and worker need. Not every field matters
// to both roles; ValidateServer and ValidateWorker check the relevant ones.
type Config struct {
	Host string
	Port int

	DBPath      string
	RedisURL    string
	QueuePrefix string

	LogLevel  string
	LogFormat string

	JWTSecret      string
	SessionTTL     time.Duration
	RedirectDomain string
	Development    bool

	GoogleClientID     string
	GoogleClientSecret string

	CSHClientID     string
	CSHClientSecret string
	CSHAuthURL      string
	CSHTokenURL     string
	CSHUserinfoURL  string

	PingsBaseURL        string
	PingsToken          string
	PingsJoinRoute      string
	PingsLeaveRoute     string
	PingsAddRoute       string
	PingsRemoveRoute    string
	PingsUsernameSuffix string

	WorkerLease time.Duration
}

// Load reads .env (if any) and the environment. It fails only on values
// that are present but malformed; missing values get defaults or are left
// for the Validate methods.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	var errs []error

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PORT: %w", err))
	}
	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "168h"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SESSION_TTL: %w", err))
	}
	lease, err := time.ParseDuration(getEnv("WORKER_LEASE", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("WORKER_LEASE: %w", err))
	}
	dev, err := strconv.ParseBool(getEnv("DEVELOPMENT", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DEVELOPMENT: %w", err))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	return &Config{
		Host:        getEnv("HOST", "0.0.0.0"),
		Port:        port,
		DBPath:      getEnv("DB_PATH", "data/rideboard.db"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueuePrefix: getEnv("QUEUE_PREFIX", "rideboard"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		SessionTTL:     sessionTTL,
		RedirectDomain: os.Getenv("REDIRECT_DOMAIN"),
		Development:    dev,

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),

		CSHClientID:     os.Getenv("CSH_CLIENT_ID"),
		CSHClientSecret: os.Getenv("CSH_CLIENT_SECRET"),
		CSHAuthURL:      getEnv("CSH_AUTH_URL", "https://sso.csh.rit.edu/auth/realms/csh/protocol/openid-connect/auth"),
		CSHTokenURL:     getEnv("CSH_TOKEN_URL", "https://sso.csh.rit.edu/auth/realms/csh/protocol/openid-connect/token"),
		CSHUserinfoURL:  getEnv("CSH_USERINFO_URL", "https://sso.csh.rit.edu/auth/realms/csh/protocol/openid-connect/userinfo"),

		PingsBaseURL:        getEnv("PINGS_BASE_URL", "https://pings.csh.rit.edu"),
		PingsToken:          os.Getenv("PINGS_TOKEN"),
		PingsJoinRoute:      os.Getenv("PINGS_JOIN_ROUTE"),
		PingsLeaveRoute:     os.Getenv("PINGS_LEAVE_ROUTE"),
		PingsAddRoute:       os.Getenv("PINGS_ADD_ROUTE"),
		PingsRemoveRoute:    os.Getenv("PINGS_REMOVE_ROUTE"),
		PingsUsernameSuffix: getEnv("PINGS_USERNAME_SUFFIX", "@csh.rit.edu"),

		WorkerLease: lease,
	}, nil
}

// getEnv reads an environment variable or returns the provided default.
func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GoogleEnabled reports whether Google login is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// CSHEnabled reports whether CSH login is configured.
func (c *Config) CSHEnabled() bool {
	return c.CSHClientID != "" && c.CSHClientSecret != ""
}

// ValidateServer reports every missing setting the HTTP server needs.
func (c *Config) ValidateServer() error {
	var missing []string
	if len(c.JWTSecret) < 16 {
		missing = append(missing, "JWT_SECRET (at least 16 characters)")
	}
	if !c.GoogleEnabled() && !c.CSHEnabled() {
		missing = append(missing, "GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET or CSH_CLIENT_ID/CSH_CLIENT_SECRET")
	}
	if c.DBPath == "" {
		missing = append(missing, "DB_PATH")
	}
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	return missingErr(missing)
}

// ValidateWorker reports every missing setting the notification worker needs.
func (c *Config) ValidateWorker() error {
	var missing []string
	if c.DBPath == "" {
		missing = append(missing, "DB_PATH")
	}
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.PingsToken == "" {
		missing = append(missing, "PINGS_TOKEN")
	}
	routes := []struct{ key, value string }{
		{"PINGS_JOIN_ROUTE", c.PingsJoinRoute},
		{"PINGS_LEAVE_ROUTE", c.PingsLeaveRoute},
		{"PINGS_ADD_ROUTE", c.PingsAddRoute},
		{"PINGS_REMOVE_ROUTE", c.PingsRemoveRoute},
	}
	for _, r := range routes {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if c.WorkerLease <= 0 {
		missing = append(missing, "WORKER_LEASE (positive duration)")
	}
	return missingErr(missing)
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("config: missing or invalid: %s", strings.Join(missing, ", "))
}
