// Package config loads the server configuration.
//
// Values are layered with koanf, lowest priority first:
//
//  1. defaults from defaultConfig
//  2. an optional YAML file (CONFIG_PATH, else ./config.yaml)
//  3. environment variables (PORT, DB_PATH, JWT_SECRET, ...)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sakif/reelhouse/internal/auth"
)

const PathEnvVar = "CONFIG_PATH"

var defaultPaths = []string{"config.yaml", "config.yml"}

// MinJWTSecretLength matches what the token service accepts.
const MinJWTSecretLength = auth.MinSecretLength

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Logging   LoggingConfig   `koanf:"logging"`
	Activity  ActivityConfig  `koanf:"activity"`
	TMDB      TMDBConfig      `koanf:"tmdb"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type ServerConfig struct {
	Port          int      `koanf:"port"`
	TransportPort int      `koanf:"transport_port"`
	CORSOrigins   []string `koanf:"cors_origins"`
	SecureCookie  bool     `koanf:"secure_cookie"`
	// RedirectURL is where the browser lands after GitHub login.
	RedirectURL string `koanf:"redirect_url"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	JWTSecret          string        `koanf:"jwt_secret"`
	TokenTTL           time.Duration `koanf:"token_ttl"`
	GitHubClientID     string        `koanf:"github_client_id"`
	GitHubClientSecret string        `koanf:"github_client_secret"`
	GitHubCallbackURL  string        `koanf:"github_callback_url"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

type ActivityConfig struct {
	// Timezone is the IANA zone that decides which calendar day an
	// activity belongs to. "Local" means the server's zone.
	Timezone string `koanf:"timezone"`
}

type TMDBConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			TransportPort: 8081,
			CORSOrigins:   []string{"http://localhost:3000"},
			RedirectURL:   "/",
		},
		Database: DatabaseConfig{Path: "data/reelhouse.db"},
		Auth:     AuthConfig{TokenTTL: 7 * 24 * time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Activity: ActivityConfig{Timezone: "Local"},
		TMDB:     TMDBConfig{BaseURL: "https://api.themoviedb.org/3"},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		},
	}
}

// envMappings maps environment variable names (lower-cased) to config paths.
// Anything not listed is ignored.
var envMappings = map[string]string{
	"port":                 "server.port",
	"transport_port":       "server.transport_port",
	"cors_origins":         "server.cors_origins",
	"secure_cookie":        "server.secure_cookie",
	"redirect_url":         "server.redirect_url",
	"db_path":              "database.path",
	"jwt_secret":           "auth.jwt_secret",
	"token_ttl":            "auth.token_ttl",
	"github_client_id":     "auth.github_client_id",
	"github_client_secret": "auth.github_client_secret",
	"github_callback_url":  "auth.github_callback_url",
	"log_level":            "logging.level",
	"log_format":           "logging.format",
	"activity_timezone":    "activity.timezone",
	"tmdb_api_key":         "tmdb.api_key",
	"tmdb_base_url":        "tmdb.base_url",
	"rate_limit_requests":  "rate_limit.requests",
	"rate_limit_window":    "rate_limit.window",
}

func envKey(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	// CORS_ORIGINS arrives as one comma-separated string.
	if raw, ok := k.Get("server.cors_origins").(string); ok {
		if err := k.Set("server.cors_origins", splitList(raw)); err != nil {
			return nil, fmt.Errorf("parsing cors origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Auth.GitHubCallbackURL == "" {
		cfg.Auth.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLength))
	}
	if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Server.Port))
	}
	if !validPort(c.Server.TransportPort) {
		errs = append(errs, fmt.Errorf("TRANSPORT_PORT %d is out of range", c.Server.TransportPort))
	}
	if c.Server.Port == c.Server.TransportPort {
		errs = append(errs, errors.New("PORT and TRANSPORT_PORT must differ"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if _, err := time.LoadLocation(c.Activity.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("ACTIVITY_TIMEZONE %q: %w", c.Activity.Timezone, err))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Logging.Format))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if (c.Auth.GitHubClientID == "") != (c.Auth.GitHubClientSecret == "") {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}

	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Location returns the activity timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Activity.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogLevel returns the slog level for Logging.Level.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.Logging.Level)
	return lvl
}

func (c *Config) GitHubEnabled() bool {
	return c.Auth.GitHubClientID != "" && c.Auth.GitHubClientSecret != ""
}

func (c *Config) TMDBEnabled() bool {
	return c.TMDB.APIKey != ""
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return lvl, nil
}
