// Package config handles startup settings (YAML file plus environment)
// and the DB-backed runtime configuration snapshot.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration, resolved at startup.
// Precedence, lowest to highest: YAML file, environment variables,
// persisted system_config rows (applied via ApplyOverrides).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	APIPrefix       string        `yaml:"api_prefix"`
	APISecret       string        `yaml:"api_secret"`
	AdminPrefix     string        `yaml:"admin_prefix"`
	AdminUsername   string        `yaml:"admin_username"`
	AdminPassword   string        `yaml:"admin_password"`
	JWTSecret       string        `yaml:"jwt_secret"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN  string `yaml:"dsn"` // file path or ":memory:"
	Echo bool   `yaml:"echo"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads the YAML config file (if present), expands ${VAR} references,
// then layers environment variables on top. A missing file is not an error;
// the environment and defaults carry the configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            6777,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "./data/amp_pool.db",
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()
	return cfg, nil
}

// envLookup matches os.LookupEnv so tests can inject environments.
type envLookup func(string) (string, bool)

func (c *Config) applyEnv(lookup envLookup) {
	setStr := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	setStr("HOST", &c.Server.Host)
	setStr("API_PREFIX", &c.Server.APIPrefix)
	setStr("API_SECRET", &c.Server.APISecret)
	setStr("ADMIN_PREFIX", &c.Server.AdminPrefix)
	setStr("ADMIN_USERNAME", &c.Server.AdminUsername)
	setStr("ADMIN_PASSWORD", &c.Server.AdminPassword)
	setStr("JWT_SECRET_KEY", &c.Server.JWTSecret)

	if v, ok := lookup("PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v, ok := lookup("DB_ECHO"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Database.Echo = b
		}
	}
}

// ApplyOverrides layers persisted system_config rows over the resolved
// settings. Row keys match the environment variable names.
func (c *Config) ApplyOverrides(values map[string]string) {
	c.applyEnv(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
	c.normalize()
}

func (c *Config) normalize() {
	c.Server.APIPrefix = NormalizePrefix(c.Server.APIPrefix)
	c.Server.AdminPrefix = NormalizePrefix(c.Server.AdminPrefix)
}

// NormalizePrefix canonicalizes a path prefix to "" or "/segment..."
// (leading slash, no trailing slash).
func NormalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
