// Package config loads the service configuration from a YAML file and
// GRAPHOPT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sergeeey/TERAG111-sub002/internal/storage"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultPath is where the server looks for its config file.
const DefaultPath = "config/graphopt.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRAPHOPT_"

// Config is the full service configuration.
type Config struct {
	ThresholdMs      float64       `yaml:"threshold_ms"`
	DryRun           bool          `yaml:"dry_run"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	LogPath          string        `yaml:"log_path"`
	PatternsPath     string        `yaml:"patterns_path"`
	ScheduleInterval time.Duration `yaml:"schedule_interval"`
	LogLevel         string        `yaml:"log_level"`

	Storage StorageConfig `yaml:"storage"`
	Neo4j   Neo4jConfig   `yaml:"neo4j"`

	APIAddr        string  `yaml:"api_addr"`
	OTLPHTTPAddr   string  `yaml:"otlp_http_addr"`
	OTLPGRPCAddr   string  `yaml:"otlp_grpc_addr"`
	PprofAddr      string  `yaml:"pprof_addr"`
	OTLPBufferSize int     `yaml:"otlp_buffer_size"`
	RunRateLimit   float64 `yaml:"run_rate_limit"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend        string `yaml:"backend"`
	SQLitePath     string `yaml:"sqlite_path"`
	// ClickHouseAddr is host:port or a clickhouse:// DSN.
	ClickHouseAddr string `yaml:"clickhouse_addr"`
}

// Neo4jConfig holds graph store connection settings. An empty URI means
// no store is configured.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ThresholdMs:      100,
		DryRun:           true,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		LogPath:          "/var/log/neo4j/query.log",
		LogLevel:         "info",
		Storage: StorageConfig{
			Backend:        storage.BackendMemory,
			SQLitePath:     "data/graphopt.db",
			ClickHouseAddr: "localhost:9000",
		},
		Neo4j: Neo4jConfig{
			Username: "neo4j",
			Database: "neo4j",
		},
		APIAddr:        "0.0.0.0:8080",
		OTLPHTTPAddr:   "0.0.0.0:4318",
		OTLPGRPCAddr:   "0.0.0.0:4317",
		PprofAddr:      "localhost:6060",
		OTLPBufferSize: 10000,
		RunRateLimit:   6,
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config YAML: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from GRAPHOPT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	float("THRESHOLD_MS", &c.ThresholdMs)
	boolean("DRY_RUN", &c.DryRun)
	integer("FAILURE_THRESHOLD", &c.FailureThreshold)
	duration("COOLDOWN", &c.Cooldown)
	str("LOG_PATH", &c.LogPath)
	str("PATTERNS_PATH", &c.PatternsPath)
	duration("SCHEDULE_INTERVAL", &c.ScheduleInterval)
	str("LOG_LEVEL", &c.LogLevel)

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("CLICKHOUSE_ADDR", &c.Storage.ClickHouseAddr)

	str("NEO4J_URI", &c.Neo4j.URI)
	str("NEO4J_USERNAME", &c.Neo4j.Username)
	str("NEO4J_PASSWORD", &c.Neo4j.Password)
	str("NEO4J_DATABASE", &c.Neo4j.Database)

	str("API_ADDR", &c.APIAddr)
	str("OTLP_HTTP_ADDR", &c.OTLPHTTPAddr)
	str("OTLP_GRPC_ADDR", &c.OTLPGRPCAddr)
	str("PPROF_ADDR", &c.PprofAddr)
	integer("OTLP_BUFFER_SIZE", &c.OTLPBufferSize)
	float("RUN_RATE_LIMIT", &c.RunRateLimit)

	return errors.Join(errs...)
}

// Validate rejects configurations that must not reach a run.
func (c Config) Validate() error {
	var problems []string

	if c.ThresholdMs < 0 || math.IsNaN(c.ThresholdMs) || math.IsInf(c.ThresholdMs, 0) {
		problems = append(problems, fmt.Sprintf("threshold_ms must be a non-negative number, got %v", c.ThresholdMs))
	}
	if c.FailureThreshold < 1 {
		problems = append(problems, fmt.Sprintf("failure_threshold must be at least 1, got %d", c.FailureThreshold))
	}
	if c.Cooldown <= 0 {
		problems = append(problems, fmt.Sprintf("cooldown must be positive, got %s", c.Cooldown))
	}
	if c.ScheduleInterval < 0 {
		problems = append(problems, fmt.Sprintf("schedule_interval must not be negative, got %s", c.ScheduleInterval))
	}
	if c.OTLPBufferSize < 1 {
		problems = append(problems, fmt.Sprintf("otlp_buffer_size must be at least 1, got %d", c.OTLPBufferSize))
	}
	if c.RunRateLimit < 0 {
		problems = append(problems, fmt.Sprintf("run_rate_limit must not be negative, got %v", c.RunRateLimit))
	}

	switch c.Storage.Backend {
	case storage.BackendMemory, storage.BackendClickHouse:
	case storage.BackendSQLite, storage.BackendDual:
		if c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path is required for the "+c.Storage.Backend+" backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend))
	}

	if _, err := c.SlogLevel(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// StorageFactoryConfig converts to the storage factory configuration.
func (c Config) StorageFactoryConfig() storage.Config {
	return storage.Config{
		Backend:        c.Storage.Backend,
		SQLitePath:     c.Storage.SQLitePath,
		ClickHouseAddr: c.Storage.ClickHouseAddr,
	}
}
