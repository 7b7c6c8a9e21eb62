package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/adspend-kpi/internal/storage"
)

// Config holds all configuration for the KPI service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Seed      SeedConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

// DatabaseConfig describes where the raw_ads_spend dataset lives.
type DatabaseConfig struct {
	// Driver is one of postgres, clickhouse or memory
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
	// QueryTimeout bounds the aggregation query. Zero means no bound.
	QueryTimeout time.Duration
	DialTimeout  time.Duration
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Addr returns host:port.
func (d DatabaseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

type RedisConfig struct {
	// Addr is empty when Redis is not used
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	// Window and PerWindow drive the Redis fixed-window limiter
	Window    time.Duration
	PerWindow int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics. They are served on their own
// port because /metrics on the API port is the KPI endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    string
}

// SeedConfig points the in-memory driver at a CSV export of raw_ads_spend.
type SeedConfig struct {
	CSVPath string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("KPI_HTTP_ADDR", ":8000"),
			Env:             getEnv("KPI_ENV", "development"),
			ShutdownTimeout: getDurationEnv("KPI_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("KPI_DB_DRIVER", "postgres")),
			Host:         getEnv("KPI_DB_HOST", getEnv("DB_HOST", "localhost")),
			Port:         getIntEnv("KPI_DB_PORT", 5432),
			User:         getEnv("KPI_DB_USER", getEnv("POSTGRES_USER", "postgres")),
			Password:     getEnv("KPI_DB_PASSWORD", getEnv("POSTGRES_PASSWORD", "")),
			DBName:       getEnv("KPI_DB_NAME", getEnv("POSTGRES_DB", "postgres")),
			SSLMode:      getEnv("KPI_DB_SSLMODE", "disable"),
			Table:        getEnv("KPI_DB_TABLE", "raw_ads_spend"),
			QueryTimeout: getDurationEnv("KPI_QUERY_TIMEOUT", 0),
			DialTimeout:  getDurationEnv("KPI_DB_DIAL_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("KPI_REDIS_ADDR", ""),
			Password: getEnv("KPI_REDIS_PASSWORD", ""),
			DB:       getIntEnv("KPI_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("KPI_AUTH_ENABLED", false),
			MasterKey: getEnv("KPI_API_KEY", ""),
			SkipPaths: getSliceEnv("KPI_AUTH_SKIP_PATHS", []string{"/health", "/ready"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getBoolEnv("KPI_RATE_LIMIT_ENABLED", true),
			RPS:       getFloatEnv("KPI_RATE_LIMIT_RPS", 50),
			Burst:     getIntEnv("KPI_RATE_LIMIT_BURST", 20),
			Window:    getDurationEnv("KPI_RATE_LIMIT_WINDOW", time.Second),
			PerWindow: getIntEnv("KPI_RATE_LIMIT_PER_WINDOW", 10),
		},
		Log: LogConfig{
			Level:  getEnv("KPI_LOG_LEVEL", "info"),
			Format: getEnv("KPI_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("KPI_METRICS_ENABLED", true),
			Path:    getEnv("KPI_METRICS_PATH", "/metrics"),
			Port:    getEnv("KPI_METRICS_PORT", "9090"),
		},
		Seed: SeedConfig{
			CSVPath: getEnv("KPI_SEED_CSV", ""),
		},
	}

	if cfg.Database.Driver == "clickhouse" && os.Getenv("KPI_DB_PORT") == "" {
		cfg.Database.Port = 9000
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "clickhouse", "memory":
	default:
		return fmt.Errorf("KPI_DB_DRIVER must be postgres, clickhouse or memory, got %q", c.Database.Driver)
	}
	if !storage.ValidTableName(c.Database.Table) {
		return fmt.Errorf("KPI_DB_TABLE %q is not a valid table name", c.Database.Table)
	}
	if c.Database.QueryTimeout < 0 {
		return fmt.Errorf("KPI_QUERY_TIMEOUT must not be negative")
	}
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("KPI_API_KEY is required when auth is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("KPI_RATE_LIMIT_RPS and KPI_RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimit.Enabled && c.Redis.Addr != "" && (c.RateLimit.Window <= 0 || c.RateLimit.PerWindow <= 0) {
		return fmt.Errorf("KPI_RATE_LIMIT_WINDOW and KPI_RATE_LIMIT_PER_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
