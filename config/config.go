package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wanderplan/orchestrator/models"
)

// Config represents the complete orchestrator configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Budget        BudgetConfig
	Breaker       BreakerConfig
	Providers     []ProviderConfig
	Observability ObservabilityConfig
	Fallback      FallbackConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration for the usage log.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over
// the individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// CacheBackend selects the response cache implementation.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	Backend         CacheBackend
	TTL             time.Duration
	MaxEntries      int
	RedisAddr       string
	CleanupInterval time.Duration
}

// BudgetConfig holds the three spending limits. Values are loaded as USD and
// converted to MicroUSD once at startup.
type BudgetConfig struct {
	DailyGlobalLimit models.MicroUSD
	PerUserLimit     models.MicroUSD
	PerRequestLimit  models.MicroUSD
}

// BreakerConfig holds per-provider circuit breaker tuning.
type BreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

// ProviderConfig describes one configured LLM backend. The provider set is
// closed: only ids with a registered adapter constructor are accepted.
type ProviderConfig struct {
	ID            string
	Priority      int
	APIKey        string
	BaseURL       string
	Model         string
	InputRate     models.MicroUSD // per 1K prompt tokens
	OutputRate    models.MicroUSD // per 1K completion tokens
	MaxTokens     int
	Timeout       time.Duration
}

// FallbackConfig holds the degraded-mode response settings.
type FallbackConfig struct {
	Suggestion string
}

// ObservabilityConfig holds logging configuration.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

const defaultFallbackSuggestion = "We couldn't generate suggestions right now. " +
	"Please try again in a few minutes, or browse your saved trip ideas in the meantime."

// New creates a Config by loading environment variables.
func New() (*Config, error) {
	// Load .env if present (repo root or the directory the binary runs from).
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8090),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Cache: CacheConfig{
			Backend:         CacheBackend(getEnv("CACHE_BACKEND", string(CacheBackendMemory))),
			TTL:             getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			MaxEntries:      getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
			RedisAddr:       getEnv("CACHE_REDIS_ADDR", "localhost:6379"),
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
		},
		Budget: BudgetConfig{
			DailyGlobalLimit: models.MicroUSDFromUSD(getEnvAsFloat("BUDGET_DAILY_GLOBAL_LIMIT_USD", 50.0)),
			PerUserLimit:     models.MicroUSDFromUSD(getEnvAsFloat("BUDGET_PER_USER_LIMIT_USD", 10.0)),
			PerRequestLimit:  models.MicroUSDFromUSD(getEnvAsFloat("BUDGET_PER_REQUEST_LIMIT_USD", 2.0)),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			OpenDuration:     getEnvAsDuration("BREAKER_OPEN_DURATION", 60*time.Second),
		},
		Fallback: FallbackConfig{
			Suggestion: getEnv("FALLBACK_SUGGESTION", defaultFallbackSuggestion),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Providers = loadProviderConfigs()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadProviderConfigs loads the closed set of provider configurations.
// A provider participates only when its API key is set.
func loadProviderConfigs() []ProviderConfig {
	var providers []ProviderConfig

	if key := getEnv("OPENAI_API_KEY", ""); key != "" {
		providers = append(providers, ProviderConfig{
			ID:         "openai",
			Priority:   getEnvAsInt("OPENAI_PRIORITY", 1),
			APIKey:     key,
			BaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			InputRate:  models.MicroUSDFromUSD(getEnvAsFloat("OPENAI_INPUT_RATE_USD_PER_1K", 0.00015)),
			OutputRate: models.MicroUSDFromUSD(getEnvAsFloat("OPENAI_OUTPUT_RATE_USD_PER_1K", 0.0006)),
			MaxTokens:  getEnvAsInt("OPENAI_MAX_TOKENS", 4096),
			Timeout:    getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
		})
	}

	if key := getEnv("ANTHROPIC_API_KEY", ""); key != "" {
		providers = append(providers, ProviderConfig{
			ID:         "anthropic",
			Priority:   getEnvAsInt("ANTHROPIC_PRIORITY", 2),
			APIKey:     key,
			BaseURL:    getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Model:      getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
			InputRate:  models.MicroUSDFromUSD(getEnvAsFloat("ANTHROPIC_INPUT_RATE_USD_PER_1K", 0.0008)),
			OutputRate: models.MicroUSDFromUSD(getEnvAsFloat("ANTHROPIC_OUTPUT_RATE_USD_PER_1K", 0.004)),
			MaxTokens:  getEnvAsInt("ANTHROPIC_MAX_TOKENS", 4096),
			Timeout:    getEnvAsDuration("ANTHROPIC_TIMEOUT", 30*time.Second),
		})
	}

	// Stable order: priority ascending, ties broken by id.
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority < providers[j].Priority
		}
		return providers[i].ID < providers[j].ID
	})

	return providers
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis cache backend requires CACHE_REDIS_ADDR")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Budget.DailyGlobalLimit <= 0 {
		return fmt.Errorf("daily global budget limit must be positive")
	}
	if c.Budget.PerUserLimit <= 0 {
		return fmt.Errorf("per-user budget limit must be positive")
	}
	if c.Budget.PerRequestLimit <= 0 {
		return fmt.Errorf("per-request budget limit must be positive")
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if c.Breaker.OpenDuration <= 0 {
		return fmt.Errorf("breaker open duration must be positive")
	}

	if c.IsProduction() && len(c.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured in production")
	}
	for _, p := range c.Providers {
		if p.InputRate < 0 || p.OutputRate < 0 {
			return fmt.Errorf("provider %s has a negative rate", p.ID)
		}
		if p.MaxTokens <= 0 {
			return fmt.Errorf("provider %s max tokens must be positive", p.ID)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("provider %s timeout must be positive", p.ID)
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in a production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string. Uses ConnectionString (from
// DATABASE_URL) when set; otherwise builds one from the individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a connection description safe for logging (no password).
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "wanderplan"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "orchestrator"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
