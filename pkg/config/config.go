package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port           string
		Env            string
		Timeout        time.Duration
		GRPCHealthPort string
	}

	// Database configuration. DSN takes precedence over the individual fields.
	Database struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
		Retries  int
	}

	// Redis backs the chat log spool; an empty URL disables it
	Redis struct {
		URL      string
		Password string
		DB       int
	}

	// LLM chat-completion provider
	LLM struct {
		APIKey       string
		BaseURL      string
		Model        string
		Region       string
		Temperature  *float64
		MaxTokens    *int
		HistoryLimit int
	}

	// Image-generation provider
	Image struct {
		APIKey     string
		BaseURL    string
		Model      string
		Size       string
		FetchRetry int
	}

	// Provider call policy shared by every external call
	Provider struct {
		Timeout          time.Duration
		FailureThreshold uint
		SuccessThreshold uint
		RetryTimeout     time.Duration
	}

	// Chat log persistence sink
	ChatLog struct {
		Workers        int
		QueueSize      int
		MaxRetries     uint64
		WriteTimeout   time.Duration
		ReplayInterval time.Duration
		SpoolKey       string
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
		AuthJWTSecret  string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Cache settings for fetched secrets
	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Vault settings
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
		Timeout     time.Duration
		MaxRetries  int
	}

	// Tracing and metrics
	Observability struct {
		ServiceName    string
		TracingEnabled bool
	}

	OpenAPISchemaPath string
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "5000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.GRPCHealthPort = getEnvString("GRPC_HEALTH_PORT", "")

	// Database config
	cfg.Database.DSN = getEnvString("DATABASE_DSN", "")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "postgres")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "require")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.Database.Retries = getEnvInt("DB_CONNECT_RETRIES", 5)

	// Redis config
	cfg.Redis.URL = getEnvString("REDIS_URL", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// LLM config. OPENAI_API_KEY is honoured for compatibility with existing deployments.
	cfg.LLM.APIKey = getEnvString("LLM_API_KEY", getEnvString("OPENAI_API_KEY", ""))
	cfg.LLM.BaseURL = getEnvString("LLM_BASE_URL", "https://api.openai.com/v1")
	cfg.LLM.Model = getEnvString("LLM_MODEL", "gpt-4")
	cfg.LLM.Region = getEnvString("LLM_REGION", "")
	cfg.LLM.Temperature = getEnvOptionalFloat("LLM_TEMPERATURE")
	cfg.LLM.MaxTokens = getEnvOptionalInt("LLM_MAX_TOKENS")
	cfg.LLM.HistoryLimit = getEnvInt("CONVERSATION_HISTORY_LIMIT", 20)

	// Image config
	cfg.Image.APIKey = getEnvString("IMAGE_API_KEY", cfg.LLM.APIKey)
	cfg.Image.BaseURL = getEnvString("IMAGE_BASE_URL", cfg.LLM.BaseURL)
	cfg.Image.Model = getEnvString("IMAGE_MODEL", "dall-e-2")
	cfg.Image.Size = getEnvString("IMAGE_SIZE", "256x256")
	cfg.Image.FetchRetry = getEnvInt("IMAGE_FETCH_RETRIES", 3)

	// Provider policy
	cfg.Provider.Timeout = getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second)
	cfg.Provider.FailureThreshold = uint(getEnvInt("PROVIDER_FAILURE_THRESHOLD", 5))
	cfg.Provider.SuccessThreshold = uint(getEnvInt("PROVIDER_SUCCESS_THRESHOLD", 2))
	cfg.Provider.RetryTimeout = getEnvDuration("PROVIDER_RETRY_TIMEOUT", 30*time.Second)

	// Chat log sink
	cfg.ChatLog.Workers = getEnvInt("CHATLOG_WORKERS", 4)
	cfg.ChatLog.QueueSize = getEnvInt("CHATLOG_QUEUE_SIZE", 256)
	cfg.ChatLog.MaxRetries = uint64(getEnvInt("CHATLOG_MAX_RETRIES", 3))
	cfg.ChatLog.WriteTimeout = getEnvDuration("CHATLOG_WRITE_TIMEOUT", 5*time.Second)
	cfg.ChatLog.ReplayInterval = getEnvDuration("CHATLOG_REPLAY_INTERVAL", time.Minute)
	cfg.ChatLog.SpoolKey = getEnvString("CHATLOG_SPOOL_KEY", "chat_logs:spool")

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB
	cfg.Security.AuthJWTSecret = getEnvString("AUTH_JWT_SECRET", "")

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Cache settings
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	// Vault settings
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "companion-app")
	cfg.Vault.Timeout = getEnvDuration("VAULT_TIMEOUT", 10*time.Second)
	cfg.Vault.MaxRetries = getEnvInt("VAULT_MAX_RETRIES", 3)

	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", "companion-backend")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	cfg.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	return cfg
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvOptionalFloat(key string) *float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return &floatVal
		}
	}
	return nil
}

func getEnvOptionalInt(key string) *int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return &intVal
		}
	}
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
