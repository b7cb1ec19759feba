package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Public base URL of the API
	BaseURL string

	// Browser origins allowed to call the API cross-origin
	AllowedOrigins []string

	// Payment webhook
	PaymentWebhookSecret    string        // whsec_<base64> or raw secret
	PaymentWebhookTolerance time.Duration // 0 disables the timestamp window
	WebhookTimeout          time.Duration
	PaymentProviderName     string // written to subscription_source
	ProMonthlyProductIDs    []string
	ProYearlyProductIDs     []string

	// Payment provider API (customer portal)
	DodoAPIKey      string
	DodoEnvironment string // "test_mode" or "live_mode"

	// Access tokens issued by the identity provider
	AuthJWTSecret   string
	AuthJWTAudience string

	// AI Provider Configuration
	AIProvider       string // "openai", "anthropic" or "mock"
	OpenAIAPIKey     string
	OpenAIModel      string
	AnthropicAPIKey  string
	AnthropicModel   string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Daily generation limits
	QuotaAnonDailyLimit int
	QuotaFreeDailyLimit int
	QuotaProDailyLimit  int

	// Anonymous counter store. Empty keeps counters in process.
	RedisURL string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string
	LocalStorageURL  string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	// SMTP Configuration. Contact form is disabled without CONTACT_TO_EMAIL.
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	SMTPFromName   string
	ContactToEmail string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),

		PaymentWebhookTolerance: getEnvDuration("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute),
		WebhookTimeout:          getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		PaymentProviderName:     getEnv("PAYMENT_PROVIDER_NAME", "dodo"),
		ProMonthlyProductIDs:    getEnvList("PRO_MONTHLY_PRODUCT_IDS"),
		ProYearlyProductIDs:     getEnvList("PRO_YEARLY_PRODUCT_IDS"),

		DodoAPIKey:      getEnv("DODO_API_KEY", ""),
		DodoEnvironment: getEnv("DODO_ENVIRONMENT", "test_mode"),

		AuthJWTAudience: getEnv("AUTH_JWT_AUDIENCE", "authenticated"),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 2),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		QuotaAnonDailyLimit: getEnvInt("QUOTA_ANON_DAILY_LIMIT", domain.DefaultQuotaPolicy.AnonymousPerDay),
		QuotaFreeDailyLimit: getEnvInt("QUOTA_FREE_DAILY_LIMIT", domain.DefaultQuotaPolicy.FreePerDay),
		QuotaProDailyLimit:  getEnvInt("QUOTA_PRO_DAILY_LIMIT", domain.DefaultQuotaPolicy.ProPerDay),

		RedisURL: getEnv("REDIS_URL", ""),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		// SMTP defaults for Mailhog (development)
		SMTPHost:       getEnv("SMTP_HOST", "localhost"),
		SMTPPort:       getEnvInt("SMTP_PORT", 1025),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:       getEnv("SMTP_FROM", "noreply@dentaistudy.com"),
		SMTPFromName:   getEnv("SMTP_FROM_NAME", "DentAIstudy"),
		ContactToEmail: getEnv("CONTACT_TO_EMAIL", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.PaymentWebhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if cfg.PaymentWebhookSecret == "" {
		return nil, fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthJWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	if err := cfg.QuotaPolicy().Validate(); err != nil {
		return nil, fmt.Errorf("invalid quota configuration: %w", err)
	}

	switch cfg.DodoEnvironment {
	case "test_mode", "live_mode":
	default:
		return nil, fmt.Errorf("DODO_ENVIRONMENT must be either 'test_mode' or 'live_mode', got: %s", cfg.DodoEnvironment)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2PublicURL == "" {
			return nil, fmt.Errorf("R2_PUBLIC_URL is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of 'openai', 'anthropic' or 'mock', got: %s", cfg.AIProvider)
	}

	return cfg, nil
}

// QuotaPolicy returns the configured daily limits.
func (c *Config) QuotaPolicy() domain.QuotaPolicy {
	return domain.QuotaPolicy{
		AnonymousPerDay: c.QuotaAnonDailyLimit,
		FreePerDay:      c.QuotaFreeDailyLimit,
		ProPerDay:       c.QuotaProDailyLimit,
	}
}

// IsSecure reports whether the service runs behind TLS.
func (c *Config) IsSecure() bool {
	return c.Env != "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
