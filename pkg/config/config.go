package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"nourish_backend/pkg/subscription"
)

type Config struct {
	AppEnv   string
	LogLevel string
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Mobile   MobileBillingConfig
	Speech   SpeechConfig
	Storage  StorageConfig
	Email    EmailConfig
	Cron     CronConfig
}

type ServerConfig struct {
	Port            string
	UpstreamTimeout time.Duration
	CASRetries      int
}

type DatabaseConfig struct {
	URL          string
	MaxIdleConns int
	MaxOpenConns int
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Prices        *subscription.ProductCatalog
}

type MobileBillingConfig struct {
	WebhookAuth string
	Products    *subscription.ProductCatalog
}

type SpeechConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type StorageConfig struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

type CronConfig struct {
	ExpirySpec string
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),
		Server: ServerConfig{
			Port:            getEnv("PORT", "3000"),
			UpstreamTimeout: time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 8)) * time.Second,
			CASRetries:      getEnvInt("STORE_CAS_RETRIES", 25),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 100),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", "https://app.nourish.app/billing/success"),
			CancelURL:     getEnv("CHECKOUT_CANCEL_URL", "https://app.nourish.app/billing/cancel"),
		},
		Mobile: MobileBillingConfig{
			WebhookAuth: os.Getenv("REVENUECAT_WEBHOOK_AUTH"),
		},
		Speech: SpeechConfig{
			APIKey:  os.Getenv("SPEECH_API_KEY"),
			BaseURL: getEnv("SPEECH_BASE_URL", "https://api.elevenlabs.io"),
			Model:   getEnv("SPEECH_MODEL", "eleven_multilingual_v2"),
		},
		Storage: StorageConfig{
			AccountID: os.Getenv("R2_ACCOUNT_ID"),
			AccessKey: os.Getenv("R2_ACCESS_KEY"),
			SecretKey: os.Getenv("R2_SECRET_KEY"),
			Bucket:    getEnv("R2_BUCKET_NAME", "nourish-audio"),
			PublicURL: getEnv("R2_PUBLIC_URL", "https://cdn.nourish.app"),
		},
		Email: EmailConfig{
			ResendAPIKey: os.Getenv("RESEND_API_KEY"),
			From:         getEnv("EMAIL_FROM", "Nourish <noreply@nourish.app>"),
		},
		Cron: CronConfig{
			ExpirySpec: getEnv("EXPIRY_CRON_SPEC", "0 9 * * *"),
		},
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Server.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS must be positive")
	}

	var err error
	if cfg.Stripe.Prices, err = subscription.ParseProductCatalog(os.Getenv("STRIPE_PRICE_TIERS")); err != nil {
		return nil, fmt.Errorf("STRIPE_PRICE_TIERS: %w", err)
	}
	if cfg.Mobile.Products, err = subscription.ParseProductCatalog(os.Getenv("MOBILE_PRODUCT_TIERS")); err != nil {
		return nil, fmt.Errorf("MOBILE_PRODUCT_TIERS: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
