package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RequestTimeout is the deadline applied to every API request.
const RequestTimeout = 60 * time.Second

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`

	StorageDriver    string `mapstructure:"STORAGE_DRIVER"`
	StorageEndpoint  string `mapstructure:"STORAGE_ENDPOINT"`
	StorageAccessKey string `mapstructure:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `mapstructure:"STORAGE_SECRET_KEY"`
	StorageBucket    string `mapstructure:"STORAGE_BUCKET"`
	StorageUseSSL    bool   `mapstructure:"STORAGE_USE_SSL"`
	StoragePublicURL string `mapstructure:"STORAGE_PUBLIC_URL"`

	WorkflowWebhookURL    string        `mapstructure:"WORKFLOW_WEBHOOK_URL"`
	WorkflowWebhookSecret string        `mapstructure:"WORKFLOW_WEBHOOK_SECRET"`
	WorkflowTimeout       time.Duration `mapstructure:"WORKFLOW_TIMEOUT"`

	// WorkflowDispatchTimeout bounds a whole delivery, retries included.
	WorkflowDispatchTimeout time.Duration `mapstructure:"WORKFLOW_DISPATCH_TIMEOUT"`

	UploadMaxAttempts int           `mapstructure:"UPLOAD_MAX_ATTEMPTS"`
	UploadBackoffStep time.Duration `mapstructure:"UPLOAD_BACKOFF_STEP"`

	QueuePollInterval time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
	QueuePollTimeout  time.Duration `mapstructure:"QUEUE_POLL_TIMEOUT"`

	FormTokenTTL       time.Duration `mapstructure:"FORM_TOKEN_TTL"`
	FormSessionIdleTTL time.Duration `mapstructure:"FORM_SESSION_IDLE_TTL"`

	PublicRateLimitRPS   float64 `mapstructure:"PUBLIC_RATE_LIMIT_RPS"`
	PublicRateLimitBurst int     `mapstructure:"PUBLIC_RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_SIGNING_KEY",
	"STORAGE_DRIVER", "STORAGE_ENDPOINT", "STORAGE_ACCESS_KEY", "STORAGE_SECRET_KEY",
	"STORAGE_BUCKET", "STORAGE_USE_SSL", "STORAGE_PUBLIC_URL",
	"WORKFLOW_WEBHOOK_URL", "WORKFLOW_WEBHOOK_SECRET", "WORKFLOW_TIMEOUT", "WORKFLOW_DISPATCH_TIMEOUT",
	"UPLOAD_MAX_ATTEMPTS", "UPLOAD_BACKOFF_STEP",
	"QUEUE_POLL_INTERVAL", "QUEUE_POLL_TIMEOUT",
	"FORM_TOKEN_TTL", "FORM_SESSION_IDLE_TTL",
	"PUBLIC_RATE_LIMIT_RPS", "PUBLIC_RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("STORAGE_DRIVER", "memory")
	v.SetDefault("STORAGE_BUCKET", "healz-files")
	v.SetDefault("WORKFLOW_TIMEOUT", "30s")
	v.SetDefault("WORKFLOW_DISPATCH_TIMEOUT", "45s")
	v.SetDefault("UPLOAD_MAX_ATTEMPTS", 3)
	v.SetDefault("UPLOAD_BACKOFF_STEP", "500ms")
	v.SetDefault("QUEUE_POLL_INTERVAL", "3s")
	v.SetDefault("QUEUE_POLL_TIMEOUT", "5m")
	v.SetDefault("FORM_TOKEN_TTL", "720h")
	v.SetDefault("FORM_SESSION_IDLE_TTL", "2h")
	v.SetDefault("PUBLIC_RATE_LIMIT_RPS", 5)
	v.SetDefault("PUBLIC_RATE_LIMIT_BURST", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode, practitioner routes accept unauthenticated requests")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMinio reports whether uploaded files go to an S3-compatible bucket
// rather than the in-process store.
func (c *Config) UsesMinio() bool {
	return c.StorageDriver == "minio"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}

	switch c.StorageDriver {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_DRIVER=memory is not allowed in production")
		}
	case "minio":
		if c.StorageEndpoint == "" || c.StorageAccessKey == "" || c.StorageSecretKey == "" {
			return fmt.Errorf("STORAGE_ENDPOINT, STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required when STORAGE_DRIVER is \"minio\"")
		}
		if c.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required when STORAGE_DRIVER is \"minio\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"memory\" or \"minio\", got %q", c.StorageDriver)
	}

	if c.UploadMaxAttempts < 1 {
		return fmt.Errorf("UPLOAD_MAX_ATTEMPTS must be at least 1, got %d", c.UploadMaxAttempts)
	}
	if c.QueuePollInterval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be positive")
	}
	if c.WorkflowDispatchTimeout < 0 || c.WorkflowDispatchTimeout >= RequestTimeout {
		return fmt.Errorf("WORKFLOW_DISPATCH_TIMEOUT must be below the %s request timeout, got %s", RequestTimeout, c.WorkflowDispatchTimeout)
	}
	if c.WorkflowWebhookURL != "" && c.WorkflowWebhookSecret == "" {
		return fmt.Errorf("WORKFLOW_WEBHOOK_SECRET is required when WORKFLOW_WEBHOOK_URL is set")
	}
	return nil
}
