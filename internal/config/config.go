package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	RateLimit   RateLimitConfig
	Zitadel     ZitadelConfig
	Gateway     GatewayConfig
	Registry    ServiceConfig
	Prompt      PromptConfig
	Composer    ServiceConfig
	Artifacts   ServiceConfig
	Connections ServiceConfig
	R2          R2Config
	Database    DatabaseConfig
	Pipeline    PipelineConfig
	Sentry      SentryConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GenerationsPerHour int
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

// ServiceConfig describes one backend collaborator reached over HTTP
type ServiceConfig struct {
	BaseURL string
	Timeout int // seconds
}

type PromptConfig struct {
	Provider    string // "http" or "openai"
	BaseURL     string
	Timeout     int // seconds
	APIKey      string
	Model       string
	MaxAttempts int
	BaseDelayMs int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	URLExpiry       int // minutes
}

type DatabaseConfig struct {
	Type  string // sqlite, postgres or mysql
	DSN   string
	Debug bool
}

type PipelineConfig struct {
	OwnerLockEnabled bool
	OwnerLockTTL     int // seconds
	LedgerTTL        int // hours
}

type SentryConfig struct {
	DSN string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("PROMPT_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("DATABASE_DSN")
	readSecret("SENTRY_DSN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.generations_per_hour", "RATELIMIT_GENERATIONS_PER_HOUR")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("registry.base_url", "REGISTRY_BASE_URL")
	_ = viper.BindEnv("registry.timeout", "REGISTRY_TIMEOUT")
	_ = viper.BindEnv("prompt.provider", "PROMPT_PROVIDER")
	_ = viper.BindEnv("prompt.base_url", "PROMPT_BASE_URL")
	_ = viper.BindEnv("prompt.timeout", "PROMPT_TIMEOUT")
	_ = viper.BindEnv("prompt.api_key", "PROMPT_API_KEY")
	_ = viper.BindEnv("prompt.model", "PROMPT_MODEL")
	_ = viper.BindEnv("prompt.max_attempts", "PROMPT_MAX_ATTEMPTS")
	_ = viper.BindEnv("prompt.base_delay_ms", "PROMPT_BASE_DELAY_MS")
	_ = viper.BindEnv("composer.base_url", "COMPOSER_BASE_URL")
	_ = viper.BindEnv("composer.timeout", "COMPOSER_TIMEOUT")
	_ = viper.BindEnv("artifacts.base_url", "ARTIFACTS_BASE_URL")
	_ = viper.BindEnv("artifacts.timeout", "ARTIFACTS_TIMEOUT")
	_ = viper.BindEnv("connections.base_url", "CONNECTIONS_BASE_URL")
	_ = viper.BindEnv("connections.timeout", "CONNECTIONS_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("r2.url_expiry", "R2_URL_EXPIRY")
	_ = viper.BindEnv("database.type", "DATABASE_TYPE")
	_ = viper.BindEnv("database.dsn", "DATABASE_DSN")
	_ = viper.BindEnv("database.debug", "DATABASE_DEBUG")
	_ = viper.BindEnv("pipeline.owner_lock_enabled", "PIPELINE_OWNER_LOCK_ENABLED")
	_ = viper.BindEnv("pipeline.owner_lock_ttl", "PIPELINE_OWNER_LOCK_TTL")
	_ = viper.BindEnv("pipeline.ledger_ttl", "PIPELINE_LEDGER_TTL")
	_ = viper.BindEnv("sentry.dsn", "SENTRY_DSN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generations_per_hour", 10)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Collaborator defaults. The composer is the only long call.
	viper.SetDefault("registry.base_url", "http://localhost:8001")
	viper.SetDefault("registry.timeout", 10)
	viper.SetDefault("prompt.provider", "http")
	viper.SetDefault("prompt.base_url", "http://localhost:8001")
	viper.SetDefault("prompt.timeout", 30)
	viper.SetDefault("prompt.model", "gpt-4o-mini")
	viper.SetDefault("prompt.max_attempts", 3)
	viper.SetDefault("prompt.base_delay_ms", 1000)
	viper.SetDefault("composer.base_url", "http://localhost:8001")
	viper.SetDefault("composer.timeout", 240)
	viper.SetDefault("artifacts.base_url", "http://localhost:8001")
	viper.SetDefault("artifacts.timeout", 15)
	viper.SetDefault("connections.base_url", "http://localhost:8001")
	viper.SetDefault("connections.timeout", 10)

	viper.SetDefault("r2.url_expiry", 60)

	// Attempt history defaults
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.dsn", "mindtune.db?_pragma=busy_timeout(5000)")
	viper.SetDefault("database.debug", false)

	// Pipeline guard defaults
	viper.SetDefault("pipeline.owner_lock_enabled", false)
	viper.SetDefault("pipeline.owner_lock_ttl", 300)
	viper.SetDefault("pipeline.ledger_ttl", 24)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GenerationsPerHour: viper.GetInt("ratelimit.generations_per_hour"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Registry: ServiceConfig{
			BaseURL: viper.GetString("registry.base_url"),
			Timeout: viper.GetInt("registry.timeout"),
		},
		Prompt: PromptConfig{
			Provider:    viper.GetString("prompt.provider"),
			BaseURL:     viper.GetString("prompt.base_url"),
			Timeout:     viper.GetInt("prompt.timeout"),
			APIKey:      viper.GetString("prompt.api_key"),
			Model:       viper.GetString("prompt.model"),
			MaxAttempts: viper.GetInt("prompt.max_attempts"),
			BaseDelayMs: viper.GetInt("prompt.base_delay_ms"),
		},
		Composer: ServiceConfig{
			BaseURL: viper.GetString("composer.base_url"),
			Timeout: viper.GetInt("composer.timeout"),
		},
		Artifacts: ServiceConfig{
			BaseURL: viper.GetString("artifacts.base_url"),
			Timeout: viper.GetInt("artifacts.timeout"),
		},
		Connections: ServiceConfig{
			BaseURL: viper.GetString("connections.base_url"),
			Timeout: viper.GetInt("connections.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
			URLExpiry:       viper.GetInt("r2.url_expiry"),
		},
		Database: DatabaseConfig{
			Type:  viper.GetString("database.type"),
			DSN:   viper.GetString("database.dsn"),
			Debug: viper.GetBool("database.debug"),
		},
		Pipeline: PipelineConfig{
			OwnerLockEnabled: viper.GetBool("pipeline.owner_lock_enabled"),
			OwnerLockTTL:     viper.GetInt("pipeline.owner_lock_ttl"),
			LedgerTTL:        viper.GetInt("pipeline.ledger_ttl"),
		},
		Sentry: SentryConfig{
			DSN: viper.GetString("sentry.dsn"),
		},
	}

	return cfg, nil
}
