/**
 * @description
 * This package handles the configuration management for the payout-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env
 * file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort              = "4000"
	defaultWorldpayBaseURL   = "https://try.access.worldpay.com/account-payouts/v1"
	defaultWorldpayVersion   = "2024-06-01"
	defaultMerchantEntity    = "default"
	defaultRedisKeyPrefix    = "payouts"
	defaultEventsExchange    = "payouts.events"
	defaultReconcileSchedule = "@every 5m"
)

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	AutoMigrate          bool   `mapstructure:"AUTO_MIGRATE"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix       string `mapstructure:"REDIS_KEY_PREFIX"`
	RateLimitPerMinute   int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	LoginLimitPerMinute  int    `mapstructure:"RATE_LIMIT_LOGIN_PER_MINUTE"`
	SubmitLimitPerMinute int    `mapstructure:"RATE_LIMIT_SUBMIT_PER_MINUTE"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	PayoutEventsExchange string `mapstructure:"PAYOUT_EVENTS_EXCHANGE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	JWTTTLHours          int    `mapstructure:"JWT_TTL_HOURS"`
	CORSAllowedOrigins   string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	WorldpayBaseURL         string `mapstructure:"WORLDPAY_BASE_URL"`
	WorldpayUsername        string `mapstructure:"WORLDPAY_USERNAME"`
	WorldpayPassword        string `mapstructure:"WORLDPAY_PASSWORD"`
	WorldpayServiceKey      string `mapstructure:"WORLDPAY_SERVICE_KEY"`
	WorldpayMerchantEntity  string `mapstructure:"WORLDPAY_MERCHANT_ENTITY"`
	WorldpayAPIVersion      string `mapstructure:"WORLDPAY_API_VERSION"`
	WorldpayTimeoutSeconds  int    `mapstructure:"WORLDPAY_TIMEOUT_SECONDS"`
	WorldpayIdempotencyMode string `mapstructure:"WORLDPAY_IDEMPOTENCY_MODE"`

	RefreshLockTTLSeconds  int    `mapstructure:"REFRESH_LOCK_TTL_SECONDS"`
	ReconcileSchedule      string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileBatchSize     int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	ReconcileMinAgeSeconds int    `mapstructure:"RECONCILE_MIN_AGE_SECONDS"`

	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	AdminName     string `mapstructure:"ADMIN_NAME"`
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultPort)
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_KEY_PREFIX", defaultRedisKeyPrefix)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 100)
	viper.SetDefault("RATE_LIMIT_LOGIN_PER_MINUTE", 10)
	viper.SetDefault("RATE_LIMIT_SUBMIT_PER_MINUTE", 10)
	viper.SetDefault("PAYOUT_EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("JWT_TTL_HOURS", 8)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("WORLDPAY_BASE_URL", defaultWorldpayBaseURL)
	viper.SetDefault("WORLDPAY_MERCHANT_ENTITY", defaultMerchantEntity)
	viper.SetDefault("WORLDPAY_API_VERSION", defaultWorldpayVersion)
	viper.SetDefault("WORLDPAY_TIMEOUT_SECONDS", 15)
	viper.SetDefault("WORLDPAY_IDEMPOTENCY_MODE", "random")
	viper.SetDefault("REFRESH_LOCK_TTL_SECONDS", 30)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 50)
	viper.SetDefault("RECONCILE_MIN_AGE_SECONDS", 120)
	viper.SetDefault("ADMIN_EMAIL", "admin@example.com")
	viper.SetDefault("ADMIN_NAME", "Super Admin")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RATE_LIMIT_LOGIN_PER_MINUTE")
	_ = viper.BindEnv("RATE_LIMIT_SUBMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYOUT_EVENTS_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "AUTH_JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_HOURS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("WORLDPAY_BASE_URL")
	_ = viper.BindEnv("WORLDPAY_USERNAME")
	_ = viper.BindEnv("WORLDPAY_PASSWORD")
	_ = viper.BindEnv("WORLDPAY_SERVICE_KEY")
	_ = viper.BindEnv("WORLDPAY_MERCHANT_ENTITY", "WORLDPAY_MERCHANT_ENTITY", "WORLDPAY_MERCHANT_ID")
	_ = viper.BindEnv("WORLDPAY_API_VERSION")
	_ = viper.BindEnv("WORLDPAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("WORLDPAY_IDEMPOTENCY_MODE")
	_ = viper.BindEnv("REFRESH_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")
	_ = viper.BindEnv("RECONCILE_MIN_AGE_SECONDS")
	_ = viper.BindEnv("ADMIN_EMAIL")
	_ = viper.BindEnv("ADMIN_PASSWORD")
	_ = viper.BindEnv("ADMIN_NAME")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.ServerPort = strings.TrimSpace(config.ServerPort)
	if config.ServerPort == "" {
		config.ServerPort = defaultPort
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = defaultRedisKeyPrefix
	}
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.PayoutEventsExchange = strings.TrimSpace(config.PayoutEventsExchange)
	if config.PayoutEventsExchange == "" {
		config.PayoutEventsExchange = defaultEventsExchange
	}
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	config.WorldpayBaseURL = strings.TrimRight(strings.TrimSpace(config.WorldpayBaseURL), "/")
	if config.WorldpayBaseURL == "" {
		config.WorldpayBaseURL = defaultWorldpayBaseURL
	}
	config.WorldpayUsername = strings.TrimSpace(config.WorldpayUsername)
	config.WorldpayServiceKey = strings.TrimSpace(config.WorldpayServiceKey)
	config.WorldpayMerchantEntity = strings.TrimSpace(config.WorldpayMerchantEntity)
	if config.WorldpayMerchantEntity == "" {
		config.WorldpayMerchantEntity = defaultMerchantEntity
	}
	config.WorldpayAPIVersion = strings.TrimSpace(config.WorldpayAPIVersion)
	if config.WorldpayAPIVersion == "" {
		config.WorldpayAPIVersion = defaultWorldpayVersion
	}
	config.WorldpayIdempotencyMode = strings.ToLower(strings.TrimSpace(config.WorldpayIdempotencyMode))
	if config.WorldpayIdempotencyMode != "random" && config.WorldpayIdempotencyMode != "payout" {
		log.Printf("level=warn component=config msg=\"unknown idempotency mode; using random\" value=%q", config.WorldpayIdempotencyMode)
		config.WorldpayIdempotencyMode = "random"
	}

	if config.WorldpayTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive gateway timeout; using default\" value=%d", config.WorldpayTimeoutSeconds)
		config.WorldpayTimeoutSeconds = 15
	}
	if config.RateLimitPerMinute < 0 {
		config.RateLimitPerMinute = 0
	}
	if config.LoginLimitPerMinute < 0 {
		config.LoginLimitPerMinute = 0
	}
	if config.SubmitLimitPerMinute < 0 {
		config.SubmitLimitPerMinute = 0
	}
	if config.RateLimitPerMinute > 0 && config.SubmitLimitPerMinute > config.RateLimitPerMinute {
		log.Printf("level=warn component=config msg=\"submit limit exceeds api limit; capping\" submit=%d api=%d", config.SubmitLimitPerMinute, config.RateLimitPerMinute)
		config.SubmitLimitPerMinute = config.RateLimitPerMinute
	}
	if config.JWTTTLHours <= 0 {
		config.JWTTTLHours = 8
	}
	if config.RefreshLockTTLSeconds <= 0 {
		config.RefreshLockTTLSeconds = 30
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	if config.ReconcileSchedule == "" {
		config.ReconcileSchedule = defaultReconcileSchedule
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = 50
	}
	if config.ReconcileMinAgeSeconds < 0 {
		config.ReconcileMinAgeSeconds = 0
	}

	config.AdminEmail = strings.ToLower(strings.TrimSpace(config.AdminEmail))
	config.AdminName = strings.TrimSpace(config.AdminName)

	return
}

// HasWorldpayCredentials reports whether live gateway credentials are configured.
func (c Config) HasWorldpayCredentials() bool {
	return (c.WorldpayUsername != "" && c.WorldpayPassword != "") || c.WorldpayServiceKey != ""
}

// WorldpayTimeout returns the per-request gateway timeout.
func (c Config) WorldpayTimeout() time.Duration {
	return time.Duration(c.WorldpayTimeoutSeconds) * time.Second
}

// JWTTTL returns the session token lifetime.
func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

// RefreshLockTTL returns the expiry of per-payout refresh locks.
func (c Config) RefreshLockTTL() time.Duration {
	return time.Duration(c.RefreshLockTTLSeconds) * time.Second
}

// ReconcileMinAge returns how long a payout must be idle before reconciliation touches it.
func (c Config) ReconcileMinAge() time.Duration {
	return time.Duration(c.ReconcileMinAgeSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into a list.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
