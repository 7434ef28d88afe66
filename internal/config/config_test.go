package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT", "SERVER_PORT", "WORLDPAY_BASE_URL", "WORLDPAY_TIMEOUT_SECONDS",
		"WORLDPAY_USERNAME", "WORLDPAY_PASSWORD", "WORLDPAY_SERVICE_KEY",
		"WORLDPAY_MERCHANT_ENTITY", "WORLDPAY_MERCHANT_ID", "WORLDPAY_IDEMPOTENCY_MODE",
		"JWT_TTL_HOURS", "RATE_LIMIT_PER_MINUTE", "REDIS_KEY_PREFIX",
		"RATE_LIMIT_LOGIN_PER_MINUTE", "RATE_LIMIT_SUBMIT_PER_MINUTE",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "4000" {
		t.Fatalf("expected default port 4000, got %q", cfg.ServerPort)
	}
	if cfg.WorldpayBaseURL != defaultWorldpayBaseURL {
		t.Fatalf("expected default base url, got %q", cfg.WorldpayBaseURL)
	}
	if cfg.WorldpayTimeout() != 15*time.Second {
		t.Fatalf("expected 15s gateway timeout, got %s", cfg.WorldpayTimeout())
	}
	if cfg.JWTTTL() != 8*time.Hour {
		t.Fatalf("expected 8h token ttl, got %s", cfg.JWTTTL())
	}
	if cfg.RateLimitPerMinute != 100 {
		t.Fatalf("expected 100 requests per minute, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.LoginLimitPerMinute != 10 || cfg.SubmitLimitPerMinute != 10 {
		t.Fatalf("expected 10/min login and submit limits, got %d and %d", cfg.LoginLimitPerMinute, cfg.SubmitLimitPerMinute)
	}
	if cfg.WorldpayMerchantEntity != "default" {
		t.Fatalf("expected default merchant entity, got %q", cfg.WorldpayMerchantEntity)
	}
	if cfg.WorldpayIdempotencyMode != "random" {
		t.Fatalf("expected random idempotency mode, got %q", cfg.WorldpayIdempotencyMode)
	}
	if cfg.HasWorldpayCredentials() {
		t.Fatalf("expected no gateway credentials by default")
	}
	if cfg.RedisKeyPrefix != "payouts" {
		t.Fatalf("expected payouts key prefix, got %q", cfg.RedisKeyPrefix)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8081")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_MerchantAndJWTAliases(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "WORLDPAY_MERCHANT_ENTITY")
	unsetEnvWithCleanup(t, "JWT_SECRET")
	setEnvWithCleanup(t, "WORLDPAY_MERCHANT_ID", "merchant-alias")
	setEnvWithCleanup(t, "AUTH_JWT_SECRET", "alias-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WorldpayMerchantEntity != "merchant-alias" {
		t.Fatalf("expected merchant entity from alias, got %q", cfg.WorldpayMerchantEntity)
	}
	if cfg.JWTSecret != "alias-secret" {
		t.Fatalf("expected jwt secret from alias, got %q", cfg.JWTSecret)
	}
}

func TestLoadConfig_CoercesBadValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "WORLDPAY_TIMEOUT_SECONDS", "-3")
	setEnvWithCleanup(t, "WORLDPAY_IDEMPOTENCY_MODE", "sometimes")
	setEnvWithCleanup(t, "WORLDPAY_BASE_URL", " https://example.test/payouts/v1/ ")
	setEnvWithCleanup(t, "REDIS_KEY_PREFIX", "svc:")
	setEnvWithCleanup(t, "RATE_LIMIT_PER_MINUTE", "30")
	setEnvWithCleanup(t, "RATE_LIMIT_SUBMIT_PER_MINUTE", "50")
	setEnvWithCleanup(t, "RATE_LIMIT_LOGIN_PER_MINUTE", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WorldpayTimeoutSeconds != 15 {
		t.Fatalf("expected timeout coerced to 15, got %d", cfg.WorldpayTimeoutSeconds)
	}
	if cfg.WorldpayIdempotencyMode != "random" {
		t.Fatalf("expected idempotency mode coerced to random, got %q", cfg.WorldpayIdempotencyMode)
	}
	if cfg.WorldpayBaseURL != "https://example.test/payouts/v1" {
		t.Fatalf("expected trimmed base url, got %q", cfg.WorldpayBaseURL)
	}
	if cfg.RedisKeyPrefix != "svc" {
		t.Fatalf("expected trailing colon trimmed, got %q", cfg.RedisKeyPrefix)
	}
	if cfg.SubmitLimitPerMinute != 30 {
		t.Fatalf("expected submit limit capped at the api limit, got %d", cfg.SubmitLimitPerMinute)
	}
	if cfg.LoginLimitPerMinute != 0 {
		t.Fatalf("expected negative login limit coerced to 0, got %d", cfg.LoginLimitPerMinute)
	}
}

func TestLoadConfig_CredentialsSelectLiveMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "WORLDPAY_SERVICE_KEY")
	setEnvWithCleanup(t, "WORLDPAY_USERNAME", "user")
	setEnvWithCleanup(t, "WORLDPAY_PASSWORD", "pass")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.HasWorldpayCredentials() {
		t.Fatalf("expected username/password to count as credentials")
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " http://a.test , ,http://b.test"}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
