package config

import (
	"testing"
	"time"
)

func validBase(env string) Config {
	return Config{
		App:      AppConfig{Env: env, Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Provider: ProviderConfig{BaseURL: "https://api.bolna.dev", APIKey: "key"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase("production")
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase("local")
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_SchedulerDefaults(t *testing.T) {
	c := validBase("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Scheduler.DispatchInterval != 2*time.Second {
		t.Fatalf("expected dispatch interval default 2s, got %v", c.Scheduler.DispatchInterval)
	}
	if c.Scheduler.MaxAttempts != 3 {
		t.Fatalf("expected max attempts default 3, got %d", c.Scheduler.MaxAttempts)
	}
	if c.Scheduler.SystemConcurrencyLimit != 50 {
		t.Fatalf("expected system limit default 50, got %d", c.Scheduler.SystemConcurrencyLimit)
	}
	if c.Scheduler.ProcessingTimeout <= c.Provider.PlacementTimeout {
		t.Fatalf("processing timeout default must exceed placement timeout")
	}
}

func TestValidate_RejectsUserLimitAboveSystemLimit(t *testing.T) {
	c := validBase("local")
	c.Scheduler.SystemConcurrencyLimit = 5
	c.Scheduler.DefaultUserConcurrencyLimit = 10
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when user limit exceeds system limit")
	}
}

func TestValidate_RejectsBackoffCapBelowBase(t *testing.T) {
	c := validBase("local")
	c.Scheduler.RetryBackoffBase = time.Minute
	c.Scheduler.RetryBackoffCap = time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when backoff cap below base")
	}
}

func TestValidate_ProductionRequiresWebhookSecret(t *testing.T) {
	c := validBase("production")
	c.Auth.JWTIssuer = "dialer"
	c.Auth.JWTAudience = "dialer-api"
	c.Provider.WebhookSecret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without BOLNA_WEBHOOK_SECRET")
	}
}
