package config

import (
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "paircall", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "paircall", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_AppliesCallAndMatchDefaults(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "paircall"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Match.QueueTTL != 2*time.Minute {
		t.Fatalf("expected queue ttl default 2m, got %v", c.Match.QueueTTL)
	}
	if c.Match.RequestsPerMinute != 30 {
		t.Fatalf("expected request limit default 30, got %d", c.Match.RequestsPerMinute)
	}
	if c.Call.RingTimeout != 30*time.Second {
		t.Fatalf("expected ring timeout default 30s, got %v", c.Call.RingTimeout)
	}
	if c.Call.ConnectTimeout != 20*time.Second {
		t.Fatalf("expected connect timeout default 20s, got %v", c.Call.ConnectTimeout)
	}
	if c.Call.DisconnectGrace != 6*time.Second {
		t.Fatalf("expected disconnect grace default 6s, got %v", c.Call.DisconnectGrace)
	}
	if c.Call.MaxDuration != 90*time.Minute {
		t.Fatalf("expected max duration default 90m, got %v", c.Call.MaxDuration)
	}
	if len(c.Call.STUNURLs) == 0 {
		t.Fatalf("expected default STUN servers")
	}
}

func TestValidate_RejectsRefreshShorterThanAccess(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "paircall"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth: AuthConfig{
			JWTSecret:       "secret",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: time.Minute,
		},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when refresh ttl <= access ttl")
	}
}
