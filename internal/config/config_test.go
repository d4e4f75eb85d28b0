package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port '8080', got '%s'", cfg.Server.Port)
	}
	if cfg.Queue.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.Queue.BatchSize)
	}
	if cfg.Queue.MaxConsecutiveErrors != 20 {
		t.Errorf("expected 20 max consecutive errors, got %d", cfg.Queue.MaxConsecutiveErrors)
	}
	if cfg.Cache.SubscriptionsTTL != 24*time.Hour {
		t.Errorf("expected 24h subscriptions ttl, got %v", cfg.Cache.SubscriptionsTTL)
	}
	if cfg.Cache.HooksTTL != time.Hour {
		t.Errorf("expected 1h hooks ttl, got %v", cfg.Cache.HooksTTL)
	}
	if cfg.Webhook.MaxRetries != 3 {
		t.Errorf("expected 3 webhook retries, got %d", cfg.Webhook.MaxRetries)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("expected UTC reference timezone, got %v", cfg.Location())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("HOOKS_TTL", "15m")
	t.Setenv("ENV_SECRET", "s3cr3t")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port '9090', got '%s'", cfg.Server.Port)
	}
	if cfg.Queue.Driver != "memory" {
		t.Errorf("expected memory queue driver, got %s", cfg.Queue.Driver)
	}
	if cfg.Cache.HooksTTL != 15*time.Minute {
		t.Errorf("expected 15m hooks ttl, got %v", cfg.Cache.HooksTTL)
	}
	if cfg.Security.EnvSecret != "s3cr3t" {
		t.Errorf("expected env secret from environment, got %q", cfg.Security.EnvSecret)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beacon.yaml")
	content := []byte(`
cache:
  driver: badger
queue:
  driver: nats
  fifo: true
webhook:
  timezone: America/Sao_Paulo
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Cache.Driver != "badger" {
		t.Errorf("expected badger driver, got %s", cfg.Cache.Driver)
	}
	if cfg.Queue.Driver != "nats" || !cfg.Queue.FIFO {
		t.Errorf("expected nats fifo queue, got %s fifo=%v", cfg.Queue.Driver, cfg.Queue.FIFO)
	}
	if cfg.Location().String() != "America/Sao_Paulo" {
		t.Errorf("unexpected location %v", cfg.Location())
	}
	// Untouched keys keep their defaults.
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port, got %s", cfg.Server.Port)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("PORT", "7777")
	t.Setenv("CACHE_HOOKS_TTL", "5m")

	path := filepath.Join(t.TempDir(), "beacon.yaml")
	content := []byte(`
server:
  port: "9000"
cache:
  driver: badger
  hooks_ttl: 2h
queue:
  driver: kafka
  batch_size: 4
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"env beats file", cfg.Queue.Driver, "memory"},
		{"env beats file for port", cfg.Server.Port, "7777"},
		{"prefixed env name beats file", cfg.Cache.HooksTTL, 5 * time.Minute},
		{"file beats default", cfg.Cache.Driver, "badger"},
		{"file beats default for batch", cfg.Queue.BatchSize, 4},
		{"default when neither is set", cfg.Queue.MaxConsecutiveErrors, 20},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadFromFile_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("nope: 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"unknown queue driver", func(c *Config) { c.Queue.Driver = "sqs" }},
		{"no kafka brokers", func(c *Config) { c.Queue.KafkaBrokers = " , " }},
		{"zero batch", func(c *Config) { c.Queue.BatchSize = 0 }},
		{"zero breaker", func(c *Config) { c.Queue.MaxConsecutiveErrors = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.HooksTTL = 0 }},
		{"bad timezone", func(c *Config) { c.Webhook.Timezone = "Mars/Olympus" }},
		{"vault without address", func(c *Config) { c.Vault.Enabled = true; c.Vault.Address = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := &Config{Queue: QueueConfig{KafkaBrokers: "a:9092, b:9092,,"}}
	got := cfg.KafkaBrokerList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("unexpected broker list %v", got)
	}
}

func TestNewVaultClient_Disabled(t *testing.T) {
	client, err := NewVaultClient(&VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Error("expected nil client when vault is disabled")
	}
}

func TestNewVaultClient_NoToken(t *testing.T) {
	_, err := NewVaultClient(&VaultConfig{Enabled: true, Address: "http://localhost:8200"})
	if err == nil {
		t.Fatal("expected error when token is not configured")
	}
}

func TestGetVaultToken_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("hvs.abc\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}
	token, err := (&VaultConfig{TokenPath: path}).GetVaultToken()
	if err != nil {
		t.Fatalf("GetVaultToken: %v", err)
	}
	if token != "hvs.abc" {
		t.Errorf("expected trimmed token, got %q", token)
	}
}

func TestVaultClient_GetSecret_NilClient(t *testing.T) {
	var vc *VaultClient
	if _, err := vc.GetSecret(context.Background(), "beacon/env"); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestApplyVaultSecrets_NilClient(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EnvSecret: "original", VaultPath: "beacon/env"}}
	if err := ApplyVaultSecrets(context.Background(), cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.EnvSecret != "original" {
		t.Errorf("secret should be untouched, got %q", cfg.Security.EnvSecret)
	}
}
