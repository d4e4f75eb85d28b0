package config

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultClient wraps the HashiCorp Vault client.
type VaultClient struct {
	client *vault.Client
	mount  string
}

// NewVaultClient creates a Vault client, or returns nil when Vault is
// disabled.
func NewVaultClient(cfg *VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	token, err := cfg.GetVaultToken()
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return &VaultClient{client: client, mount: mount}, nil
}

// GetSecret reads a KV v2 secret.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client is not initialized")
	}

	secret, err := vc.client.KVv2(vc.mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}
	return secret.Data, nil
}

// ApplyVaultSecrets overwrites secret configuration values with the ones
// stored in Vault. A nil client is a no-op.
func ApplyVaultSecrets(ctx context.Context, cfg *Config, vc *VaultClient) error {
	if vc == nil {
		return nil
	}

	if cfg.Security.VaultPath != "" {
		secret, err := vc.GetSecret(ctx, cfg.Security.VaultPath)
		if err != nil {
			return fmt.Errorf("get environment secret: %w", err)
		}
		if v, ok := secret["env_secret"].(string); ok {
			cfg.Security.EnvSecret = v
		}
		if v, ok := secret["redis_password"].(string); ok {
			cfg.Cache.RedisPassword = v
		}
		if v, ok := secret["database_url"].(string); ok {
			cfg.Database.URL = v
		}
	}
	return nil
}
