package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Common placeholder values that should never reach a live exchange
var commonPlaceholders = []string{
	"changeme",
	"changeme_in_production",
	"your_api_key",
	"your_secret",
	"test",
	"test123",
	"example",
	"sample",
	"demo",
	"default",
}

// VaultClient wraps the HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	path   string
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(token)

	log.Info().
		Str("address", vaultCfg.Address).
		Str("path", cfg.Path).
		Msg("Vault client initialized")

	return &VaultClient{client: client, path: cfg.Path}, nil
}

// GetSecretString retrieves a single string value from the configured path
func (vc *VaultClient) GetSecretString(ctx context.Context, key string) (string, error) {
	secret, err := vc.client.Logical().ReadWithContext(ctx, vc.path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return "", fmt.Errorf("secret not found at path: %s", vc.path)
	}

	// For KV v2, secrets are nested under "data"
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key '%s' not found or not a string at path: %s", key, vc.path)
	}
	return value, nil
}

// LoadSecrets resolves credentials into the config. Environment variables win
// over the config file; Vault (when enabled) wins over both. Missing Vault
// keys degrade to a warning so paper mode keeps working without a Vault
// deployment.
func LoadSecrets(ctx context.Context, cfg *Config) error {
	if v := os.Getenv("TRADEPILOT_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("TRADEPILOT_EXCHANGE_SECRET_KEY"); v != "" {
		cfg.Exchange.SecretKey = v
	}
	if v := os.Getenv("TRADEPILOT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TRADEPILOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Alerts.TelegramToken = v
	}
	if v := os.Getenv("TRADEPILOT_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if cfg.Vault.Enabled {
		vc, err := NewVaultClient(cfg.Vault)
		if err != nil {
			return fmt.Errorf("failed to create Vault client: %w", err)
		}

		if key, err := vc.GetSecretString(ctx, "api_key"); err == nil {
			cfg.Exchange.APIKey = key
		} else {
			log.Warn().Err(err).Msg("Exchange api_key not loaded from Vault")
		}
		if secret, err := vc.GetSecretString(ctx, "secret_key"); err == nil {
			cfg.Exchange.SecretKey = secret
		} else {
			log.Warn().Err(err).Msg("Exchange secret_key not loaded from Vault")
		}
	}

	if cfg.Trading.Mode == "live" {
		if err := checkNotPlaceholder("exchange.api_key", cfg.Exchange.APIKey); err != nil {
			return err
		}
		if err := checkNotPlaceholder("exchange.secret_key", cfg.Exchange.SecretKey); err != nil {
			return err
		}
	}

	return nil
}

// checkNotPlaceholder rejects well-known placeholder credentials
func checkNotPlaceholder(field, value string) error {
	lowered := strings.ToLower(strings.TrimSpace(value))
	for _, p := range commonPlaceholders {
		if lowered == p {
			return ValidationErrors{{
				Field:   field,
				Message: fmt.Sprintf("Placeholder value %q must not be used in live mode", value),
			}}
		}
	}
	if len(value) < 16 {
		return ValidationErrors{{
			Field:   field,
			Message: "Credential is too short for a live exchange key",
		}}
	}
	return nil
}
