package secrets

import (
	"context"
	"errors"
	"fmt"

	"ai-companion-demo/backend/pkg/cache"
	"ai-companion-demo/backend/pkg/config"
	"ai-companion-demo/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// kvReader is the slice of the Vault KV v2 API the manager needs
type kvReader interface {
	Get(ctx context.Context, path string) (*vault.KVSecret, error)
}

// VaultManager reads provider keys and database credentials from Vault,
// caching them and falling back to the environment
type VaultManager struct {
	kv    kvReader
	path  string
	cache *cache.Cache
	env   EnvManager
	log   *logger.Logger
}

// NewManager returns a Vault-backed manager when Vault is enabled, and an
// environment-only manager otherwise
func NewManager(cfg *config.Config, secretCache *cache.Cache, log *logger.Logger) (Manager, error) {
	if !cfg.Vault.Enabled {
		return EnvManager{}, nil
	}
	return NewVaultManager(cfg, secretCache, log)
}

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(cfg *config.Config, secretCache *cache.Cache, log *logger.Logger) (*VaultManager, error) {
	if cfg.Vault.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Vault.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Vault.Address
	vaultConfig.Timeout = cfg.Vault.Timeout
	vaultConfig.MaxRetries = cfg.Vault.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Vault.Token)
	if cfg.Vault.Namespace != "" {
		client.SetNamespace(cfg.Vault.Namespace)
	}

	return newVaultManager(client.KVv2("secret"), cfg.Vault.SecretsPath, secretCache, log), nil
}

func newVaultManager(kv kvReader, path string, secretCache *cache.Cache, log *logger.Logger) *VaultManager {
	if secretCache == nil {
		secretCache = cache.New(cache.Options{})
	}
	return &VaultManager{
		kv:    kv,
		path:  path,
		cache: secretCache,
		log:   log,
	}
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := m.cache.GetString(key); ok {
		return value, nil
	}

	value, err := m.getFromVault(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
		value, err = m.env.GetSecret(ctx, key)
	}
	if err != nil {
		return "", err
	}

	m.cache.Set(key, value)
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Failed to get secret, using default value",
				"key", key,
				"error", err.Error(),
			)
		}
		return defaultValue
	}
	return value
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.kv.Get(ctx, m.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
