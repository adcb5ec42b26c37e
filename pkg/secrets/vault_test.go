package secrets

import (
	"context"
	"errors"
	"testing"

	"ai-companion-demo/backend/pkg/cache"
	"ai-companion-demo/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	data  map[string]any
	err   error
	calls int
}

func (f *fakeKV) Get(_ context.Context, _ string) (*vault.KVSecret, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &vault.KVSecret{Data: f.data}, nil
}

func TestVaultManagerCachesSecrets(t *testing.T) {
	kv := &fakeKV{data: map[string]any{"llm_api_key": "sk-vault"}}
	m := newVaultManager(kv, "companion-app", cache.New(cache.Options{}), logger.Nop())

	for n := 0; n < 3; n++ {
		v, err := m.GetSecret(context.Background(), "llm_api_key")
		require.NoError(t, err)
		assert.Equal(t, "sk-vault", v)
	}
	assert.Equal(t, 1, kv.calls)
}

func TestVaultManagerFallsBackToEnvironment(t *testing.T) {
	t.Setenv("IMAGE_API_KEY", "sk-env")
	m := newVaultManager(&fakeKV{data: map[string]any{}}, "companion-app", nil, logger.Nop())

	v, err := m.GetSecret(context.Background(), "image_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)

	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "missing_key", "fallback"))
}

func TestVaultManagerPropagatesTransportErrors(t *testing.T) {
	m := newVaultManager(&fakeKV{err: errors.New("connection refused")}, "p", nil, logger.Nop())

	_, err := m.GetSecret(context.Background(), "llm_api_key")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "LLM_API_KEY", EnvKey("llm-api.key"))
}
