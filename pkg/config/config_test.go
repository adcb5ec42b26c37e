package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LLM_API_KEY", "LLM_MODEL", "LLM_TEMPERATURE", "IMAGE_API_KEY", "IMAGE_SIZE", "PROVIDER_TIMEOUT", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := Load()

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.Image.APIKey, "image key falls back to the LLM key")
	assert.Equal(t, "256x256", cfg.Image.Size)
	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	assert.Nil(t, cfg.LLM.Temperature)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8090")
	t.Setenv("LLM_API_KEY", "primary")
	t.Setenv("OPENAI_API_KEY", "legacy")
	t.Setenv("LLM_TEMPERATURE", "0.4")
	t.Setenv("PROVIDER_TIMEOUT", "15s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("CHATLOG_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "primary", cfg.LLM.APIKey)
	require.NotNil(t, cfg.LLM.Temperature)
	assert.InDelta(t, 0.4, *cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 4, cfg.ChatLog.Workers, "invalid values keep the default")
}

func TestDSN(t *testing.T) {
	cfg := Load()
	cfg.Database.DSN = ""
	cfg.Database.Host = "db.example.supabase.co"
	cfg.Database.Timeout = 5 * time.Second

	assert.Contains(t, cfg.DSN(), "host=db.example.supabase.co")
	assert.Contains(t, cfg.DSN(), "connect_timeout=5")

	cfg.Database.DSN = "postgres://u:p@h:5432/db"
	assert.Equal(t, "postgres://u:p@h:5432/db", cfg.DSN())
}
