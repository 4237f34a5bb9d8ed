package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: deepseek
  base_url: https://api.example.com/v1
  api_key: dummy
  model: deepseek-chat
server:
  host: 127.0.0.1
  port: "9000"
context:
  max_session_tokens: 2000
  max_turns: 10
geo:
  radius_km: 250
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644)
	require.NoError(t, err)
	t.Setenv("CONFIG_PATH", dir)
}

// TestLoad_File verifies that file values override defaults while untouched
// keys keep theirs.
func TestLoad_File(t *testing.T) {
	writeConfig(t, sampleConfig)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, "https://api.example.com/v1", cfg.LLM.BaseURL)
	require.Equal(t, 2000, cfg.Context.MaxSessionTokens)
	require.Equal(t, 10, cfg.Context.MaxTurns)
	require.Equal(t, 250.0, cfg.Geo.RadiusKm)

	// defaults fill everything the file does not mention
	require.Equal(t, 1000, cfg.Context.MaxMessageTokens)
	require.Equal(t, 1000, cfg.Safety.MaxRows)
	require.Equal(t, 1, cfg.Safety.RepromptAttempts)
	require.Equal(t, 512, cfg.LLM.MaxTokens)
}

// TestLoad_Defaults verifies that a missing config file is fine.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8000", cfg.Server.Port)
	require.Equal(t, 4000, cfg.Context.MaxSessionTokens)
	require.Equal(t, 20, cfg.Context.MaxTurns)
	require.Equal(t, 500.0, cfg.Geo.RadiusKm)
	require.Equal(t, 1000, cfg.Safety.MaxRows)
	require.Equal(t, "0 3 * * *", cfg.Retention.Schedule)
}

// TestLoad_EnvOverride verifies ARGOCHAT_ environment overrides.
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())
	t.Setenv("ARGOCHAT_LLM_API_KEY", "sk-env")
	t.Setenv("ARGOCHAT_SERVER_PORT", "8123")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "sk-env", cfg.LLM.APIKey)
	require.Equal(t, "8123", cfg.Server.Port)
}

// TestValidate_Rejects verifies bad tunables fail loudly.
func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero session tokens", func(c *Config) { c.Context.MaxSessionTokens = 0 }},
		{"one retained turn", func(c *Config) { c.Context.MaxTurns = 1 }},
		{"negative radius", func(c *Config) { c.Geo.RadiusKm = -1 }},
		{"zero row cap", func(c *Config) { c.Safety.MaxRows = 0 }},
		{"negative reprompts", func(c *Config) { c.Safety.RepromptAttempts = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", t.TempDir())
			cfg, err := Load()
			require.NoError(t, err)
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
