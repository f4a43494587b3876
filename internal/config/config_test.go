package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 8, cfg.Classifier.TopK)
	require.InDelta(t, 0.15, cfg.Classifier.MarginThreshold, 1e-9)
	require.InDelta(t, 0.4, cfg.Classifier.ConfidenceFloor, 1e-9)
	require.Equal(t, 1, cfg.Classifier.MaxReclassificationDepth)
	require.Equal(t, "ollama", cfg.Embedding.Provider)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Classifier.TopK, cfg.Classifier.TopK)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
classifier:
  top_k: 5
  margin_threshold: 0.25
arbiter:
  daily_budget: 100
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Classifier.TopK)
	require.InDelta(t, 0.25, cfg.Classifier.MarginThreshold, 1e-9)
	require.EqualValues(t, 100, cfg.Arbiter.DailyBudget)
	// Untouched sections keep defaults.
	require.Equal(t, "gemini", cfg.Arbiter.Provider)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STACKSBOT_MARGIN_THRESHOLD", "0.3")
	t.Setenv("STACKSBOT_TOP_K", "12")
	t.Setenv("STACKSBOT_ARBITER_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.InDelta(t, 0.3, cfg.Classifier.MarginThreshold, 1e-9)
	require.Equal(t, 12, cfg.Classifier.TopK)
	require.Equal(t, "test-key", cfg.Arbiter.APIKey)
}

func TestGeminiKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "shared-key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "shared-key", cfg.Arbiter.APIKey)
	require.Equal(t, "shared-key", cfg.Embedding.GenAIAPIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero top_k", func(c *Config) { c.Classifier.TopK = 0 }},
		{"margin above one", func(c *Config) { c.Classifier.MarginThreshold = 1.5 }},
		{"negative floor", func(c *Config) { c.Classifier.ConfidenceFloor = -0.1 }},
		{"negative depth", func(c *Config) { c.Classifier.MaxReclassificationDepth = -1 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert" }},
		{"negative budget", func(c *Config) { c.Arbiter.DailyBudget = -1 }},
		{"missing catalog", func(c *Config) { c.Catalog.Path = "/does/not/exist.yaml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestTimeoutAccessors(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 10*time.Second, cfg.GetArbiterTimeout())

	cfg.Arbiter.Timeout = "bogus"
	require.Equal(t, 10*time.Second, cfg.GetArbiterTimeout())

	cfg.Arbiter.Timeout = "3s"
	require.Equal(t, 3*time.Second, cfg.GetArbiterTimeout())

	cfg.Session.TTL = "1h"
	require.Equal(t, time.Hour, cfg.GetSessionTTL())
}
