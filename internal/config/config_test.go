package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsArePopulated(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 200_000, cfg.Store.ContextWindowTokens)
	assert.InDelta(t, 0.85, cfg.Store.HighWatermark, 1e-9)
	assert.Equal(t, 82, cfg.Overlay.Width)
	assert.Equal(t, "file", cfg.Retrieval.IndexBackend)
	assert.Equal(t, "inprocess", cfg.Bus.Backend)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  high_watermark: 0.9\nretrieval:\n  index_backend: qdrant\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cfg.Store.HighWatermark, 1e-9)
	assert.Equal(t, "qdrant", cfg.Retrieval.IndexBackend)
	// Unset fields still carry their defaults.
	assert.Equal(t, 200_000, cfg.Store.ContextWindowTokens)
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	cfg := Defaults()
	cfg.ResolveSecrets()
	assert.Equal(t, "sk-test-123", cfg.Providers.Anthropic.APIKey)
}
