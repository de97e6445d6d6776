package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAppliedWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 100, cfg.Service.MaxConcurrentRequests)
	require.Equal(t, 0.5, cfg.Retrieval.DefaultAlpha)
	require.Equal(t, 10, cfg.Retrieval.DefaultTopK)
	require.Equal(t, 5, cfg.Rewrite.MaxHistoryTurns)
	require.True(t, cfg.Rewrite.EnableExpansion)
	require.Equal(t, []string{"anthropic", "openai"}, cfg.LLM.ProviderPriority)
	require.Equal(t, 10000, cfg.Embedding.CacheMax)
	require.Equal(t, 60*time.Second, cfg.Resilience.Embedding.RecoveryTimeout)
	require.Equal(t, 5, cfg.Resilience.Embedding.FailureThreshold)
	require.Equal(t, 10*time.Second, cfg.Resilience.VectorStore.Timeout)
	require.Equal(t, 5, cfg.Resilience.VectorStore.FailureThreshold, "field must not be the zero value: confirms the vectorstore_search key matches the struct tag rather than nesting under a stray 'vectorstore.search' dotted path")

	require.Equal(t, "ollama", cfg.Embedding.Provider)
	require.Equal(t, "chromem", cfg.VectorStore.Backend)
	require.True(t, cfg.Rerank.Enabled)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
retrieval:
  default_alpha: 0.7
  default_top_k: 20
rewrite:
  max_history_turns: 8
  enable_expansion: false
resilience:
  rerank:
    max_retries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 0.7, cfg.Retrieval.DefaultAlpha)
	require.Equal(t, 20, cfg.Retrieval.DefaultTopK)
	require.Equal(t, 8, cfg.Rewrite.MaxHistoryTurns)
	require.False(t, cfg.Rewrite.EnableExpansion)
	require.Equal(t, 5, cfg.Resilience.Rerank.MaxRetries)
	// untouched default still applied
	require.Equal(t, 100, cfg.Service.MaxConcurrentRequests)
}

func TestConfig_ResilienceForMapsKnownServiceKeys(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, cfg.Resilience.VectorStore, cfg.ResilienceFor("vectorstore.search"))
	require.Equal(t, cfg.Resilience.Embedding, cfg.ResilienceFor("embedding"))
	require.Equal(t, ResilienceConfig{}, cfg.ResilienceFor("unknown"))
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
