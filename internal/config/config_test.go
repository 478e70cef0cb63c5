package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:37780", cfg.ListenAddr())
	assert.Equal(t, 3, cfg.Engine.TopicDecayThreshold)
	assert.Equal(t, 5, cfg.Engine.ConceptDecayThreshold)
	assert.Equal(t, 2.0, cfg.Engine.RepetitionPenaltyBase)
	assert.InDelta(t, 1.0, cfg.Engine.MetadataWeight+cfg.Engine.SemanticWeight, 1e-9)
	assert.Equal(t, 1.0, cfg.Engine.MinRelevance)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 37780, cfg.Server.Port)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talefold.toml")
	content := `
[server]
port = 9999

[engine]
min_relevance = 2.5
story_limit = 5

[redis]
addr = "localhost:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Engine.MinRelevance)
	assert.Equal(t, 5, cfg.Engine.StoryLimit)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	// Untouched sections keep defaults.
	assert.Equal(t, 3, cfg.Engine.TopicDecayThreshold)
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talefold.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[["), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talefold.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9999\n"), 0644))

	t.Setenv("TALEFOLD_PORT", "8888")
	t.Setenv("TALEFOLD_LLM_PROVIDER", "ollama")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
}
