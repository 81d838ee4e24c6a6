package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAIEnabled(t *testing.T) {
	p := &Profile{}
	assert.False(t, p.IsAIEnabled())

	p.LLMAPIKey = "key"
	assert.True(t, p.IsAIEnabled())
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("KBASE_AI_LLM_PROVIDER", "")
	t.Setenv("KBASE_AI_LLM_API_KEY", "")
	t.Setenv("KBASE_AI_LLM_BASE_URL", "")
	t.Setenv("KBASE_AI_LLM_MODEL", "")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	assert.Equal(t, "gpt-4o-mini", p.LLMModel)
	assert.Equal(t, 120, p.LLMTimeout)
	assert.Equal(t, 1536, p.EmbeddingDimensions)
	assert.Equal(t, 8000, p.MaxContextTokens)
	assert.Equal(t, 1000, p.ResponseHeadroom)
	assert.Equal(t, 5, p.MaxMemoryResults)
}

func TestFromEnvProviderDefaults(t *testing.T) {
	t.Setenv("KBASE_AI_LLM_PROVIDER", "deepseek")
	t.Setenv("KBASE_AI_LLM_BASE_URL", "")
	t.Setenv("KBASE_AI_LLM_MODEL", "")

	p := &Profile{}
	p.FromEnv()
	assert.Equal(t, "https://api.deepseek.com", p.LLMBaseURL)
	assert.Equal(t, "deepseek-chat", p.LLMModel)

	t.Setenv("KBASE_AI_LLM_PROVIDER", "not-a-provider")
	p = &Profile{}
	p.FromEnv()
	assert.Equal(t, "openai", p.LLMProvider, "unknown providers fall back to openai")
}

func TestFromEnvEmbeddingKeyFallsBackToLLMKey(t *testing.T) {
	t.Setenv("KBASE_AI_LLM_API_KEY", "shared-key")
	t.Setenv("KBASE_AI_EMBEDDING_API_KEY", "")

	p := &Profile{}
	p.FromEnv()
	assert.Equal(t, "shared-key", p.EmbeddingAPIKey)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
	require.NoError(t, p.Validate())
	assert.Equal(t, filepath.Join(dir, "kbase_dev.db"), p.DSN)
	assert.Equal(t, 8000, p.MaxContextTokens)

	p = &Profile{Mode: "dev", Driver: "postgres", Data: dir}
	require.Error(t, p.Validate(), "postgres requires an explicit dsn")

	p = &Profile{Mode: "dev", Driver: "mysql", Data: dir}
	require.Error(t, p.Validate(), "unsupported drivers are rejected")

	p = &Profile{Mode: "nonsense", Driver: "sqlite", Data: dir}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode, "unknown modes fall back to demo")
}
