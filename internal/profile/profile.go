package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, siliconflow, openrouter, ollama) use the same config.
	LLMProvider string // Provider identifier
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMModel    string
	LLMTimeout  int // Request timeout in seconds (default: 120)

	// Embedding configuration
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Context assembly limits
	MaxContextTokens  int // Upper bound for assembled prompts (default: 8000)
	ResponseHeadroom  int // Tokens reserved for the model response (default: 1000)
	MaxMemoryResults  int // Top-k for RAG retrieval (default: 5)

	// Server
	Mode    string // "prod", "dev" or "demo"
	Addr    string
	Port    int
	Data    string
	Driver  string // "postgres" or "sqlite"
	DSN     string
	Version string
}

// Provider default configurations for LLM.
// Used when KBASE_AI_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("KBASE_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("KBASE_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("KBASE_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("KBASE_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("KBASE_AI_LLM_TIMEOUT_SECONDS", 120)

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	p.EmbeddingProvider = getEnvOrDefault("KBASE_AI_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("KBASE_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("KBASE_AI_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("KBASE_AI_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("KBASE_AI_EMBEDDING_DIMENSIONS", 1536)

	p.MaxContextTokens = getEnvOrDefaultInt("KBASE_MAX_CONTEXT_TOKENS", 8000)
	p.ResponseHeadroom = getEnvOrDefaultInt("KBASE_RESPONSE_HEADROOM_TOKENS", 1000)
	p.MaxMemoryResults = getEnvOrDefaultInt("KBASE_MAX_MEMORY_RESULTS", 5)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case the user supplies one.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/kbase"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("kbase_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	if p.MaxContextTokens <= 0 {
		p.MaxContextTokens = 8000
	}
	if p.ResponseHeadroom <= 0 {
		p.ResponseHeadroom = 1000
	}
	if p.MaxMemoryResults <= 0 {
		p.MaxMemoryResults = 5
	}

	return nil
}
