package ai

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// LLMCallStats represents statistics for a single LLM call.
type LLMCallStats struct {
	// PromptTokens is the number of tokens in the input prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the generated response.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`

	// ThinkingDurationMs is the time from request start to first chunk.
	// For non-streaming requests, this is the total request duration.
	ThinkingDurationMs int64 `json:"thinking_duration_ms"`

	// GenerationDurationMs is the time spent generating the response content.
	// For streaming, this is from first chunk to last chunk.
	GenerationDurationMs int64 `json:"generation_duration_ms,omitempty"`

	// TotalDurationMs is the total wall-clock time for the request.
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat. Returns content, statistics, and error.
	Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error)

	// ChatStream performs streaming chat. Returns content channel, stats channel, and error channel.
	// The stats channel is closed after sending the final stats when the stream completes.
	ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *LLMCallStats, <-chan error)
}

type llmService struct {
	client      *openai.Client
	model       string
	provider    string
	maxTokens   int
	temperature float32
	timeout     int // Request timeout in seconds
}

// NewLLMService creates a new LLMService. Every supported provider speaks
// the OpenAI-compatible protocol, so they share one client.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	httpClient := newHTTPClient()

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = httpClient

	switch cfg.Provider {
	case "deepseek":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "https://api.deepseek.com")
	case "siliconflow":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "https://api.siliconflow.cn/v1")
	case "openrouter":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "https://openrouter.ai/api/v1")
	case "ollama":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "http://localhost:11434")
	case "openai":
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	default:
		// Generic fallback for any other OpenAI-compatible provider.
		slog.Info("Using generic OpenAI-compatible provider", "provider", cfg.Provider)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &llmService{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		provider:    cfg.Provider,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func defaultBaseURL(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (s *llmService) Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	slog.Debug("LLM: Chat request",
		"model", s.model,
		"messages_count", len(messages),
		"max_tokens", s.maxTokens,
	)

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("LLM: Chat request failed", "error", err)
		return "", nil, fmt.Errorf("LLM chat failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("LLM: Empty response from LLM")
		return "", nil, fmt.Errorf("empty response from LLM")
	}

	totalDuration := time.Since(startTime)

	stats := &LLMCallStats{
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		ThinkingDurationMs: totalDuration.Milliseconds(),
		TotalDurationMs:    totalDuration.Milliseconds(),
	}

	slog.Debug("LLM: Chat response received",
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", stats.TotalTokens,
		"duration_ms", totalDuration.Milliseconds(),
	)

	return resp.Choices[0].Message.Content, stats, nil
}

func (s *llmService) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *LLMCallStats, <-chan error) {
	contentChan := make(chan string, 10)
	statsChan := make(chan *LLMCallStats, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:       s.model,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Messages:    convertMessages(messages),
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}

		startTime := time.Now()
		var firstChunkTime time.Time

		slog.Debug("LLM ChatStream starting", "model", s.model, "messages", len(messages))
		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			slog.Error("LLM ChatStream failed to create", "error", err)
			select {
			case errChan <- fmt.Errorf("create stream failed: %w", err):
			case <-ctx.Done():
			}
			return
		}
		defer func() { _ = stream.Close() }()

		chunkCount := 0

		for {
			response, err := stream.Recv()
			if err != nil {
				if strings.Contains(err.Error(), "EOF") {
					statsChan <- s.finalStats(nil, startTime, firstChunkTime, chunkCount)
					return
				}
				slog.Error("LLM ChatStream receive error", "error", err, "chunks_so_far", chunkCount)
				select {
				case errChan <- fmt.Errorf("stream recv failed: %w", err):
				case <-ctx.Done():
				}
				return
			}

			if firstChunkTime.IsZero() && len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				firstChunkTime = time.Now()
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				stats := s.finalStats(response.Usage, startTime, firstChunkTime, chunkCount)
				slog.Debug("LLM ChatStream finished with usage",
					"chunks", chunkCount,
					"total_tokens", stats.TotalTokens,
					"duration_ms", stats.TotalDurationMs,
				)
				statsChan <- stats
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta.Content
			if delta != "" {
				chunkCount++
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					slog.Warn("LLM ChatStream context cancelled during send", "chunks", chunkCount)
					return
				}
			}

			if response.Choices[0].FinishReason != "" {
				stats := s.finalStats(nil, startTime, firstChunkTime, chunkCount)
				slog.Debug("LLM ChatStream finished (no usage)",
					"reason", response.Choices[0].FinishReason,
					"chunks", chunkCount,
					"duration_ms", stats.TotalDurationMs,
				)
				statsChan <- stats
				return
			}
		}
	}()

	return contentChan, statsChan, errChan
}

func (s *llmService) finalStats(usage *openai.Usage, startTime, firstChunkTime time.Time, chunkCount int) *LLMCallStats {
	totalDuration := time.Since(startTime)
	stats := &LLMCallStats{
		TotalDurationMs: totalDuration.Milliseconds(),
	}
	if !firstChunkTime.IsZero() {
		stats.ThinkingDurationMs = firstChunkTime.Sub(startTime).Milliseconds()
		stats.GenerationDurationMs = time.Since(firstChunkTime).Milliseconds()
	}
	if usage != nil {
		stats.PromptTokens = usage.PromptTokens
		stats.CompletionTokens = usage.CompletionTokens
		stats.TotalTokens = usage.TotalTokens
	} else {
		// Rough estimate when the provider omits usage on streams.
		stats.TotalTokens = chunkCount * 10
	}
	return stats
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		}
	}
	return llmMessages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
