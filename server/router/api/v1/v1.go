// Package v1 implements the REST + SSE API surface.
package v1

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/ai/assembler"
	"github.com/KDmytro/k-base/ai/branch"
	"github.com/KDmytro/k-base/ai/generation"
	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/ai/metrics"
	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
)

type APIV1Service struct {
	// Domain services
	TopicService   *TopicService
	SessionService *SessionService
	NodeService    *NodeService
	ChatService    *ChatService

	// Shared infra
	Profile  *profile.Profile
	Store    *store.Store
	Exporter *metrics.PrometheusExporter

	// AI stack, nil when AI is disabled
	LLMService       ai.LLMService
	EmbeddingService ai.EmbeddingService
	BranchService    *branch.Service
	Indexer          *memory.Indexer
	Assembler        *assembler.Assembler
	Coordinator      *generation.Coordinator
}

// NewAPIV1Service wires the API service. AI features require an API key and
// are skipped with a warning otherwise; tree operations always work.
func NewAPIV1Service(_ context.Context, p *profile.Profile, s *store.Store) (*APIV1Service, error) {
	service := &APIV1Service{
		Profile:  p,
		Store:    s,
		Exporter: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
	}

	if p.IsAIEnabled() {
		aiConfig := ai.NewConfigFromProfile(p)
		if err := aiConfig.Validate(); err != nil {
			slog.Warn("AI config validation failed, AI features disabled", "error", err)
		} else {
			llmService, err := ai.NewLLMService(&aiConfig.LLM)
			if err != nil {
				slog.Warn("Failed to initialize LLM service", "provider", aiConfig.LLM.Provider, "error", err)
			} else {
				service.LLMService = llmService
				slog.Info("LLM service initialized",
					"provider", aiConfig.LLM.Provider,
					"model", aiConfig.LLM.Model,
				)
			}

			embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
			if err != nil {
				slog.Warn("Failed to initialize embedding service", "error", err)
			} else {
				service.EmbeddingService = embeddingService
				service.Indexer = memory.NewIndexer(s, embeddingService)
			}

			asm, err := assembler.New(s, service.Indexer, assembler.Options{
				MaxTokens:        p.MaxContextTokens,
				ResponseHeadroom: p.ResponseHeadroom,
				MaxMemoryResults: p.MaxMemoryResults,
			})
			if err != nil {
				slog.Warn("Failed to initialize context assembler", "error", err)
			} else {
				service.Assembler = asm
			}

			if service.LLMService != nil && service.Assembler != nil {
				service.Coordinator = generation.NewCoordinator(
					s,
					service.LLMService,
					service.Assembler,
					service.Indexer,
					service.Exporter,
					aiConfig.LLM.Model,
				)
			}
		}
	} else {
		slog.Info("AI features disabled, no LLM API key configured")
	}

	service.BranchService = branch.NewService(s, service.LLMService)
	service.TopicService = &TopicService{Store: s, Indexer: service.Indexer, Exporter: service.Exporter}
	service.SessionService = &SessionService{Store: s}
	service.NodeService = &NodeService{Store: s, BranchService: service.BranchService, Indexer: service.Indexer}
	service.ChatService = &ChatService{
		Store:        s,
		Coordinator:  service.Coordinator,
		Indexer:      service.Indexer,
		Exporter:     service.Exporter,
		DefaultModel: p.LLMModel,
	}

	return service, nil
}

// RegisterRoutes registers all API routes plus the metrics endpoint.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(s.Exporter.Handler()))

	group := e.Group("/api/v1")
	group.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(30))))

	s.TopicService.RegisterRoutes(group)
	s.SessionService.RegisterRoutes(group)
	s.NodeService.RegisterRoutes(group)
	s.ChatService.RegisterRoutes(group)
}

// errorJSON renders a uniform error body.
func errorJSON(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]string{"message": err.Error()})
}

// httpStatusFor maps store errors to HTTP statuses.
func httpStatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if isNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
