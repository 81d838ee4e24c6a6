package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/ai/generation"
	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/ai/metrics"
	"github.com/KDmytro/k-base/store"
)

type ChatService struct {
	Store        *store.Store
	Coordinator  *generation.Coordinator
	Indexer      *memory.Indexer
	Exporter     *metrics.PrometheusExporter
	DefaultModel string
}

func (s *ChatService) RegisterRoutes(g *echo.Group) {
	g.POST("/chat", s.Chat)
	g.POST("/chat/stream", s.ChatStream)
	g.POST("/chat/side-chat/stream", s.SideChatStream)
	g.POST("/chat/regenerate/:id", s.Regenerate)
	g.GET("/chat/models", s.ListModels)
}

type chatRequest struct {
	ParentID           string           `json:"parent_id"`
	SessionID          string           `json:"session_id"`
	Content            string           `json:"content"`
	GenerationConfig   map[string]any   `json:"generation_config"`
	Selection          *store.Selection `json:"selection"`
	IncludeMainContext bool             `json:"include_main_context"`
}

func (r *chatRequest) toGeneration(sideChat bool) *generation.Request {
	return &generation.Request{
		ParentID:           r.ParentID,
		SessionID:          r.SessionID,
		Content:            r.Content,
		GenerationConfig:   r.GenerationConfig,
		SideChat:           sideChat,
		Selection:          r.Selection,
		IncludeMainContext: r.IncludeMainContext,
	}
}

// Chat runs a full generation and returns the persisted turn in one
// response. Same pipeline as the streaming endpoint, tokens just are not
// relayed.
func (s *ChatService) Chat(c echo.Context) error {
	if s.Coordinator == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("generation is not configured"))
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	events, err := s.Coordinator.Stream(c.Request().Context(), req.toGeneration(false))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	var userNode, assistantNode *store.Node
	var stats *ai.LLMCallStats
	var genErr error
	for event := range events {
		switch event.Type {
		case generation.EventUserNode:
			userNode = event.UserNode
		case generation.EventComplete:
			assistantNode = event.AssistantNode
			stats = event.Stats
		case generation.EventError:
			genErr = event.Err
		}
	}
	if genErr != nil {
		resp := map[string]any{"message": genErr.Error()}
		if userNode != nil {
			resp["user_node"] = convertNode(userNode)
		}
		return c.JSON(http.StatusBadGateway, resp)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"user_node":      convertNode(userNode),
		"assistant_node": convertNode(assistantNode),
		"stats":          stats,
	})
}

// Regenerate produces a fresh assistant reply as a new selected sibling of
// an existing one. The displaced reply keeps its subtree and can be
// reselected.
func (s *ChatService) Regenerate(c echo.Context) error {
	if s.Coordinator == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("generation is not configured"))
	}
	ctx := c.Request().Context()

	node, err := s.Store.GetNode(ctx, c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	if node.Type != store.NodeTypeAssistantMessage {
		return errorJSON(c, http.StatusBadRequest, errors.New("only assistant messages can be regenerated"))
	}
	if node.ParentID == nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("cannot regenerate a root node"))
	}

	regenerated, stats, err := s.Coordinator.Regenerate(ctx, node.ID)
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"node":  convertNode(regenerated),
		"stats": stats,
	})
}

// ListModels returns the chat model registry and the configured default.
func (s *ChatService) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"models":  ai.AvailableModels,
		"default": s.DefaultModel,
	})
}

// ChatStream streams a main-conversation generation over SSE. Event order
// is user_node, token*, then complete or error.
func (s *ChatService) ChatStream(c echo.Context) error {
	return s.stream(c, false)
}

// SideChatStream streams a side-chat generation over SSE. The thread is
// isolated from the main conversation.
func (s *ChatService) SideChatStream(c echo.Context) error {
	return s.stream(c, true)
}

func (s *ChatService) stream(c echo.Context, sideChat bool) error {
	if s.Coordinator == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("generation is not configured"))
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	events, err := s.Coordinator.Stream(c.Request().Context(), req.toGeneration(sideChat))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for event := range events {
		switch event.Type {
		case generation.EventUserNode:
			writeSSE(resp, "user_node", map[string]any{
				"stream_id": event.StreamID,
				"node":      convertNode(event.UserNode),
			})
		case generation.EventToken:
			writeSSE(resp, "token", map[string]any{"content": event.Token})
		case generation.EventComplete:
			writeSSE(resp, "complete", map[string]any{
				"node":  convertNode(event.AssistantNode),
				"stats": event.Stats,
			})
		case generation.EventError:
			writeSSE(resp, "error", map[string]any{"message": event.Err.Error()})
		}
	}
	return nil
}

// writeSSE writes one server-sent event and flushes it immediately.
func writeSSE(resp *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"message":"payload marshal failed"}`)
	}
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteString("\ndata: ")
	sb.Write(data)
	sb.WriteString("\n\n")
	fmt.Fprint(resp, sb.String())
	resp.Flush()
}
