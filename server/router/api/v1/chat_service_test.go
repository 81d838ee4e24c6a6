package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KDmytro/k-base/ai/assembler"
	"github.com/KDmytro/k-base/ai/generation"
	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
	"github.com/KDmytro/k-base/store/teststore"
)

func newChatService(t *testing.T, reply string) (*ChatService, *store.Store) {
	t.Helper()
	s := store.New(teststore.New(), &profile.Profile{})
	ctx := context.Background()
	_, err := s.CreateTopic(ctx, &store.Topic{ID: "topic-1", Name: "Databases"})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, &store.Session{ID: "session-1", TopicID: "topic-1", Name: "Indexes"})
	require.NoError(t, err)

	asm, err := assembler.New(s, nil, assembler.Options{})
	require.NoError(t, err)
	coordinator := generation.NewCoordinator(s, &stubLLM{reply: reply}, asm, nil, nil, "test-model")
	return &ChatService{Store: s, Coordinator: coordinator, DefaultModel: "test-model"}, s
}

func TestRegenerateHandler(t *testing.T) {
	svc, s := newChatService(t, "b-trees keep pages balanced")
	e := echo.New()
	root := seedNode(t, s, &store.Node{ID: "u1", Type: store.NodeTypeUserMessage, Content: "why b-trees?", IsSelectedPath: true, CreatedTs: 1})
	seedNode(t, s, &store.Node{ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage, Content: "stale answer", IsSelectedPath: true, CreatedTs: 2})

	c, rec := newRequestContext(http.MethodPost, "/api/v1/chat/regenerate/a1", "", e)
	c.SetPath("/chat/regenerate/:id")
	c.SetParamNames("id")
	c.SetParamValues("a1")

	require.NoError(t, svc.Regenerate(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Node *NodeResponse `json:"node"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Node)
	assert.Equal(t, store.NodeTypeAssistantMessage, resp.Node.Type)
	assert.Equal(t, "b-trees keep pages balanced", resp.Node.Content)
	require.NotNil(t, resp.Node.ParentID)
	assert.Equal(t, "u1", *resp.Node.ParentID)
	assert.True(t, resp.Node.IsSelectedPath)

	displaced, err := s.GetNode(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, displaced.IsSelectedPath, "the stale reply stays but loses selection")
}

func TestRegenerateHandlerValidation(t *testing.T) {
	svc, s := newChatService(t, "unused")
	e := echo.New()
	seedNode(t, s, &store.Node{ID: "u1", Type: store.NodeTypeUserMessage, Content: "question", IsSelectedPath: true, CreatedTs: 1})

	c, rec := newRequestContext(http.MethodPost, "/api/v1/chat/regenerate/u1", "", e)
	c.SetPath("/chat/regenerate/:id")
	c.SetParamNames("id")
	c.SetParamValues("u1")
	require.NoError(t, svc.Regenerate(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user messages cannot be regenerated")

	c, rec = newRequestContext(http.MethodPost, "/api/v1/chat/regenerate/missing", "", e)
	c.SetPath("/chat/regenerate/:id")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	require.NoError(t, svc.Regenerate(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModelsHandler(t *testing.T) {
	svc, _ := newChatService(t, "unused")
	e := echo.New()

	c, rec := newRequestContext(http.MethodGet, "/api/v1/chat/models", "", e)
	require.NoError(t, svc.ListModels(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models  map[string]struct {
			Provider string `json:"provider"`
			Display  string `json:"display"`
		} `json:"models"`
		Default string `json:"default"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-model", resp.Default)
	require.Contains(t, resp.Models, "gpt-4o-mini")
	assert.Equal(t, "openai", resp.Models["gpt-4o-mini"].Provider)
}
