package v1

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/ai/metrics"
	"github.com/KDmytro/k-base/store"
)

type TopicService struct {
	Store    *store.Store
	Indexer  *memory.Indexer
	Exporter *metrics.PrometheusExporter
}

func (s *TopicService) RegisterRoutes(g *echo.Group) {
	g.POST("/topics", s.CreateTopic)
	g.GET("/topics", s.ListTopics)
	g.GET("/topics/:id", s.GetTopic)
	g.PATCH("/topics/:id", s.UpdateTopic)
	g.DELETE("/topics/:id", s.DeleteTopic)
	g.POST("/topics/:id/reindex", s.ReindexTopic)
	g.POST("/topics/:id/memory/search", s.SearchMemory)
}

type createTopicRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (s *TopicService) CreateTopic(c echo.Context) error {
	var req createTopicRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Name == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("name is required"))
	}

	now := time.Now().Unix()
	topic, err := s.Store.CreateTopic(c.Request().Context(), &store.Topic{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusCreated, convertTopic(topic))
}

func (s *TopicService) ListTopics(c echo.Context) error {
	topics, err := s.Store.ListTopics(c.Request().Context(), &store.FindTopic{})
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	out := make([]*TopicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, convertTopic(t))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *TopicService) GetTopic(c echo.Context) error {
	topic, err := s.Store.GetTopic(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertTopic(topic))
}

type updateTopicRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *TopicService) UpdateTopic(c echo.Context) error {
	var req updateTopicRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	now := time.Now().Unix()
	topic, err := s.Store.UpdateTopic(c.Request().Context(), &store.UpdateTopic{
		ID:          c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		UpdatedTs:   &now,
	})
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertTopic(topic))
}

func (s *TopicService) DeleteTopic(c echo.Context) error {
	if err := s.Store.DeleteTopic(c.Request().Context(), &store.DeleteTopic{ID: c.Param("id")}); err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReindexTopic rebuilds the topic's memory index from its current nodes.
func (s *TopicService) ReindexTopic(c echo.Context) error {
	if s.Indexer == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("memory indexing is not configured"))
	}
	indexed, err := s.Indexer.ReindexTopic(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"indexed_chunks": indexed})
}

type searchMemoryRequest struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	SessionIDs []string `json:"session_ids"`
}

// SearchMemory runs weighted similarity search within the topic.
func (s *TopicService) SearchMemory(c echo.Context) error {
	if s.Indexer == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("memory search is not configured"))
	}
	var req searchMemoryRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Query == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("query is required"))
	}

	startTime := time.Now()
	results, err := s.Indexer.Search(c.Request().Context(), c.Param("id"), req.Query, req.Limit, req.SessionIDs...)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	if s.Exporter != nil {
		s.Exporter.RecordSearch(time.Since(startTime))
	}
	return c.JSON(http.StatusOK, convertSearchResults(results))
}
