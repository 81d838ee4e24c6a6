package v1

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

type SessionService struct {
	Store *store.Store
}

func (s *SessionService) RegisterRoutes(g *echo.Group) {
	g.POST("/sessions", s.CreateSession)
	g.GET("/sessions", s.ListSessions)
	g.GET("/sessions/:id", s.GetSession)
	g.PATCH("/sessions/:id", s.UpdateSession)
	g.DELETE("/sessions/:id", s.DeleteSession)
	g.GET("/sessions/:id/tree", s.GetTree)
}

type createSessionRequest struct {
	TopicID      string  `json:"topic_id"`
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	DefaultModel *string `json:"default_model"`
}

func (s *SessionService) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.TopicID == "" || req.Name == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("topic_id and name are required"))
	}
	if _, err := s.Store.GetTopic(c.Request().Context(), req.TopicID); err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}

	now := time.Now().Unix()
	session, err := s.Store.CreateSession(c.Request().Context(), &store.Session{
		ID:           uuid.NewString(),
		TopicID:      req.TopicID,
		Name:         req.Name,
		Description:  req.Description,
		DefaultModel: req.DefaultModel,
		CreatedTs:    now,
		UpdatedTs:    now,
	})
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusCreated, convertSession(session))
}

func (s *SessionService) ListSessions(c echo.Context) error {
	find := &store.FindSession{}
	if topicID := c.QueryParam("topic_id"); topicID != "" {
		find.TopicID = &topicID
	}
	sessions, err := s.Store.ListSessions(c.Request().Context(), find)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	out := make([]*SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, convertSession(session))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *SessionService) GetSession(c echo.Context) error {
	session, err := s.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertSession(session))
}

type updateSessionRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	DefaultModel *string `json:"default_model"`
}

func (s *SessionService) UpdateSession(c echo.Context) error {
	var req updateSessionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	now := time.Now().Unix()
	session, err := s.Store.UpdateSession(c.Request().Context(), &store.UpdateSession{
		ID:           c.Param("id"),
		Name:         req.Name,
		Description:  req.Description,
		DefaultModel: req.DefaultModel,
		UpdatedTs:    &now,
	})
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertSession(session))
}

func (s *SessionService) DeleteSession(c echo.Context) error {
	if err := s.Store.DeleteSession(c.Request().Context(), &store.DeleteSession{ID: c.Param("id")}); err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetTree returns every node of the session in one flat list ordered by
// (sibling_index, created_ts). Clients rebuild the tree from parent_id;
// shipping a nested structure would just duplicate that information.
func (s *SessionService) GetTree(c echo.Context) error {
	sessionID := c.Param("id")
	if _, err := s.Store.GetSession(c.Request().Context(), sessionID); err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}

	nodes, err := s.Store.ListNodes(c.Request().Context(), &store.FindNode{SessionID: &sessionID})
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, convertNodes(nodes))
}
