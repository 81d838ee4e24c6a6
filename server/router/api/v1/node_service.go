package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/ai/branch"
	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/store"
)

type NodeService struct {
	Store         *store.Store
	BranchService *branch.Service
	Indexer       *memory.Indexer
}

func (s *NodeService) RegisterRoutes(g *echo.Group) {
	g.GET("/nodes/:id", s.GetNode)
	g.PATCH("/nodes/:id", s.UpdateNode)
	g.DELETE("/nodes/:id", s.DeleteNode)
	g.GET("/nodes/:id/path", s.GetPath)
	g.GET("/nodes/:id/children", s.GetChildren)
	g.GET("/nodes/:id/siblings", s.GetSiblings)
	g.GET("/nodes/:id/side-chats", s.GetSideChatThread)
	g.POST("/nodes/:id/select", s.SelectBranch)
	g.POST("/nodes/:id/fork", s.ForkBranch)
	g.POST("/nodes/:id/collapse", s.CollapseBranch)
	g.POST("/nodes/:id/expand", s.ExpandBranch)
	g.POST("/nodes/:id/abandon", s.AbandonBranch)
	g.POST("/nodes/:id/notes", s.CreateNote)
}

// indexBestEffort (re)indexes a node into topic memory. The tree mutation
// has already committed by the time this runs, so an indexing failure is
// logged and the request still succeeds.
func (s *NodeService) indexBestEffort(c echo.Context, node *store.Node, reindex bool) {
	if s.Indexer == nil {
		return
	}
	ctx := c.Request().Context()
	session, err := s.Store.GetSession(ctx, node.SessionID)
	if err != nil {
		slog.Warn("Indexing session lookup failed", "node_id", node.ID, "error", err)
		return
	}
	if reindex {
		_, err = s.Indexer.ReindexNode(ctx, session.TopicID, node)
	} else {
		_, err = s.Indexer.IndexNode(ctx, session.TopicID, node)
	}
	if err != nil && !errors.Is(err, memory.ErrIndexingSkipped) {
		slog.Warn("Memory indexing failed", "node_id", node.ID, "error", err)
	}
}

func (s *NodeService) GetNode(c echo.Context) error {
	node, err := s.Store.GetNode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNode(node))
}

type updateNodeRequest struct {
	Content    *string `json:"content"`
	BranchName *string `json:"branch_name"`
}

// UpdateNode edits a node's content or branch label. Status transitions go
// through the dedicated branch endpoints, never through a raw patch.
func (s *NodeService) UpdateNode(c echo.Context) error {
	var req updateNodeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Content == nil && req.BranchName == nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("nothing to update"))
	}

	ctx := c.Request().Context()
	now := time.Now().Unix()
	node, err := s.Store.UpdateNode(ctx, &store.UpdateNode{
		ID:         c.Param("id"),
		Content:    req.Content,
		BranchName: req.BranchName,
		UpdatedTs:  &now,
	})
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}

	// Edited content invalidates the node's index entry.
	if req.Content != nil {
		s.indexBestEffort(c, node, true)
	}

	return c.JSON(http.StatusOK, convertNode(node))
}

func (s *NodeService) DeleteNode(c echo.Context) error {
	if err := s.Store.DeleteNode(c.Request().Context(), &store.DeleteNode{ID: c.Param("id")}); err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *NodeService) GetPath(c echo.Context) error {
	path, err := s.Store.GetPath(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNodes(path))
}

func (s *NodeService) GetChildren(c echo.Context) error {
	children, err := s.Store.GetChildren(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNodes(children))
}

func (s *NodeService) GetSiblings(c echo.Context) error {
	siblings, err := s.Store.GetMainSiblings(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNodes(siblings))
}

// GetSideChatThread returns the side-chat thread under the node for an
// exact selection, or the unanchored thread when no selection is given.
func (s *NodeService) GetSideChatThread(c echo.Context) error {
	var selection *store.Selection
	if text := c.QueryParam("selection_text"); text != "" {
		start, err := intQueryParam(c, "selection_start")
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err)
		}
		end, err := intQueryParam(c, "selection_end")
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err)
		}
		selection = &store.Selection{Text: text, StartOffset: start, EndOffset: end}
	}

	thread, err := s.Store.GetSideChatThread(c.Request().Context(), c.Param("id"), selection)
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNodes(thread))
}

func (s *NodeService) SelectBranch(c echo.Context) error {
	if err := s.Store.SelectBranch(c.Request().Context(), c.Param("id")); err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.NoContent(http.StatusNoContent)
}

type forkRequest struct {
	Content          string         `json:"content"`
	BranchName       *string        `json:"branch_name"`
	GenerationConfig map[string]any `json:"generation_config"`
}

func (s *NodeService) ForkBranch(c echo.Context) error {
	var req forkRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Content == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("content is required"))
	}

	ctx := c.Request().Context()
	node, err := s.BranchService.ForkFrom(ctx, c.Param("id"), req.Content, &branch.ForkOptions{
		BranchName:       req.BranchName,
		GenerationConfig: req.GenerationConfig,
	})
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}

	// Forking below a reply accepts it into topic memory.
	if parent, err := s.Store.GetNode(ctx, c.Param("id")); err == nil && parent.Type == store.NodeTypeAssistantMessage {
		s.indexBestEffort(c, parent, false)
	}

	return c.JSON(http.StatusCreated, convertNode(node))
}

type collapseResponse struct {
	Node    *NodeResponse `json:"node"`
	Summary string        `json:"summary,omitempty"`
}

func (s *NodeService) CollapseBranch(c echo.Context) error {
	ctx := c.Request().Context()
	node, summary, err := s.BranchService.CollapseBranch(ctx, c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}

	// The collapsed node's index entry switches to its summary.
	if summary != "" {
		s.indexBestEffort(c, node, true)
	}

	return c.JSON(http.StatusOK, collapseResponse{Node: convertNode(node), Summary: summary})
}

func (s *NodeService) ExpandBranch(c echo.Context) error {
	node, err := s.BranchService.ExpandBranch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNode(node))
}

func (s *NodeService) AbandonBranch(c echo.Context) error {
	node, err := s.BranchService.AbandonBranch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}
	return c.JSON(http.StatusOK, convertNode(node))
}

type createNoteRequest struct {
	Content string `json:"content"`
}

// CreateNote attaches a user note to the node. Notes never compete for the
// selected path and are indexed with the highest retrieval priority.
func (s *NodeService) CreateNote(c echo.Context) error {
	var req createNoteRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Content == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("content is required"))
	}

	ctx := c.Request().Context()
	parentID := c.Param("id")
	parent, err := s.Store.GetNode(ctx, parentID)
	if err != nil {
		return errorJSON(c, httpStatusFor(err), err)
	}

	now := time.Now().Unix()
	note, err := s.Store.CreateNode(ctx, &store.Node{
		ID:             uuid.NewString(),
		SessionID:      parent.SessionID,
		ParentID:       &parent.ID,
		Content:        req.Content,
		Type:           store.NodeTypeUserNote,
		Status:         store.NodeStatusActive,
		IsSelectedPath: false,
		CreatedTs:      now,
		UpdatedTs:      now,
	})
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	s.indexBestEffort(c, note, false)

	return c.JSON(http.StatusCreated, convertNode(note))
}
