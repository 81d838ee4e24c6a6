package v1

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func intQueryParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, errors.Errorf("%s is required", name)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return value, nil
}

// TopicResponse is the wire shape of a topic.
type TopicResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	CreatedTs   int64   `json:"created_ts"`
	UpdatedTs   int64   `json:"updated_ts"`
}

func convertTopic(t *store.Topic) *TopicResponse {
	return &TopicResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		CreatedTs:   t.CreatedTs,
		UpdatedTs:   t.UpdatedTs,
	}
}

// SessionResponse is the wire shape of a session.
type SessionResponse struct {
	ID           string  `json:"id"`
	TopicID      string  `json:"topic_id"`
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	RootNodeID   *string `json:"root_node_id,omitempty"`
	DefaultModel *string `json:"default_model,omitempty"`
	CreatedTs    int64   `json:"created_ts"`
	UpdatedTs    int64   `json:"updated_ts"`
}

func convertSession(s *store.Session) *SessionResponse {
	return &SessionResponse{
		ID:           s.ID,
		TopicID:      s.TopicID,
		Name:         s.Name,
		Description:  s.Description,
		RootNodeID:   s.RootNodeID,
		DefaultModel: s.DefaultModel,
		CreatedTs:    s.CreatedTs,
		UpdatedTs:    s.UpdatedTs,
	}
}

// NodeResponse is the wire shape of a node.
type NodeResponse struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"session_id"`
	ParentID         *string          `json:"parent_id,omitempty"`
	Content          string           `json:"content"`
	Type             store.NodeType   `json:"type"`
	Status           store.NodeStatus `json:"status"`
	BranchName       *string          `json:"branch_name,omitempty"`
	CollapsedSummary *string          `json:"collapsed_summary,omitempty"`
	Selection        *store.Selection `json:"selection,omitempty"`
	GenerationConfig map[string]any   `json:"generation_config,omitempty"`
	TokenCount       *int             `json:"token_count,omitempty"`
	SiblingIndex     int              `json:"sibling_index"`
	IsSelectedPath   bool             `json:"is_selected_path"`
	CreatedTs        int64            `json:"created_ts"`
	UpdatedTs        int64            `json:"updated_ts"`
}

func convertNode(n *store.Node) *NodeResponse {
	return &NodeResponse{
		ID:               n.ID,
		SessionID:        n.SessionID,
		ParentID:         n.ParentID,
		Content:          n.Content,
		Type:             n.Type,
		Status:           n.Status,
		BranchName:       n.BranchName,
		CollapsedSummary: n.CollapsedSummary,
		Selection:        n.Selection,
		GenerationConfig: n.GenerationConfig,
		TokenCount:       n.TokenCount,
		SiblingIndex:     n.SiblingIndex,
		IsSelectedPath:   n.IsSelectedPath,
		CreatedTs:        n.CreatedTs,
		UpdatedTs:        n.UpdatedTs,
	}
}

func convertNodes(nodes []*store.Node) []*NodeResponse {
	out := make([]*NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, convertNode(n))
	}
	return out
}

// MemoryChunkResponse is the wire shape of a search hit.
type MemoryChunkResponse struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	NodeID        *string         `json:"node_id,omitempty"`
	Content       string          `json:"content"`
	ContentType   store.ChunkType `json:"content_type"`
	Similarity    float64         `json:"similarity"`
	WeightedScore float64         `json:"weighted_score"`
}

func convertSearchResults(results []*store.MemoryChunkWithScore) []*MemoryChunkResponse {
	out := make([]*MemoryChunkResponse, 0, len(results))
	for _, r := range results {
		out = append(out, &MemoryChunkResponse{
			ID:            r.Chunk.ID,
			SessionID:     r.Chunk.SessionID,
			NodeID:        r.Chunk.NodeID,
			Content:       r.Chunk.Content,
			ContentType:   r.Chunk.ContentType,
			Similarity:    r.Similarity,
			WeightedScore: r.WeightedScore,
		})
	}
	return out
}
