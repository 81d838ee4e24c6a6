// Package branch implements branch lifecycle operations over the
// conversation tree: forking, collapsing, expanding and abandoning.
package branch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/store"
)

// Service performs branch operations. Collapse summaries are produced by
// the LLM service; everything else is pure tree manipulation.
type Service struct {
	store *store.Store
	llm   ai.LLMService
}

// NewService creates a branch service. llm may be nil, in which case
// collapse proceeds without generating summaries.
func NewService(s *store.Store, llm ai.LLMService) *Service {
	return &Service{store: s, llm: llm}
}

// ForkOptions configures a fork.
type ForkOptions struct {
	BranchName       *string
	GenerationConfig map[string]any
}

// ForkFrom creates a new user message as an alternative child of parentID
// and makes it the selected branch. The previously selected sibling keeps
// its subtree intact and can be reselected at any time.
func (s *Service) ForkFrom(ctx context.Context, parentID, content string, opts *ForkOptions) (*store.Node, error) {
	parent, err := s.store.GetNode(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("fork parent lookup failed: %w", err)
	}
	if parent.Status == store.NodeStatusMerged {
		return nil, fmt.Errorf("cannot fork from merged node %s", parentID)
	}

	now := time.Now().Unix()
	node := &store.Node{
		ID:             uuid.NewString(),
		SessionID:      parent.SessionID,
		ParentID:       &parent.ID,
		Content:        content,
		Type:           store.NodeTypeUserMessage,
		Status:         store.NodeStatusActive,
		IsSelectedPath: true,
		CreatedTs:      now,
		UpdatedTs:      now,
	}
	if opts != nil {
		node.BranchName = opts.BranchName
		node.GenerationConfig = opts.GenerationConfig
	}

	created, err := s.store.CreateNode(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("fork create failed: %w", err)
	}

	slog.Info("Branch forked",
		"parent_id", parentID,
		"node_id", created.ID,
		"sibling_index", created.SiblingIndex,
	)
	return created, nil
}

// CollapseBranch collapses an active branch root into a compact summary.
// Summary generation failure is non-fatal: the branch still collapses, it
// just contributes nothing to context until a summary exists. The generated
// summary is returned so callers can index it into memory.
func (s *Service) CollapseBranch(ctx context.Context, nodeID string) (*store.Node, string, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, "", err
	}
	if !node.Type.IsMainConversation() {
		return nil, "", fmt.Errorf("cannot collapse %s node %s", node.Type, nodeID)
	}
	if node.Status != store.NodeStatusActive {
		return nil, "", fmt.Errorf("cannot collapse node %s in status %s", nodeID, node.Status)
	}

	summary := ""
	if s.llm != nil {
		summary, err = s.generateSummary(ctx, nodeID)
		if err != nil {
			slog.Warn("Collapse summary generation failed, collapsing without summary",
				"node_id", nodeID,
				"error", err,
			)
			summary = ""
		}
	}

	now := time.Now().Unix()
	status := store.NodeStatusCollapsed
	update := &store.UpdateNode{
		ID:        nodeID,
		Status:    &status,
		UpdatedTs: &now,
	}
	if summary != "" {
		update.CollapsedSummary = &summary
	}
	updated, err := s.store.UpdateNode(ctx, update)
	if err != nil {
		return nil, "", fmt.Errorf("collapse update failed: %w", err)
	}

	slog.Info("Branch collapsed", "node_id", nodeID, "has_summary", summary != "")
	return updated, summary, nil
}

// ExpandBranch restores a collapsed branch to active. The stored summary is
// kept so a later re-collapse does not need to regenerate it.
func (s *Service) ExpandBranch(ctx context.Context, nodeID string) (*store.Node, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status != store.NodeStatusCollapsed {
		return nil, fmt.Errorf("cannot expand node %s in status %s", nodeID, node.Status)
	}

	now := time.Now().Unix()
	status := store.NodeStatusActive
	updated, err := s.store.UpdateNode(ctx, &store.UpdateNode{
		ID:        nodeID,
		Status:    &status,
		UpdatedTs: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("expand update failed: %w", err)
	}

	slog.Info("Branch expanded", "node_id", nodeID)
	return updated, nil
}

// AbandonBranch marks a branch root abandoned and hands the selected path to
// the newest active main sibling, if any. Abandoned subtrees stay in the
// tree and stay searchable through previously indexed chunks' sources, but
// never re-enter context assembly.
func (s *Service) AbandonBranch(ctx context.Context, nodeID string) (*store.Node, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status == store.NodeStatusMerged {
		return nil, fmt.Errorf("cannot abandon merged node %s", nodeID)
	}
	if node.Status == store.NodeStatusAbandoned {
		return node, nil
	}
	if !node.Type.IsMainConversation() {
		return nil, fmt.Errorf("cannot abandon %s node %s", node.Type, nodeID)
	}

	wasSelected := node.IsSelectedPath

	now := time.Now().Unix()
	status := store.NodeStatusAbandoned
	deselected := false
	updated, err := s.store.UpdateNode(ctx, &store.UpdateNode{
		ID:             nodeID,
		Status:         &status,
		IsSelectedPath: &deselected,
		UpdatedTs:      &now,
	})
	if err != nil {
		return nil, fmt.Errorf("abandon update failed: %w", err)
	}

	if wasSelected {
		if err := s.promoteSibling(ctx, updated); err != nil {
			return nil, err
		}
	}

	slog.Info("Branch abandoned", "node_id", nodeID, "was_selected", wasSelected)
	return updated, nil
}

// promoteSibling selects the newest active main sibling of an abandoned
// node. When no active sibling remains, the parent simply has no selected
// child and the path ends there.
func (s *Service) promoteSibling(ctx context.Context, abandoned *store.Node) error {
	siblings, err := s.store.GetMainSiblings(ctx, abandoned.ID)
	if err != nil {
		return fmt.Errorf("sibling lookup failed: %w", err)
	}

	var winner *store.Node
	for _, sib := range siblings {
		if sib.ID == abandoned.ID || sib.Status != store.NodeStatusActive {
			continue
		}
		if winner == nil ||
			sib.SiblingIndex > winner.SiblingIndex ||
			(sib.SiblingIndex == winner.SiblingIndex && sib.CreatedTs > winner.CreatedTs) {
			winner = sib
		}
	}
	if winner == nil {
		return nil
	}

	if err := s.store.SelectBranch(ctx, winner.ID); err != nil {
		return fmt.Errorf("sibling promotion failed: %w", err)
	}
	slog.Info("Selected path moved to sibling", "abandoned_id", abandoned.ID, "selected_id", winner.ID)
	return nil
}
