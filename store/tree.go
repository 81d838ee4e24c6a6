package store

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

// maxPathDepth bounds the upward parent walk. The tree should never be this
// deep; hitting the bound indicates a corrupted parent chain (a cycle).
const maxPathDepth = 1000

// GetNode gets a single node by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	list, err := s.driver.ListNodes(ctx, &FindNode{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "node %s", id)
	}
	return list[0], nil
}

// GetPath returns the ordered node sequence from the session root to the
// given node. The path is re-derived from parent pointers on every call;
// it is never cached as a source of truth. A missing ancestor indicates
// corruption and fails with ErrNotFound.
func (s *Store) GetPath(ctx context.Context, nodeID string) ([]*Node, error) {
	var reversed []*Node
	currentID := nodeID
	for depth := 0; ; depth++ {
		if depth >= maxPathDepth {
			return nil, errors.Errorf("path walk exceeded %d levels at node %s, parent chain is corrupted", maxPathDepth, currentID)
		}
		node, err := s.GetNode(ctx, currentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) && depth > 0 {
				return nil, errors.Wrapf(ErrNotFound, "missing ancestor %s of node %s", currentID, nodeID)
			}
			return nil, err
		}
		reversed = append(reversed, node)
		if node.ParentID == nil {
			break
		}
		currentID = *node.ParentID
	}

	path := make([]*Node, len(reversed))
	for i, node := range reversed {
		path[len(reversed)-1-i] = node
	}
	return path, nil
}

// GetChildren returns the direct children of a node ordered by
// (sibling_index, created_ts), optionally restricted to the given types.
func (s *Store) GetChildren(ctx context.Context, nodeID string, types ...NodeType) ([]*Node, error) {
	return s.driver.ListNodes(ctx, &FindNode{
		ParentID: &nodeID,
		Types:    types,
	})
}

// GetMainSiblings returns every node sharing the queried node's parent whose
// type is in the main-conversation group, including the queried node itself,
// ordered by (sibling_index, created_ts). Used for branch-switch UIs and
// fork-point detection.
//
// If more than one sibling is flagged as selected, the violation is logged
// and repaired deterministically before returning.
func (s *Store) GetMainSiblings(ctx context.Context, nodeID string) ([]*Node, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	find := &FindNode{Types: MainConversationTypes}
	if node.ParentID != nil {
		find.ParentID = node.ParentID
	} else {
		find.SessionID = &node.SessionID
		find.RootOnly = true
	}
	siblings, err := s.driver.ListNodes(ctx, find)
	if err != nil {
		return nil, err
	}

	if err := s.repairSelection(ctx, node, siblings); err != nil {
		return nil, err
	}
	return siblings, nil
}

// repairSelection enforces the at-most-one-selected invariant over a main
// sibling set. The deterministic winner is the newest sibling by
// (sibling_index, created_ts).
func (s *Store) repairSelection(ctx context.Context, node *Node, siblings []*Node) error {
	var selected []*Node
	for _, sib := range siblings {
		if sib.IsSelectedPath {
			selected = append(selected, sib)
		}
	}
	if len(selected) <= 1 {
		return nil
	}

	parentID := ""
	if node.ParentID != nil {
		parentID = *node.ParentID
	}
	violation := &InvariantViolationError{
		ParentID: parentID,
		Detail:   "multiple main-conversation siblings have is_selected_path",
	}
	slog.Error("Repairing tree invariant violation",
		"parent_id", parentID,
		"session_id", node.SessionID,
		"selected_count", len(selected),
		"error", violation,
	)

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].SiblingIndex != selected[j].SiblingIndex {
			return selected[i].SiblingIndex > selected[j].SiblingIndex
		}
		return selected[i].CreatedTs > selected[j].CreatedTs
	})
	winner := selected[0]
	if err := s.driver.SelectBranch(ctx, winner.ID); err != nil {
		return errors.Wrap(err, "failed to repair selection invariant")
	}
	for _, sib := range siblings {
		sib.IsSelectedPath = sib.ID == winner.ID
	}
	return nil
}

// IsForkPoint reports whether the node has more than one main-conversation
// child.
func (s *Store) IsForkPoint(ctx context.Context, nodeID string) (bool, error) {
	children, err := s.GetChildren(ctx, nodeID, MainConversationTypes...)
	if err != nil {
		return false, err
	}
	return len(children) > 1, nil
}

// SelectBranch atomically makes nodeID the selected child among its
// main-conversation siblings.
func (s *Store) SelectBranch(ctx context.Context, nodeID string) error {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if !node.Type.IsMainConversation() {
		return errors.Errorf("node %s is a %s node and does not compete for the selected path", nodeID, node.Type)
	}
	return s.driver.SelectBranch(ctx, nodeID)
}

// GetSideChatThread returns the side-chat nodes under parentID scoped to the
// given selection (nil for the unanchored thread), ordered by creation time.
// Threads are identified by exact selection equality; fuzzy reconciliation
// is a UI concern.
func (s *Store) GetSideChatThread(ctx context.Context, parentID string, selection *Selection) ([]*Node, error) {
	find := &FindNode{
		ParentID: &parentID,
		Types:    SideChatTypes,
	}
	if selection != nil {
		find.Selection = selection
	} else {
		find.SelectionNull = true
	}
	return s.driver.ListNodes(ctx, find)
}

// GetSubtreeMessages gathers every descendant main-conversation message under
// rootID (including the root itself when it is a message), in depth-first
// creation order. Used to build collapse summaries.
func (s *Store) GetSubtreeMessages(ctx context.Context, rootID string) ([]*Node, error) {
	root, err := s.GetNode(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var out []*Node
	var walk func(n *Node, depth int) error
	walk = func(n *Node, depth int) error {
		if depth >= maxPathDepth {
			return errors.Errorf("subtree walk exceeded %d levels at node %s", maxPathDepth, n.ID)
		}
		if n.Type.IsMainConversation() {
			out = append(out, n)
		}
		children, err := s.GetChildren(ctx, n.ID, MainConversationTypes...)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return nil, err
	}
	return out, nil
}
