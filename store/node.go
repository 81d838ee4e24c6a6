package store

// NodeType is the closed set of node kinds in the conversation tree.
type NodeType string

const (
	NodeTypeUserMessage       NodeType = "user_message"
	NodeTypeAssistantMessage  NodeType = "assistant_message"
	NodeTypeUserNote          NodeType = "user_note"
	NodeTypeBranchSummary     NodeType = "branch_summary"
	NodeTypeSideChatUser      NodeType = "side_chat_user"
	NodeTypeSideChatAssistant NodeType = "side_chat_assistant"
	NodeTypeSystem            NodeType = "system"
)

// NodeTypes lists every valid node type. Consumers that dispatch on
// NodeType must handle all of these.
var NodeTypes = []NodeType{
	NodeTypeUserMessage,
	NodeTypeAssistantMessage,
	NodeTypeUserNote,
	NodeTypeBranchSummary,
	NodeTypeSideChatUser,
	NodeTypeSideChatAssistant,
	NodeTypeSystem,
}

// IsValid reports whether t is one of the known node types.
func (t NodeType) IsValid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsMainConversation reports whether t belongs to the main-conversation
// group. Only nodes in this group compete for the selected path; notes,
// summaries and side-chat nodes are counted independently.
func (t NodeType) IsMainConversation() bool {
	return t == NodeTypeUserMessage || t == NodeTypeAssistantMessage
}

// IsSideChat reports whether t belongs to a side-chat thread.
func (t NodeType) IsSideChat() bool {
	return t == NodeTypeSideChatUser || t == NodeTypeSideChatAssistant
}

// MainConversationTypes is the type filter for the main-conversation group.
var MainConversationTypes = []NodeType{NodeTypeUserMessage, NodeTypeAssistantMessage}

// SideChatTypes is the type filter for side-chat threads.
var SideChatTypes = []NodeType{NodeTypeSideChatUser, NodeTypeSideChatAssistant}

// NodeStatus is the branch state of a node.
//
// Transitions: active -> collapsed (collapse), collapsed -> active (expand),
// active -> abandoned (superseded by a sibling fork). "merged" is a reserved
// terminal state with no defined transition target; merged nodes never
// participate in context assembly or memory indexing.
type NodeStatus string

const (
	NodeStatusActive    NodeStatus = "active"
	NodeStatusCollapsed NodeStatus = "collapsed"
	NodeStatusAbandoned NodeStatus = "abandoned"
	NodeStatusMerged    NodeStatus = "merged"
)

// Selection identifies the parent-message substring a side-chat thread is
// scoped to. Two side-chat nodes belong to the same thread iff their
// selections are equal (exact match).
type Selection struct {
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// Equal reports whether two selections identify the same side-chat thread.
// Both nil means the unanchored thread of the parent node.
func (s *Selection) Equal(other *Selection) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.Text == other.Text && s.StartOffset == other.StartOffset && s.EndOffset == other.EndOffset
}

// Node is a single unit in the conversation tree. ParentID is a lookup key,
// never a live pointer; path traversal is a bounded upward walk.
type Node struct {
	ID               string
	SessionID        string
	ParentID         *string
	Content          string
	Type             NodeType
	Status           NodeStatus
	BranchName       *string
	CollapsedSummary *string
	Selection        *Selection
	GenerationConfig map[string]any
	TokenCount       *int
	SiblingIndex     int
	IsSelectedPath   bool
	CreatedTs        int64
	UpdatedTs        int64
}

// IsRoot reports whether the node is a session root.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// ContextContent returns the text a collapsed node contributes to context
// assembly. A collapsed node without a summary contributes nothing; callers
// omit the branch rather than fabricating a summary.
func (n *Node) ContextContent() (string, bool) {
	if n.Status == NodeStatusCollapsed {
		if n.CollapsedSummary == nil || *n.CollapsedSummary == "" {
			return "", false
		}
		return *n.CollapsedSummary, true
	}
	return n.Content, true
}

// FindNode is the find condition for nodes.
type FindNode struct {
	ID        *string
	SessionID *string
	ParentID  *string
	RootOnly  bool // nodes with no parent, scoped by SessionID

	// Types restricts results to the given node types.
	Types []NodeType
	// Statuses restricts results to the given statuses.
	Statuses []NodeStatus

	// Selection restricts results to side-chat nodes scoped to this exact
	// selection. SelectionNull matches side-chat nodes with no selection.
	Selection     *Selection
	SelectionNull bool
}

// UpdateNode is the update descriptor for a node. Nil fields are unchanged.
type UpdateNode struct {
	ID               string
	Content          *string
	Status           *NodeStatus
	BranchName       *string
	CollapsedSummary *string
	IsSelectedPath   *bool
	TokenCount       *int
	GenerationConfig map[string]any
	UpdatedTs        *int64
}

// DeleteNode deletes a node and its whole subtree. Deliberately rare;
// abandoning a branch is the normal way to retire it without losing data.
type DeleteNode struct {
	ID string
}
