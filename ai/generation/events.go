package generation

import (
	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/store"
)

// EventType identifies a stream event.
type EventType string

const (
	// EventUserNode is emitted once, first, after the user node is durably
	// persisted.
	EventUserNode EventType = "user_node"

	// EventToken carries one content delta.
	EventToken EventType = "token"

	// EventComplete is terminal: the assistant node has been persisted.
	EventComplete EventType = "complete"

	// EventError is terminal: generation failed after the user node was
	// persisted. The user node survives.
	EventError EventType = "error"
)

// Event is one element of a generation stream. Exactly one of the payload
// fields is set, matching Type.
type Event struct {
	Type EventType

	// StreamID correlates every event of one generation.
	StreamID string

	// UserNode is set on EventUserNode.
	UserNode *store.Node

	// Token is set on EventToken.
	Token string

	// AssistantNode and Stats are set on EventComplete.
	AssistantNode *store.Node
	Stats         *ai.LLMCallStats

	// Err is set on EventError.
	Err error
}
