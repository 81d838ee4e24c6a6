package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all database operations implemented by the postgres and
// sqlite backends.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate brings the schema up to date. Idempotent.
	Migrate(ctx context.Context) error

	// Topic model related methods.
	CreateTopic(ctx context.Context, create *Topic) (*Topic, error)
	ListTopics(ctx context.Context, find *FindTopic) ([]*Topic, error)
	UpdateTopic(ctx context.Context, update *UpdateTopic) (*Topic, error)
	DeleteTopic(ctx context.Context, delete *DeleteTopic) error

	// Session model related methods.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	DeleteSession(ctx context.Context, delete *DeleteSession) error

	// Node model related methods.
	//
	// CreateNode assigns the sibling index inside a transaction that locks
	// the sibling set, so concurrent forks under one parent serialize. The
	// session root_node_id is set in the same transaction for a first node.
	CreateNode(ctx context.Context, create *Node) (*Node, error)
	ListNodes(ctx context.Context, find *FindNode) ([]*Node, error)
	UpdateNode(ctx context.Context, update *UpdateNode) (*Node, error)
	DeleteNode(ctx context.Context, delete *DeleteNode) error

	// SelectBranch atomically makes nodeID the selected main-conversation
	// child of its parent and deselects every other main sibling. Concurrent
	// selects on the same parent must serialize, not interleave.
	SelectBranch(ctx context.Context, nodeID string) error

	// MemoryChunk model related methods.
	CreateMemoryChunk(ctx context.Context, create *MemoryChunk) (*MemoryChunk, error)
	ListMemoryChunks(ctx context.Context, find *FindMemoryChunk) ([]*MemoryChunk, error)
	DeleteMemoryChunk(ctx context.Context, delete *DeleteMemoryChunk) error

	// VectorSearch performs similarity search over memory chunks. Results
	// are ordered by weighted score (cosine similarity * priority boost)
	// and are always restricted to opts.TopicID.
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryChunkWithScore, error)
}
