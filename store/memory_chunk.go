package store

import (
	"github.com/pkg/errors"
)

// ChunkType classifies the source of an indexed memory chunk.
type ChunkType string

const (
	ChunkTypeNote    ChunkType = "note"
	ChunkTypeSummary ChunkType = "summary"
	ChunkTypeMessage ChunkType = "message"
)

// PriorityBoost returns the fixed retrieval multiplier for a chunk type.
// Notes and summaries are deliberately weighted above raw messages.
func (t ChunkType) PriorityBoost() float64 {
	switch t {
	case ChunkTypeNote:
		return 2.0
	case ChunkTypeSummary:
		return 1.5
	case ChunkTypeMessage:
		return 1.0
	}
	return 1.0
}

// MemoryChunk is an indexed, embedded fragment of conversation content used
// for retrieval. Chunks are append-only: created by an indexing trigger,
// never mutated, deleted only by cascading deletion of their source.
type MemoryChunk struct {
	ID            string
	TopicID       string
	SessionID     string
	NodeID        *string
	Content       string
	ContentType   ChunkType
	Embedding     []float32
	PriorityBoost float64
	TokenCount    *int
	CreatedTs     int64
}

// FindMemoryChunk is the find condition for memory chunks.
type FindMemoryChunk struct {
	ID          *string
	TopicID     *string
	SessionID   *string
	NodeID      *string
	ContentType *ChunkType
}

// DeleteMemoryChunk deletes memory chunks by source node.
type DeleteMemoryChunk struct {
	NodeID string
}

// MemoryChunkWithScore is a vector search result. WeightedScore is
// cosine similarity multiplied by the chunk's priority boost.
type MemoryChunkWithScore struct {
	Chunk         *MemoryChunk
	Similarity    float64
	WeightedScore float64
}

// VectorSearchOptions are the options for memory chunk similarity search.
// TopicID is mandatory: results from another topic are a correctness bug,
// not a ranking concern.
type VectorSearchOptions struct {
	TopicID    string
	Vector     []float32
	Limit      int
	SessionIDs []string // optional session subset within the topic
}

// Validate validates the VectorSearchOptions.
func (o *VectorSearchOptions) Validate() error {
	if o.TopicID == "" {
		return errors.New("topic id is required")
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}
