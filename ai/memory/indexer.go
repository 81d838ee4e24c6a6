// Package memory implements the topic-scoped RAG index over conversation
// content: indexing nodes into embedded chunks and weighted similarity
// search over them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/store"
)

// ErrIndexingSkipped reports that a node was deliberately not indexed.
// Callers distinguish it from real failures: skipping is part of normal
// operation, not an error to surface.
var ErrIndexingSkipped = errors.New("indexing skipped")

// embedBatchSize bounds the number of texts sent per embedding request
// during reindexing.
const embedBatchSize = 64

// Indexer writes conversation content into the memory index and searches it.
type Indexer struct {
	store    *store.Store
	embedder ai.EmbeddingService
	counter  ai.SimpleTokenCounter
}

// NewIndexer creates a memory indexer.
func NewIndexer(s *store.Store, embedder ai.EmbeddingService) *Indexer {
	return &Indexer{store: s, embedder: embedder}
}

// indexableContent decides whether a node belongs in the index and returns
// the text and chunk type to embed. Side-chat and system nodes never enter
// the index; collapsed branches are represented by their summary.
func indexableContent(node *store.Node) (string, store.ChunkType, error) {
	if node.Status == store.NodeStatusAbandoned || node.Status == store.NodeStatusMerged {
		return "", "", fmt.Errorf("%w: node %s is %s", ErrIndexingSkipped, node.ID, node.Status)
	}
	if node.Type.IsSideChat() || node.Type == store.NodeTypeSystem {
		return "", "", fmt.Errorf("%w: %s nodes are not indexed", ErrIndexingSkipped, node.Type)
	}

	switch {
	case node.Type == store.NodeTypeUserNote:
		return node.Content, store.ChunkTypeNote, nil
	case node.Type == store.NodeTypeBranchSummary:
		return node.Content, store.ChunkTypeSummary, nil
	case node.Status == store.NodeStatusCollapsed:
		if node.CollapsedSummary == nil || *node.CollapsedSummary == "" {
			return "", "", fmt.Errorf("%w: collapsed node %s has no summary", ErrIndexingSkipped, node.ID)
		}
		return *node.CollapsedSummary, store.ChunkTypeSummary, nil
	default:
		return node.Content, store.ChunkTypeMessage, nil
	}
}

// IndexNode embeds a node's content and stores it as a memory chunk.
// Returns ErrIndexingSkipped (wrapped) when the node is not indexable or is
// already indexed.
func (i *Indexer) IndexNode(ctx context.Context, topicID string, node *store.Node) (*store.MemoryChunk, error) {
	content, chunkType, err := indexableContent(node)
	if err != nil {
		return nil, err
	}

	existing, err := i.store.ListMemoryChunks(ctx, &store.FindMemoryChunk{NodeID: &node.ID})
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: node %s is already indexed", ErrIndexingSkipped, node.ID)
	}

	plain := markdownToPlain(content)
	if plain == "" {
		return nil, fmt.Errorf("%w: node %s has no indexable text", ErrIndexingSkipped, node.ID)
	}

	vector, err := i.embedder.Embed(ctx, plain)
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}

	tokenCount := i.counter.Count(plain)
	chunk := &store.MemoryChunk{
		ID:            uuid.NewString(),
		TopicID:       topicID,
		SessionID:     node.SessionID,
		NodeID:        &node.ID,
		Content:       plain,
		ContentType:   chunkType,
		Embedding:     vector,
		PriorityBoost: chunkType.PriorityBoost(),
		TokenCount:    &tokenCount,
		CreatedTs:     time.Now().Unix(),
	}
	created, err := i.store.CreateMemoryChunk(ctx, chunk)
	if err != nil {
		return nil, fmt.Errorf("chunk create failed: %w", err)
	}

	slog.Debug("Node indexed",
		"node_id", node.ID,
		"chunk_id", created.ID,
		"content_type", chunkType,
		"tokens", tokenCount,
	)
	return created, nil
}

// ReindexNode drops any existing chunks for the node and indexes it again.
// Used after edits and after a collapse changes the node's representation.
func (i *Indexer) ReindexNode(ctx context.Context, topicID string, node *store.Node) (*store.MemoryChunk, error) {
	if err := i.store.DeleteMemoryChunk(ctx, &store.DeleteMemoryChunk{NodeID: node.ID}); err != nil {
		return nil, fmt.Errorf("stale chunk cleanup failed: %w", err)
	}
	return i.IndexNode(ctx, topicID, node)
}

// Search embeds the query and runs weighted similarity search within the
// topic. Results never cross topic boundaries; sessionIDs optionally narrow
// the search to a subset of the topic's sessions.
func (i *Indexer) Search(ctx context.Context, topicID, query string, limit int, sessionIDs ...string) ([]*store.MemoryChunkWithScore, error) {
	vector, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embed failed: %w", err)
	}
	return i.store.VectorSearch(ctx, &store.VectorSearchOptions{
		TopicID:    topicID,
		Vector:     vector,
		Limit:      limit,
		SessionIDs: sessionIDs,
	})
}

// ReindexTopic rebuilds the index for every session in a topic. Embedding
// runs in batches; a failed batch fails the whole rebuild so the index is
// never left half-stale without the caller knowing.
func (i *Indexer) ReindexTopic(ctx context.Context, topicID string) (int, error) {
	sessions, err := i.store.ListSessions(ctx, &store.FindSession{TopicID: &topicID})
	if err != nil {
		return 0, fmt.Errorf("session list failed: %w", err)
	}

	type pending struct {
		node  *store.Node
		plain string
		kind  store.ChunkType
	}
	var todo []pending
	for _, session := range sessions {
		nodes, err := i.store.ListNodes(ctx, &store.FindNode{SessionID: &session.ID})
		if err != nil {
			return 0, fmt.Errorf("node list failed for session %s: %w", session.ID, err)
		}
		for _, node := range nodes {
			content, kind, err := indexableContent(node)
			if err != nil {
				continue
			}
			if err := i.store.DeleteMemoryChunk(ctx, &store.DeleteMemoryChunk{NodeID: node.ID}); err != nil {
				return 0, fmt.Errorf("stale chunk cleanup failed: %w", err)
			}
			plain := markdownToPlain(content)
			if plain == "" {
				continue
			}
			todo = append(todo, pending{node: node, plain: plain, kind: kind})
		}
	}

	vectors := make([][]float32, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(todo); start += embedBatchSize {
		start := start
		end := start + embedBatchSize
		if end > len(todo) {
			end = len(todo)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, p := range todo[start:end] {
				texts = append(texts, p.plain)
			}
			batch, err := i.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d] failed: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embed batch [%d:%d] returned %d vectors", start, end, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	indexed := 0
	now := time.Now().Unix()
	for idx, p := range todo {
		tokenCount := i.counter.Count(p.plain)
		_, err := i.store.CreateMemoryChunk(ctx, &store.MemoryChunk{
			ID:            uuid.NewString(),
			TopicID:       topicID,
			SessionID:     p.node.SessionID,
			NodeID:        &p.node.ID,
			Content:       p.plain,
			ContentType:   p.kind,
			Embedding:     vectors[idx],
			PriorityBoost: p.kind.PriorityBoost(),
			TokenCount:    &tokenCount,
			CreatedTs:     now,
		})
		if err != nil {
			return indexed, fmt.Errorf("chunk create failed for node %s: %w", p.node.ID, err)
		}
		indexed++
	}

	slog.Info("Topic reindexed", "topic_id", topicID, "chunks", indexed)
	return indexed, nil
}
