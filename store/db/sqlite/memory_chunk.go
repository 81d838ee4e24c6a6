package sqlite

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

// encodeVector serializes an embedding as little-endian float32 bytes.
// SQLite has no vector type, so embeddings live in a BLOB column and
// similarity is computed in Go.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, errors.Errorf("malformed embedding blob of %d bytes", len(buf))
	}
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (d *DB) CreateMemoryChunk(ctx context.Context, create *store.MemoryChunk) (*store.MemoryChunk, error) {
	fields := []string{"id", "topic_id", "session_id", "node_id", "content", "content_type", "embedding", "priority_boost", "token_count", "created_ts"}
	args := []any{
		create.ID, create.TopicID, create.SessionID, create.NodeID, create.Content,
		string(create.ContentType), encodeVector(create.Embedding),
		create.PriorityBoost, create.TokenCount, create.CreatedTs,
	}

	stmt := `INSERT INTO memory_chunk (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create memory chunk")
	}
	return create, nil
}

func (d *DB) ListMemoryChunks(ctx context.Context, find *store.FindMemoryChunk) ([]*store.MemoryChunk, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.TopicID != nil {
		where, args = append(where, "topic_id = "+placeholder(len(args)+1)), append(args, *find.TopicID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.NodeID != nil {
		where, args = append(where, "node_id = "+placeholder(len(args)+1)), append(args, *find.NodeID)
	}
	if find.ContentType != nil {
		where, args = append(where, "content_type = "+placeholder(len(args)+1)), append(args, string(*find.ContentType))
	}

	query := `
		SELECT id, topic_id, session_id, node_id, content, content_type, embedding, priority_boost, token_count, created_ts
		FROM memory_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory chunks")
	}
	defer rows.Close()

	list := []*store.MemoryChunk{}
	for rows.Next() {
		var chunk store.MemoryChunk
		var embedding []byte
		if err := rows.Scan(
			&chunk.ID,
			&chunk.TopicID,
			&chunk.SessionID,
			&chunk.NodeID,
			&chunk.Content,
			&chunk.ContentType,
			&embedding,
			&chunk.PriorityBoost,
			&chunk.TokenCount,
			&chunk.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory chunk")
		}
		if chunk.Embedding, err = decodeVector(embedding); err != nil {
			return nil, err
		}
		list = append(list, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteMemoryChunk(ctx context.Context, delete *store.DeleteMemoryChunk) error {
	stmt := `DELETE FROM memory_chunk WHERE node_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, delete.NodeID); err != nil {
		return errors.Wrap(err, "failed to delete memory chunks")
	}
	return nil
}

// VectorSearch loads the topic's chunks and ranks them in Go by cosine
// similarity multiplied by the stored priority boost. The topic filter is
// applied in SQL, so no chunk from another topic can appear in results.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryChunkWithScore, error) {
	find := store.FindMemoryChunk{TopicID: &opts.TopicID}
	chunks, err := d.ListMemoryChunks(ctx, &find)
	if err != nil {
		return nil, err
	}

	sessionFilter := map[string]bool{}
	for _, sessionID := range opts.SessionIDs {
		sessionFilter[sessionID] = true
	}

	list := []*store.MemoryChunkWithScore{}
	for _, chunk := range chunks {
		if len(sessionFilter) > 0 && !sessionFilter[chunk.SessionID] {
			continue
		}
		similarity := cosineSimilarity(opts.Vector, chunk.Embedding)
		list = append(list, &store.MemoryChunkWithScore{
			Chunk:         chunk,
			Similarity:    similarity,
			WeightedScore: similarity * chunk.PriorityBoost,
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].WeightedScore > list[j].WeightedScore
	})
	if len(list) > opts.Limit {
		list = list[:opts.Limit]
	}
	return list, nil
}
