package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

func (d *DB) CreateMemoryChunk(ctx context.Context, create *store.MemoryChunk) (*store.MemoryChunk, error) {
	fields := []string{"id", "topic_id", "session_id", "node_id", "content", "content_type", "embedding", "priority_boost", "token_count", "created_ts"}
	args := []any{
		create.ID, create.TopicID, create.SessionID, create.NodeID, create.Content,
		string(create.ContentType), pgvector.NewVector(create.Embedding),
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
		chunk, err := scanMemoryChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, chunk)
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

// VectorSearch ranks chunks by cosine similarity multiplied by the stored
// priority boost. The topic filter is part of the WHERE clause, so no chunk
// from another topic can ever be returned regardless of score.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryChunkWithScore, error) {
	where, args := []string{}, []any{}

	args = append(args, opts.TopicID)
	where = append(where, "topic_id = "+placeholder(len(args)))
	if len(opts.SessionIDs) > 0 {
		holders := make([]string, 0, len(opts.SessionIDs))
		for _, sessionID := range opts.SessionIDs {
			args = append(args, sessionID)
			holders = append(holders, placeholder(len(args)))
		}
		where = append(where, "session_id IN ("+strings.Join(holders, ", ")+")")
	}

	args = append(args, pgvector.NewVector(opts.Vector))
	vectorParam := placeholder(len(args))
	args = append(args, opts.Limit)
	limitParam := placeholder(len(args))

	query := `
		SELECT id, topic_id, session_id, node_id, content, content_type, embedding, priority_boost, token_count, created_ts,
			1 - (embedding <=> ` + vectorParam + `) AS similarity,
			(1 - (embedding <=> ` + vectorParam + `)) * priority_boost AS weighted_score
		FROM memory_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY weighted_score DESC
		LIMIT ` + limitParam
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run vector search")
	}
	defer rows.Close()

	list := []*store.MemoryChunkWithScore{}
	for rows.Next() {
		var chunk store.MemoryChunk
		var embedding pgvector.Vector
		result := store.MemoryChunkWithScore{Chunk: &chunk}
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
			&result.Similarity,
			&result.WeightedScore,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		chunk.Embedding = embedding.Slice()
		list = append(list, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func scanMemoryChunk(scan func(dest ...any) error) (*store.MemoryChunk, error) {
	var chunk store.MemoryChunk
	var embedding pgvector.Vector
	if err := scan(
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
	chunk.Embedding = embedding.Slice()
	return &chunk, nil
}
