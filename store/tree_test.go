package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
	"github.com/KDmytro/k-base/store/teststore"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(teststore.New(), &profile.Profile{})
	ctx := context.Background()
	_, err := s.CreateTopic(ctx, &store.Topic{ID: "topic-1", Name: "Distributed systems"})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, &store.Session{ID: "session-1", TopicID: "topic-1", Name: "Raft deep dive"})
	require.NoError(t, err)
	return s
}

func mustCreateNode(t *testing.T, s *store.Store, node *store.Node) *store.Node {
	t.Helper()
	if node.SessionID == "" {
		node.SessionID = "session-1"
	}
	if node.Type == "" {
		node.Type = store.NodeTypeUserMessage
	}
	if node.Status == "" {
		node.Status = store.NodeStatusActive
	}
	created, err := s.CreateNode(context.Background(), node)
	require.NoError(t, err)
	return created
}

func strPtr(s string) *string { return &s }

func TestGetPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	child := mustCreateNode(t, s, &store.Node{
		ID: "n2", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "reply", IsSelectedPath: true, CreatedTs: 2,
	})
	leaf := mustCreateNode(t, s, &store.Node{
		ID: "n3", ParentID: &child.ID, Content: "followup", IsSelectedPath: true, CreatedTs: 3,
	})

	path, err := s.GetPath(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, "n1", path[0].ID)
	assert.Equal(t, "n2", path[1].ID)
	assert.Equal(t, "n3", path[2].ID)

	session, err := s.GetSession(ctx, "session-1")
	require.NoError(t, err)
	require.NotNil(t, session.RootNodeID)
	assert.Equal(t, "n1", *session.RootNodeID, "first root node becomes the session root")
}

func TestGetPathMissingNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetPath(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateNodeAssignsSiblingIndexAndDeselects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	first := mustCreateNode(t, s, &store.Node{
		ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "take one", IsSelectedPath: true, CreatedTs: 2,
	})
	second := mustCreateNode(t, s, &store.Node{
		ID: "a2", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "take two", IsSelectedPath: true, CreatedTs: 3,
	})

	assert.Equal(t, 0, first.SiblingIndex)
	assert.Equal(t, 1, second.SiblingIndex)

	siblings, err := s.GetMainSiblings(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, siblings, 2)

	selectedCount := 0
	for _, sib := range siblings {
		if sib.IsSelectedPath {
			selectedCount++
			assert.Equal(t, "a2", sib.ID, "creating a selected sibling deselects the previous one")
		}
	}
	assert.Equal(t, 1, selectedCount)
}

func TestCreateNoteDoesNotDeselectSiblings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	selected := mustCreateNode(t, s, &store.Node{
		ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "answer", IsSelectedPath: true, CreatedTs: 2,
	})
	mustCreateNode(t, s, &store.Node{
		ID: "note-1", ParentID: &root.ID, Type: store.NodeTypeUserNote,
		Content: "remember this", CreatedTs: 3,
	})

	fetched, err := s.GetNode(ctx, selected.ID)
	require.NoError(t, err)
	assert.True(t, fetched.IsSelectedPath, "notes never compete for the selected path")
}

func TestSelectBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	first := mustCreateNode(t, s, &store.Node{
		ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "take one", IsSelectedPath: true, CreatedTs: 2,
	})
	second := mustCreateNode(t, s, &store.Node{
		ID: "a2", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "take two", IsSelectedPath: true, CreatedTs: 3,
	})
	note := mustCreateNode(t, s, &store.Node{
		ID: "note-1", ParentID: &root.ID, Type: store.NodeTypeUserNote,
		Content: "aside", CreatedTs: 4,
	})

	require.NoError(t, s.SelectBranch(ctx, first.ID))

	fetchedFirst, err := s.GetNode(ctx, first.ID)
	require.NoError(t, err)
	fetchedSecond, err := s.GetNode(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, fetchedFirst.IsSelectedPath)
	assert.False(t, fetchedSecond.IsSelectedPath)

	err = s.SelectBranch(ctx, note.ID)
	require.Error(t, err, "non-message nodes cannot be selected")

	err = s.SelectBranch(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetMainSiblingsRepairsSelection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	mustCreateNode(t, s, &store.Node{
		ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "take one", IsSelectedPath: true, CreatedTs: 2,
	})
	second := mustCreateNode(t, s, &store.Node{
		ID: "a2", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "take two", IsSelectedPath: true, CreatedTs: 3,
	})

	// Force a double selection behind the store's back.
	selected := true
	_, err := s.UpdateNode(ctx, &store.UpdateNode{ID: "a1", IsSelectedPath: &selected})
	require.NoError(t, err)

	siblings, err := s.GetMainSiblings(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, siblings, 2)

	var winners []string
	for _, sib := range siblings {
		if sib.IsSelectedPath {
			winners = append(winners, sib.ID)
		}
	}
	require.Len(t, winners, 1, "repair leaves exactly one selected sibling")
	assert.Equal(t, "a2", winners[0], "the newest sibling wins the repair")

	fetched, err := s.GetNode(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, fetched.IsSelectedPath, "repair is persisted, not just reported")
}

func TestIsForkPoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	mustCreateNode(t, s, &store.Node{
		ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "only child", IsSelectedPath: true, CreatedTs: 2,
	})

	fork, err := s.IsForkPoint(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, fork)

	mustCreateNode(t, s, &store.Node{
		ID: "a2", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "second child", IsSelectedPath: true, CreatedTs: 3,
	})

	fork, err = s.IsForkPoint(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, fork)
}

func TestGetSideChatThread(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	anchor := mustCreateNode(t, s, &store.Node{
		ID: "a1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "long answer about consensus and leases", IsSelectedPath: true, CreatedTs: 2,
	})

	sel := &store.Selection{Text: "leases", StartOffset: 30, EndOffset: 36}
	otherSel := &store.Selection{Text: "consensus", StartOffset: 18, EndOffset: 27}

	mustCreateNode(t, s, &store.Node{
		ID: "sc1", ParentID: &anchor.ID, Type: store.NodeTypeSideChatUser,
		Content: "what is a lease here?", Selection: sel, CreatedTs: 3,
	})
	mustCreateNode(t, s, &store.Node{
		ID: "sc2", ParentID: &anchor.ID, Type: store.NodeTypeSideChatAssistant,
		Content: "a time-bounded ownership grant", Selection: sel, CreatedTs: 4,
	})
	mustCreateNode(t, s, &store.Node{
		ID: "sc3", ParentID: &anchor.ID, Type: store.NodeTypeSideChatUser,
		Content: "and consensus?", Selection: otherSel, CreatedTs: 5,
	})
	mustCreateNode(t, s, &store.Node{
		ID: "sc4", ParentID: &anchor.ID, Type: store.NodeTypeSideChatUser,
		Content: "unanchored question", CreatedTs: 6,
	})

	thread, err := s.GetSideChatThread(ctx, anchor.ID, sel)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "sc1", thread[0].ID)
	assert.Equal(t, "sc2", thread[1].ID)

	unanchored, err := s.GetSideChatThread(ctx, anchor.ID, nil)
	require.NoError(t, err)
	require.Len(t, unanchored, 1)
	assert.Equal(t, "sc4", unanchored[0].ID)
}

func TestGetSubtreeMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	branch := mustCreateNode(t, s, &store.Node{
		ID: "b1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "branch head", IsSelectedPath: true, CreatedTs: 2,
	})
	mustCreateNode(t, s, &store.Node{
		ID: "b2", ParentID: &branch.ID, Content: "deeper", IsSelectedPath: true, CreatedTs: 3,
	})
	mustCreateNode(t, s, &store.Node{
		ID: "note-1", ParentID: &branch.ID, Type: store.NodeTypeUserNote,
		Content: "aside", CreatedTs: 4,
	})

	messages, err := s.GetSubtreeMessages(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2, "notes are not part of the message subtree")
	assert.Equal(t, "b1", messages[0].ID)
	assert.Equal(t, "b2", messages[1].ID)
}

func TestDeleteNodeCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := mustCreateNode(t, s, &store.Node{ID: "n1", Content: "root", IsSelectedPath: true, CreatedTs: 1})
	child := mustCreateNode(t, s, &store.Node{
		ID: "c1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Content: "child", IsSelectedPath: true, CreatedTs: 2,
	})
	grandchild := mustCreateNode(t, s, &store.Node{
		ID: "c2", ParentID: &child.ID, Content: "grandchild", IsSelectedPath: true, CreatedTs: 3,
	})
	_, err := s.CreateMemoryChunk(ctx, &store.MemoryChunk{
		ID: "chunk-1", TopicID: "topic-1", SessionID: "session-1",
		NodeID: strPtr(grandchild.ID), Content: "grandchild", ContentType: store.ChunkTypeMessage,
		Embedding: []float32{1, 0}, PriorityBoost: 1.0,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(ctx, &store.DeleteNode{ID: child.ID}))

	_, err = s.GetNode(ctx, grandchild.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	chunks, err := s.ListMemoryChunks(ctx, &store.FindMemoryChunk{NodeID: strPtr(grandchild.ID)})
	require.NoError(t, err)
	assert.Empty(t, chunks, "chunks follow their source node")
}

func TestVectorSearchWeighting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Identical embeddings; the note's priority boost must decide the order.
	embedding := []float32{1, 0, 0}
	_, err := s.CreateMemoryChunk(ctx, &store.MemoryChunk{
		ID: "chunk-msg", TopicID: "topic-1", SessionID: "session-1",
		Content: "plain message", ContentType: store.ChunkTypeMessage,
		Embedding: embedding, PriorityBoost: store.ChunkTypeMessage.PriorityBoost(),
	})
	require.NoError(t, err)
	_, err = s.CreateMemoryChunk(ctx, &store.MemoryChunk{
		ID: "chunk-note", TopicID: "topic-1", SessionID: "session-1",
		Content: "pinned note", ContentType: store.ChunkTypeNote,
		Embedding: embedding, PriorityBoost: store.ChunkTypeNote.PriorityBoost(),
	})
	require.NoError(t, err)
	_, err = s.CreateMemoryChunk(ctx, &store.MemoryChunk{
		ID: "chunk-other-topic", TopicID: "topic-2", SessionID: "session-9",
		Content: "foreign", ContentType: store.ChunkTypeMessage,
		Embedding: embedding, PriorityBoost: 1.0,
	})
	require.NoError(t, err)

	results, err := s.VectorSearch(ctx, &store.VectorSearchOptions{
		TopicID: "topic-1",
		Vector:  []float32{1, 0, 0},
	})
	require.NoError(t, err)
	require.Len(t, results, 2, "results never cross the topic boundary")
	assert.Equal(t, "chunk-note", results[0].Chunk.ID)
	assert.InDelta(t, 2.0, results[0].WeightedScore, 1e-9)
	assert.Equal(t, "chunk-msg", results[1].Chunk.ID)
	assert.InDelta(t, 1.0, results[1].WeightedScore, 1e-9)
}
