package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/ai/assembler"
	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/internal/profile"
	"github.com/KDmytro/k-base/store"
	"github.com/KDmytro/k-base/store/teststore"
)

// fakeStreamLLM replays a scripted token stream. With hang set it stalls
// after the tokens until the context dies, simulating a stuck provider.
type fakeStreamLLM struct {
	tokens []string
	stats  *ai.LLMCallStats
	err    error
	hang   bool
}

func (f *fakeStreamLLM) Chat(context.Context, []ai.Message) (string, *ai.LLMCallStats, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return strings.Join(f.tokens, ""), f.stats, nil
}

func (f *fakeStreamLLM) ChatStream(ctx context.Context, _ []ai.Message) (<-chan string, <-chan *ai.LLMCallStats, <-chan error) {
	contentChan := make(chan string, len(f.tokens)+1)
	statsChan := make(chan *ai.LLMCallStats, 1)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)
		if f.err != nil {
			errChan <- f.err
			return
		}
		for _, token := range f.tokens {
			select {
			case contentChan <- token:
			case <-ctx.Done():
				return
			}
		}
		if f.hang {
			<-ctx.Done()
			return
		}
		stats := f.stats
		if stats == nil {
			stats = &ai.LLMCallStats{TotalTokens: len(f.tokens)}
		}
		statsChan <- stats
	}()
	return contentChan, statsChan, errChan
}

type fakeEmbedder struct{}

func (*fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}

func (*fakeEmbedder) Dimensions() int { return 3 }

func newCoordinator(t *testing.T, llm ai.LLMService, withIndexer bool) (*Coordinator, *store.Store) {
	t.Helper()
	s := store.New(teststore.New(), &profile.Profile{})
	ctx := context.Background()
	_, err := s.CreateTopic(ctx, &store.Topic{ID: "topic-1", Name: "Compilers"})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, &store.Session{ID: "session-1", TopicID: "topic-1", Name: "SSA"})
	require.NoError(t, err)

	var indexer *memory.Indexer
	if withIndexer {
		indexer = memory.NewIndexer(s, &fakeEmbedder{})
	}
	asm, err := assembler.New(s, indexer, assembler.Options{})
	require.NoError(t, err)
	return NewCoordinator(s, llm, asm, indexer, nil, "test-model"), s
}

// collectEvents drains the stream with a deadline so a stuck coordinator
// fails the test instead of hanging it.
func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func TestStreamHappyPath(t *testing.T) {
	ctx := context.Background()
	llm := &fakeStreamLLM{
		tokens: []string{"SSA ", "makes ", "optimization ", "simpler."},
		stats:  &ai.LLMCallStats{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	}
	c, s := newCoordinator(t, llm, true)

	events, err := c.Stream(ctx, &Request{SessionID: "session-1", Content: "what is SSA form?"})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	require.GreaterOrEqual(t, len(collected), 3)
	first := collected[0]
	assert.Equal(t, EventUserNode, first.Type)
	require.NotNil(t, first.UserNode)
	assert.Equal(t, store.NodeTypeUserMessage, first.UserNode.Type)
	assert.True(t, first.UserNode.IsSelectedPath)

	var streamed strings.Builder
	for _, ev := range collected[1 : len(collected)-1] {
		require.Equal(t, EventToken, ev.Type)
		assert.Equal(t, first.StreamID, ev.StreamID, "every event carries the same stream id")
		streamed.WriteString(ev.Token)
	}
	assert.Equal(t, "SSA makes optimization simpler.", streamed.String())

	last := collected[len(collected)-1]
	require.Equal(t, EventComplete, last.Type)
	require.NotNil(t, last.AssistantNode)
	require.NotNil(t, last.Stats)
	assert.Equal(t, 28, last.Stats.TotalTokens)

	assistant, err := s.GetNode(ctx, last.AssistantNode.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NodeTypeAssistantMessage, assistant.Type)
	assert.Equal(t, "SSA makes optimization simpler.", assistant.Content)
	require.NotNil(t, assistant.ParentID)
	assert.Equal(t, first.UserNode.ID, *assistant.ParentID, "the reply hangs off the user turn")
	assert.True(t, assistant.IsSelectedPath)
	assert.Nil(t, assistant.GenerationConfig, "a clean finish leaves no interruption marker")

	// Nothing is indexed yet: a first turn has no reply to accept, and the
	// fresh reply waits for the user to continue from it.
	topicID := "topic-1"
	chunks, err := s.ListMemoryChunks(ctx, &store.FindMemoryChunk{TopicID: &topicID})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

// fakeBurstLLM publishes the whole reply and the stats before the consumer
// reads anything, so tokens are still queued when the stats arrive.
type fakeBurstLLM struct {
	tokens []string
	stats  *ai.LLMCallStats
}

func (f *fakeBurstLLM) Chat(context.Context, []ai.Message) (string, *ai.LLMCallStats, error) {
	return strings.Join(f.tokens, ""), f.stats, nil
}

func (f *fakeBurstLLM) ChatStream(context.Context, []ai.Message) (<-chan string, <-chan *ai.LLMCallStats, <-chan error) {
	contentChan := make(chan string, len(f.tokens))
	statsChan := make(chan *ai.LLMCallStats, 1)
	errChan := make(chan error, 1)
	for _, token := range f.tokens {
		contentChan <- token
	}
	statsChan <- f.stats
	close(contentChan)
	close(statsChan)
	close(errChan)
	return contentChan, statsChan, errChan
}

func TestStreamDeliversTokensQueuedBehindStats(t *testing.T) {
	ctx := context.Background()
	llm := &fakeBurstLLM{
		tokens: []string{"The query ", "planner ", "evaluates ", "join ", "orders."},
		stats:  &ai.LLMCallStats{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	}
	c, s := newCoordinator(t, llm, false)

	// The stats are ready before the first token is consumed, so the
	// scheduling of channel reads must not decide whether the tail of the
	// reply survives. Repeat to cover different interleavings.
	for i := 0; i < 100; i++ {
		events, err := c.Stream(ctx, &Request{SessionID: "session-1", Content: "how are joins planned?"})
		require.NoError(t, err)
		collected := collectEvents(t, events)

		var streamed strings.Builder
		for _, ev := range collected {
			if ev.Type == EventToken {
				streamed.WriteString(ev.Token)
			}
		}
		require.Equal(t, "The query planner evaluates join orders.", streamed.String())

		last := collected[len(collected)-1]
		require.Equal(t, EventComplete, last.Type)
		require.NotNil(t, last.Stats, "stats arriving early are still reported")
		assert.Equal(t, 19, last.Stats.TotalTokens)

		assistant, err := s.GetNode(ctx, last.AssistantNode.ID)
		require.NoError(t, err)
		require.Equal(t, "The query planner evaluates join orders.", assistant.Content)
	}
}

func TestStreamIndexesAcceptedReply(t *testing.T) {
	ctx := context.Background()
	llm := &fakeStreamLLM{tokens: []string{"registers are renamed"}}
	c, s := newCoordinator(t, llm, true)

	root, err := s.CreateNode(ctx, &store.Node{
		ID: "u1", SessionID: "session-1", Type: store.NodeTypeUserMessage,
		Status: store.NodeStatusActive, Content: "what limits ILP?", IsSelectedPath: true, CreatedTs: 1,
	})
	require.NoError(t, err)
	reply, err := s.CreateNode(ctx, &store.Node{
		ID: "a1", SessionID: "session-1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Status: store.NodeStatusActive, Content: "false dependencies limit ILP", IsSelectedPath: true, CreatedTs: 2,
	})
	require.NoError(t, err)

	events, err := c.Stream(ctx, &Request{ParentID: reply.ID, Content: "how does renaming help?"})
	require.NoError(t, err)
	collectEvents(t, events)

	// Continuing under the reply accepted it into topic memory; the new
	// reply itself is not indexed until it is accepted in turn.
	topicID := "topic-1"
	chunks, err := s.ListMemoryChunks(ctx, &store.FindMemoryChunk{TopicID: &topicID})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].NodeID)
	assert.Equal(t, reply.ID, *chunks[0].NodeID)
	assert.Equal(t, store.ChunkTypeMessage, chunks[0].ContentType)

	// A second turn under the same reply does not double-index it.
	events, err = c.Stream(ctx, &Request{ParentID: reply.ID, Content: "and out-of-order issue?"})
	require.NoError(t, err)
	collectEvents(t, events)

	chunks, err = s.ListMemoryChunks(ctx, &store.FindMemoryChunk{TopicID: &topicID})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestRegenerateCreatesSelectedSibling(t *testing.T) {
	ctx := context.Background()
	llm := &fakeStreamLLM{
		tokens: []string{"a fresh take on SSA"},
		stats:  &ai.LLMCallStats{TotalTokens: 6},
	}
	c, s := newCoordinator(t, llm, false)

	root, err := s.CreateNode(ctx, &store.Node{
		ID: "u1", SessionID: "session-1", Type: store.NodeTypeUserMessage,
		Status: store.NodeStatusActive, Content: "what is SSA form?", IsSelectedPath: true, CreatedTs: 1,
	})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, &store.Node{
		ID: "a1", SessionID: "session-1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Status: store.NodeStatusActive, Content: "stale answer", IsSelectedPath: true, CreatedTs: 2,
	})
	require.NoError(t, err)

	regenerated, stats, err := c.Regenerate(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, store.NodeTypeAssistantMessage, regenerated.Type)
	assert.Equal(t, "a fresh take on SSA", regenerated.Content)
	require.NotNil(t, regenerated.ParentID)
	assert.Equal(t, root.ID, *regenerated.ParentID, "the new reply answers the same user turn")
	assert.True(t, regenerated.IsSelectedPath)
	assert.Equal(t, 1, regenerated.SiblingIndex)

	displaced, err := s.GetNode(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, displaced.IsSelectedPath, "the stale reply stays but loses selection")
	assert.Equal(t, store.NodeStatusActive, displaced.Status)
}

func TestRegenerateValidation(t *testing.T) {
	ctx := context.Background()
	c, s := newCoordinator(t, &fakeStreamLLM{tokens: []string{"x"}}, false)

	_, err := s.CreateNode(ctx, &store.Node{
		ID: "u1", SessionID: "session-1", Type: store.NodeTypeUserMessage,
		Status: store.NodeStatusActive, Content: "question", IsSelectedPath: true, CreatedTs: 1,
	})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, &store.Node{
		ID: "orphan", SessionID: "session-1", Type: store.NodeTypeAssistantMessage,
		Status: store.NodeStatusActive, Content: "rootless reply", CreatedTs: 2,
	})
	require.NoError(t, err)

	_, _, err = c.Regenerate(ctx, "u1")
	require.Error(t, err, "user messages cannot be regenerated")

	_, _, err = c.Regenerate(ctx, "orphan")
	require.Error(t, err, "a reply without a parent has no prompt to rebuild")

	_, _, err = c.Regenerate(ctx, "missing")
	require.Error(t, err)
}

func TestStreamValidation(t *testing.T) {
	c, _ := newCoordinator(t, &fakeStreamLLM{}, false)

	_, err := c.Stream(context.Background(), &Request{SessionID: "session-1", Content: "   "})
	require.Error(t, err)

	_, err = c.Stream(context.Background(), &Request{Content: "hello", SideChat: true})
	require.Error(t, err)

	_, err = c.Stream(context.Background(), &Request{Content: "hello"})
	require.Error(t, err, "a root message needs a session id")
}

func TestStreamLLMErrorKeepsUserNode(t *testing.T) {
	ctx := context.Background()
	llm := &fakeStreamLLM{err: errors.New("provider down")}
	c, s := newCoordinator(t, llm, false)

	events, err := c.Stream(ctx, &Request{SessionID: "session-1", Content: "doomed question"})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	require.Len(t, collected, 2)
	assert.Equal(t, EventUserNode, collected[0].Type)
	require.Equal(t, EventError, collected[1].Type)
	assert.Error(t, collected[1].Err)

	// The user's turn survives the failed generation.
	userNode, err := s.GetNode(ctx, collected[0].UserNode.ID)
	require.NoError(t, err)
	assert.Equal(t, "doomed question", userNode.Content)

	sessionID := "session-1"
	replies, err := s.ListNodes(ctx, &store.FindNode{SessionID: &sessionID, Types: []store.NodeType{store.NodeTypeAssistantMessage}})
	require.NoError(t, err)
	assert.Empty(t, replies, "no assistant node is written for a failed generation")
}

func TestStreamCancellationPersistsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	llm := &fakeStreamLLM{tokens: []string{"partial answer "}, hang: true}
	c, s := newCoordinator(t, llm, false)

	events, err := c.Stream(ctx, &Request{SessionID: "session-1", Content: "long question"})
	require.NoError(t, err)

	var collected []Event
	deadline := time.After(5 * time.Second)
	for ev := range events {
		collected = append(collected, ev)
		if ev.Type == EventToken {
			cancel()
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for stream shutdown")
		default:
		}
	}

	last := collected[len(collected)-1]
	require.Equal(t, EventComplete, last.Type, "generated text is kept even when the client goes away")
	require.NotNil(t, last.AssistantNode)

	assistant, err := s.GetNode(context.Background(), last.AssistantNode.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial answer ", assistant.Content)
	require.NotNil(t, assistant.GenerationConfig)
	assert.Equal(t, true, assistant.GenerationConfig["incomplete"])
	assert.Equal(t, "cancelled", assistant.GenerationConfig["finish_reason"])
}

func TestStreamSideChat(t *testing.T) {
	ctx := context.Background()
	llm := &fakeStreamLLM{tokens: []string{"a phi node merges values"}}
	c, s := newCoordinator(t, llm, false)

	root, err := s.CreateNode(ctx, &store.Node{
		ID: "u1", SessionID: "session-1", Type: store.NodeTypeUserMessage,
		Status: store.NodeStatusActive, Content: "explain SSA", IsSelectedPath: true, CreatedTs: 1,
	})
	require.NoError(t, err)
	anchor, err := s.CreateNode(ctx, &store.Node{
		ID: "a1", SessionID: "session-1", ParentID: &root.ID, Type: store.NodeTypeAssistantMessage,
		Status: store.NodeStatusActive, Content: "SSA uses phi nodes at joins", IsSelectedPath: true, CreatedTs: 2,
	})
	require.NoError(t, err)

	sel := &store.Selection{Text: "phi nodes", StartOffset: 9, EndOffset: 18}
	events, err := c.Stream(ctx, &Request{
		ParentID:  anchor.ID,
		Content:   "what is a phi node?",
		SideChat:  true,
		Selection: sel,
	})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	first := collected[0]
	require.Equal(t, EventUserNode, first.Type)
	assert.Equal(t, store.NodeTypeSideChatUser, first.UserNode.Type)
	assert.False(t, first.UserNode.IsSelectedPath)
	require.NotNil(t, first.UserNode.ParentID)
	assert.Equal(t, anchor.ID, *first.UserNode.ParentID)

	last := collected[len(collected)-1]
	require.Equal(t, EventComplete, last.Type)
	assistant := last.AssistantNode
	assert.Equal(t, store.NodeTypeSideChatAssistant, assistant.Type)
	require.NotNil(t, assistant.ParentID)
	assert.Equal(t, anchor.ID, *assistant.ParentID, "both sides of the thread sit under the anchor")
	assert.False(t, assistant.IsSelectedPath)
	require.NotNil(t, assistant.Selection)
	assert.True(t, sel.Equal(assistant.Selection))

	thread, err := s.GetSideChatThread(ctx, anchor.ID, sel)
	require.NoError(t, err)
	require.Len(t, thread, 2)

	// The main path is untouched by the side chat.
	mainPath, err := s.GetPath(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Len(t, mainPath, 2)
}
