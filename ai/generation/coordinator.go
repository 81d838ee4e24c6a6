// Package generation coordinates streaming reply generation: persisting the
// user turn, assembling context, relaying tokens, and persisting the
// assistant turn even when the request connection is gone.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/ai/assembler"
	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/ai/metrics"
	"github.com/KDmytro/k-base/store"
)

// persistTimeout bounds the detached persistence window after the request
// context dies.
const persistTimeout = 10 * time.Second

// Request describes one generation turn.
type Request struct {
	// ParentID is the node the user message attaches to. Empty for the
	// first message of a session.
	ParentID string

	// SessionID is required when ParentID is empty.
	SessionID string

	// Content is the user message text.
	Content string

	// GenerationConfig is stored on the user node verbatim.
	GenerationConfig map[string]any

	// SideChat switches the turn into an isolated side-chat thread under
	// ParentID, scoped by Selection.
	SideChat           bool
	Selection          *store.Selection
	IncludeMainContext bool
}

// Coordinator runs generations. Metrics and indexer are optional.
type Coordinator struct {
	store     *store.Store
	llm       ai.LLMService
	assembler *assembler.Assembler
	indexer   *memory.Indexer
	exporter  *metrics.PrometheusExporter
	model     string
}

// NewCoordinator creates a generation coordinator.
func NewCoordinator(s *store.Store, llm ai.LLMService, asm *assembler.Assembler, indexer *memory.Indexer, exporter *metrics.PrometheusExporter, model string) *Coordinator {
	return &Coordinator{
		store:     s,
		llm:       llm,
		assembler: asm,
		indexer:   indexer,
		exporter:  exporter,
		model:     model,
	}
}

// Stream runs one generation and emits ordered events on the returned
// channel: user_node, then tokens, then exactly one of complete or error.
// The channel is closed after the terminal event.
//
// The user node is persisted before any model call, so a failed generation
// still leaves the user's turn in the tree. Assistant persistence runs on a
// context detached from the request: client disconnection cannot lose
// already-generated content.
func (c *Coordinator) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}
	if req.SideChat && req.ParentID == "" {
		return nil, errors.New("side chat requires a parent node")
	}

	userNode, err := c.persistUserNode(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	streamID := shortuuid.New()
	go c.run(ctx, req, userNode, streamID, events)
	return events, nil
}

func (c *Coordinator) persistUserNode(ctx context.Context, req *Request) (*store.Node, error) {
	now := time.Now().Unix()
	node := &store.Node{
		ID:               uuid.NewString(),
		Content:          req.Content,
		Status:           store.NodeStatusActive,
		GenerationConfig: req.GenerationConfig,
		CreatedTs:        now,
		UpdatedTs:        now,
	}

	if req.ParentID != "" {
		parent, err := c.store.GetNode(ctx, req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent lookup failed: %w", err)
		}
		node.SessionID = parent.SessionID
		node.ParentID = &parent.ID
	} else {
		if req.SessionID == "" {
			return nil, errors.New("session id is required for a root message")
		}
		node.SessionID = req.SessionID
	}

	if req.SideChat {
		node.Type = store.NodeTypeSideChatUser
		node.Selection = req.Selection
		node.IsSelectedPath = false
	} else {
		node.Type = store.NodeTypeUserMessage
		node.IsSelectedPath = true
	}

	created, err := c.store.CreateNode(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("user node create failed: %w", err)
	}
	return created, nil
}

func (c *Coordinator) run(ctx context.Context, req *Request, userNode *store.Node, streamID string, events chan<- Event) {
	defer close(events)

	if c.exporter != nil {
		c.exporter.GenerationStarted()
		defer c.exporter.GenerationFinished()
	}
	startTime := time.Now()
	kind := "main"
	if req.SideChat {
		kind = "side_chat"
	}

	events <- Event{Type: EventUserNode, StreamID: streamID, UserNode: userNode}
	c.indexAcceptedParent(ctx, userNode)

	assembled, err := c.assemble(ctx, req, userNode)
	if err != nil {
		c.finishError(events, streamID, kind, startTime, fmt.Errorf("context assembly failed: %w", err))
		return
	}
	if c.exporter != nil {
		c.exporter.RecordContextAssembly(assembled.TokenEstimate, len(assembled.UsedChunkIDs), assembled.Truncated)
	}

	contentChan, statsChan, errChan := c.llm.ChatStream(ctx, assembled.Messages)

	var sb strings.Builder
	var stats *ai.LLMCallStats
	interrupted := false

loop:
	for {
		select {
		case token, ok := <-contentChan:
			if !ok {
				contentChan = nil
				if statsChan == nil {
					break loop
				}
				continue
			}
			sb.WriteString(token)
			events <- Event{Type: EventToken, StreamID: streamID, Token: token}
		case s, ok := <-statsChan:
			if ok && s != nil {
				stats = s
			}
			// Stats can land while tokens are still queued behind them;
			// keep draining the content channel so the tail of the reply
			// is never dropped from the stream or the persisted node.
			statsChan = nil
			if contentChan == nil {
				break loop
			}
		case streamErr, ok := <-errChan:
			if ok && streamErr != nil {
				if sb.Len() == 0 {
					c.finishError(events, streamID, kind, startTime, streamErr)
					return
				}
				interrupted = true
				break loop
			}
			errChan = nil
		case <-ctx.Done():
			interrupted = true
			break loop
		}
	}

	text := sb.String()
	if text == "" && interrupted {
		c.finishError(events, streamID, kind, startTime, ctx.Err())
		return
	}

	assistantNode, err := c.persistAssistantNode(ctx, req, userNode, text, interrupted)
	if err != nil {
		c.finishError(events, streamID, kind, startTime, fmt.Errorf("assistant persistence failed: %w", err))
		return
	}

	if c.exporter != nil {
		c.exporter.RecordGeneration(kind, time.Since(startTime), true)
		if stats != nil {
			c.exporter.RecordLLMTokens(c.model, "prompt", stats.PromptTokens)
			c.exporter.RecordLLMTokens(c.model, "completion", stats.CompletionTokens)
		}
	}

	// The request context may already be dead; the terminal event is
	// best-effort once persistence has succeeded.
	select {
	case events <- Event{Type: EventComplete, StreamID: streamID, AssistantNode: assistantNode, Stats: stats}:
	case <-time.After(time.Second):
	}
}

func (c *Coordinator) assemble(ctx context.Context, req *Request, userNode *store.Node) (*assembler.Assembled, error) {
	if req.SideChat {
		return c.assembler.BuildSideChatContext(ctx, req.ParentID, assembler.SideChatOptions{
			Selection:          req.Selection,
			IncludeMainContext: req.IncludeMainContext,
		})
	}
	return c.assembler.BuildMainContext(ctx, userNode.ID, req.Content)
}

// persistAssistantNode writes the assistant turn on a context detached from
// the request, so a client disconnect mid-stream cannot lose the text that
// was already generated. Interrupted generations are marked in the node's
// generation config.
func (c *Coordinator) persistAssistantNode(ctx context.Context, req *Request, userNode *store.Node, text string, interrupted bool) (*store.Node, error) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	now := time.Now().Unix()
	node := &store.Node{
		ID:        uuid.NewString(),
		SessionID: userNode.SessionID,
		Content:   text,
		Status:    store.NodeStatusActive,
		CreatedTs: now,
		UpdatedTs: now,
	}
	if req.SideChat {
		// Side-chat turns are siblings under the anchor, bound to the same
		// selection.
		node.Type = store.NodeTypeSideChatAssistant
		node.ParentID = userNode.ParentID
		node.Selection = req.Selection
		node.IsSelectedPath = false
	} else {
		node.Type = store.NodeTypeAssistantMessage
		node.ParentID = &userNode.ID
		node.IsSelectedPath = true
	}
	if interrupted {
		node.GenerationConfig = map[string]any{
			"incomplete":    true,
			"finish_reason": "cancelled",
		}
		slog.Warn("Persisting interrupted generation", "node_id", node.ID, "chars", len(text))
	}

	created, err := c.store.CreateNode(detached, node)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// indexAcceptedParent indexes the assistant message a new main-conversation
// turn was created under. Continuing from a reply is the implicit signal
// that the user found it worth building on; that is the moment the reply
// enters topic memory. Best-effort: a skip is normal and a failure only
// logs.
func (c *Coordinator) indexAcceptedParent(ctx context.Context, userNode *store.Node) {
	if c.indexer == nil || userNode.Type != store.NodeTypeUserMessage || userNode.ParentID == nil {
		return
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	parent, err := c.store.GetNode(detached, *userNode.ParentID)
	if err != nil {
		slog.Warn("Accepted-reply lookup failed", "node_id", *userNode.ParentID, "error", err)
		return
	}
	if parent.Type != store.NodeTypeAssistantMessage {
		return
	}
	session, err := c.store.GetSession(detached, parent.SessionID)
	if err != nil {
		slog.Warn("Indexing session lookup failed", "node_id", parent.ID, "error", err)
		return
	}
	chunk, err := c.indexer.IndexNode(detached, session.TopicID, parent)
	if err != nil {
		if errors.Is(err, memory.ErrIndexingSkipped) {
			return
		}
		slog.Warn("Accepted-reply indexing failed", "node_id", parent.ID, "error", err)
		if c.exporter != nil {
			c.exporter.RecordIndexingError("index_node")
		}
		return
	}
	if c.exporter != nil && chunk != nil {
		c.exporter.RecordIndexedChunk(string(chunk.ContentType))
	}
}

// Regenerate produces a fresh assistant reply as a new selected sibling of
// an existing one. The prompt is rebuilt from the same user turn, so edits
// to earlier history and newly indexed memory take effect. The displaced
// reply keeps its subtree and can be reselected.
func (c *Coordinator) Regenerate(ctx context.Context, nodeID string) (*store.Node, *ai.LLMCallStats, error) {
	node, err := c.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if node.Type != store.NodeTypeAssistantMessage {
		return nil, nil, fmt.Errorf("only assistant messages can be regenerated, %s is %s", nodeID, node.Type)
	}
	if node.ParentID == nil {
		return nil, nil, fmt.Errorf("assistant node %s has no parent to regenerate from", nodeID)
	}

	userNode, err := c.store.GetNode(ctx, *node.ParentID)
	if err != nil {
		return nil, nil, fmt.Errorf("regenerate parent lookup failed: %w", err)
	}

	startTime := time.Now()
	assembled, err := c.assembler.BuildMainContext(ctx, userNode.ID, userNode.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("context assembly failed: %w", err)
	}

	text, stats, err := c.llm.Chat(ctx, assembled.Messages)
	if err != nil {
		if c.exporter != nil {
			c.exporter.RecordGeneration("regenerate", time.Since(startTime), false)
		}
		return nil, nil, err
	}

	now := time.Now().Unix()
	created, err := c.store.CreateNode(ctx, &store.Node{
		ID:               uuid.NewString(),
		SessionID:        node.SessionID,
		ParentID:         node.ParentID,
		Content:          text,
		Type:             store.NodeTypeAssistantMessage,
		Status:           store.NodeStatusActive,
		IsSelectedPath:   true,
		GenerationConfig: map[string]any{"model": c.model},
		CreatedTs:        now,
		UpdatedTs:        now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("regenerated node create failed: %w", err)
	}

	if c.exporter != nil {
		c.exporter.RecordGeneration("regenerate", time.Since(startTime), true)
		if stats != nil {
			c.exporter.RecordLLMTokens(c.model, "prompt", stats.PromptTokens)
			c.exporter.RecordLLMTokens(c.model, "completion", stats.CompletionTokens)
		}
	}
	slog.Info("Reply regenerated",
		"replaced_id", nodeID,
		"node_id", created.ID,
		"sibling_index", created.SiblingIndex,
	)
	return created, stats, nil
}

func (c *Coordinator) finishError(events chan<- Event, streamID, kind string, startTime time.Time, err error) {
	if err == nil {
		err = errors.New("generation interrupted")
	}
	slog.Error("Generation failed", "stream_id", streamID, "error", err)
	if c.exporter != nil {
		c.exporter.RecordGeneration(kind, time.Since(startTime), false)
	}
	select {
	case events <- Event{Type: EventError, StreamID: streamID, Err: err}:
	case <-time.After(time.Second):
	}
}
