// Package assembler builds token-budgeted LLM prompts from the conversation
// tree and the memory index.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/ai/memory"
	"github.com/KDmytro/k-base/store"
)

const baseSystemPrompt = `You are a knowledgeable assistant helping the user explore a topic in depth.
Conversation history may include summaries of earlier discussion branches; treat them as established context.
Notes marked as user notes are the user's own annotations, not questions.`

// summarySubstitution is the inline representation of a collapsed branch on
// the active path.
const summarySubstitution = "[Previous discussion summary: %s]"

// Options configures an Assembler.
type Options struct {
	MaxTokens        int // hard upper bound for the assembled prompt
	ResponseHeadroom int // tokens reserved for the model's response
	MaxMemoryResults int // top-k retrieval from the memory index
}

// Validate applies defaults and rejects impossible budgets.
func (o *Options) Validate() error {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8000
	}
	if o.ResponseHeadroom <= 0 {
		o.ResponseHeadroom = 1000
	}
	if o.MaxMemoryResults <= 0 {
		o.MaxMemoryResults = 5
	}
	if o.ResponseHeadroom >= o.MaxTokens {
		return fmt.Errorf("response headroom %d leaves no room in budget %d", o.ResponseHeadroom, o.MaxTokens)
	}
	return nil
}

// Assembled is a ready-to-send prompt plus bookkeeping about how it was
// built.
type Assembled struct {
	Messages []ai.Message

	// UsedChunkIDs lists the memory chunks included in the retrieval block,
	// in rank order.
	UsedChunkIDs []string

	// TokenEstimate is the estimated prompt size.
	TokenEstimate int

	// Truncated reports that older history was dropped to fit the budget.
	Truncated bool
}

// Assembler builds prompts. The memory indexer is optional; without it the
// retrieval block is simply absent.
type Assembler struct {
	store   *store.Store
	memory  *memory.Indexer
	counter ai.SimpleTokenCounter
	opts    Options
}

// New creates an assembler.
func New(s *store.Store, mem *memory.Indexer, opts Options) (*Assembler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{store: s, memory: mem, opts: opts}, nil
}

// BuildMainContext assembles the prompt for generating a reply to nodeID,
// which must be the latest user message on its path. The prompt is the
// system instruction, a retrieval block for the query, and the root-to-node
// history with collapsed branches substituted by their summaries.
//
// The system instruction and retrieval block are never dropped; when the
// budget is tight, history is truncated oldest-first instead.
func (a *Assembler) BuildMainContext(ctx context.Context, nodeID, query string) (*Assembled, error) {
	path, err := a.store.GetPath(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("path resolution failed: %w", err)
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("empty path for node %s", nodeID)
	}

	session, err := a.store.GetSession(ctx, path[0].SessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}

	fixed := []ai.Message{ai.SystemPrompt(baseSystemPrompt)}
	var usedChunkIDs []string
	if a.memory != nil && query != "" {
		block, chunkIDs, err := a.retrievalBlock(ctx, session.TopicID, query)
		if err != nil {
			// Retrieval failure degrades the prompt, it does not block the
			// conversation.
			slog.Warn("Memory retrieval failed, assembling without it", "topic_id", session.TopicID, "error", err)
		} else if block != "" {
			fixed = append(fixed, ai.SystemPrompt(block))
			usedChunkIDs = chunkIDs
		}
	}

	history := a.pathMessages(path)
	messages, truncated, err := a.fitBudget(fixed, history)
	if err != nil {
		return nil, err
	}

	assembled := &Assembled{
		Messages:      messages,
		UsedChunkIDs:  usedChunkIDs,
		TokenEstimate: a.counter.CountMessages(messages),
		Truncated:     truncated,
	}
	slog.Debug("Context assembled",
		"node_id", nodeID,
		"messages", len(messages),
		"tokens", assembled.TokenEstimate,
		"truncated", truncated,
		"retrieved_chunks", len(usedChunkIDs),
	)
	return assembled, nil
}

// pathMessages converts a root-to-node path into chat messages. Abandoned
// and merged nodes are skipped, collapsed nodes contribute their summary
// substitution, and user notes become system asides.
func (a *Assembler) pathMessages(path []*store.Node) []ai.Message {
	var history []ai.Message
	for _, node := range path {
		if node.Status == store.NodeStatusAbandoned || node.Status == store.NodeStatusMerged {
			continue
		}

		switch node.Type {
		case store.NodeTypeUserMessage, store.NodeTypeAssistantMessage:
			content, ok := node.ContextContent()
			if !ok {
				continue
			}
			if node.Status == store.NodeStatusCollapsed {
				history = append(history, ai.AssistantMessage(fmt.Sprintf(summarySubstitution, content)))
				continue
			}
			if node.Type == store.NodeTypeUserMessage {
				history = append(history, ai.UserMessage(content))
			} else {
				history = append(history, ai.AssistantMessage(content))
			}
		case store.NodeTypeUserNote:
			history = append(history, ai.SystemPrompt("User note: "+node.Content))
		case store.NodeTypeBranchSummary:
			history = append(history, ai.AssistantMessage(fmt.Sprintf(summarySubstitution, node.Content)))
		case store.NodeTypeSystem:
			history = append(history, ai.SystemPrompt(node.Content))
		default:
			// Side-chat nodes never sit on a main path.
		}
	}
	return history
}

// retrievalBlock searches the topic memory and formats the hits into one
// system block.
func (a *Assembler) retrievalBlock(ctx context.Context, topicID, query string) (string, []string, error) {
	results, err := a.memory.Search(ctx, topicID, query, a.opts.MaxMemoryResults)
	if err != nil {
		return "", nil, err
	}
	if len(results) == 0 {
		return "", nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Relevant context from earlier discussions in this topic:\n")
	chunkIDs := make([]string, 0, len(results))
	for _, result := range results {
		sb.WriteString("- ")
		sb.WriteString(result.Chunk.Content)
		sb.WriteString("\n")
		chunkIDs = append(chunkIDs, result.Chunk.ID)
	}
	return sb.String(), chunkIDs, nil
}

// fitBudget drops history oldest-first until the prompt fits under
// MaxTokens minus the response headroom. Fixed blocks and the newest
// message are never dropped; when even those alone exceed the budget the
// prompt is rejected instead of sent oversized.
func (a *Assembler) fitBudget(fixed, history []ai.Message) ([]ai.Message, bool, error) {
	budget := a.opts.MaxTokens - a.opts.ResponseHeadroom
	fixedCost := a.counter.CountMessages(fixed)

	drop := 0
	for drop < len(history)-1 {
		cost := fixedCost + a.counter.CountMessages(history[drop:])
		if cost <= budget {
			break
		}
		drop++
	}
	if cost := fixedCost + a.counter.CountMessages(history[drop:]); cost > budget {
		return nil, false, fmt.Errorf("prompt does not fit the context budget: %d tokens estimated, %d available", cost, budget)
	}

	messages := make([]ai.Message, 0, len(fixed)+len(history)-drop)
	messages = append(messages, fixed...)
	messages = append(messages, history[drop:]...)
	return messages, drop > 0, nil
}
