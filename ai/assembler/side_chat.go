package assembler

import (
	"context"
	"fmt"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/store"
)

const sideChatSystemPrompt = `You are answering a focused side question about part of an earlier assistant message.
Keep the answer scoped to the question; do not continue the main conversation.`

// SideChatOptions configures side-chat prompt assembly.
type SideChatOptions struct {
	// Selection scopes the thread to a substring of the parent message.
	// Nil addresses the parent's unanchored thread.
	Selection *store.Selection

	// IncludeMainContext prepends the selected-path history leading to the
	// parent message. Off by default: side chats are isolated.
	IncludeMainContext bool
}

// BuildSideChatContext assembles the prompt for a side-chat turn anchored to
// parentID. The thread is isolated from the main conversation unless
// IncludeMainContext is set, and side-chat turns never leak back into main
// context either way.
func (a *Assembler) BuildSideChatContext(ctx context.Context, parentID string, opts SideChatOptions) (*Assembled, error) {
	parent, err := a.store.GetNode(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("side-chat parent lookup failed: %w", err)
	}

	fixed := []ai.Message{ai.SystemPrompt(sideChatSystemPrompt)}
	if opts.Selection != nil {
		fixed = append(fixed, ai.SystemPrompt(
			fmt.Sprintf("The question is about this excerpt of the message below:\n%q", opts.Selection.Text)))
	}

	var history []ai.Message
	if opts.IncludeMainContext {
		path, err := a.store.GetPath(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("side-chat path resolution failed: %w", err)
		}
		history = append(history, a.pathMessages(path)...)
	} else {
		// The anchor message alone is enough grounding for an isolated
		// side chat. A collapsed anchor contributes its summary instead.
		if content, ok := parent.ContextContent(); ok {
			fixed = append(fixed, ai.SystemPrompt("The message being discussed:\n"+content))
		}
	}

	thread, err := a.store.GetSideChatThread(ctx, parentID, opts.Selection)
	if err != nil {
		return nil, fmt.Errorf("side-chat thread lookup failed: %w", err)
	}
	for _, node := range thread {
		if node.Type == store.NodeTypeSideChatUser {
			history = append(history, ai.UserMessage(node.Content))
		} else {
			history = append(history, ai.AssistantMessage(node.Content))
		}
	}

	messages, truncated, err := a.fitBudget(fixed, history)
	if err != nil {
		return nil, err
	}
	return &Assembled{
		Messages:      messages,
		TokenEstimate: a.counter.CountMessages(messages),
		Truncated:     truncated,
	}, nil
}
