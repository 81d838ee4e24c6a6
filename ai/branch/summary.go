package branch

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/KDmytro/k-base/ai"
	"github.com/KDmytro/k-base/store"
)

const summarySystemPrompt = `You summarize a branch of a technical conversation.
Write 2-3 sentences capturing the key decisions, discoveries and conclusions.
Do not mention that this is a summary. Do not add preamble.`

// maxSummaryInputChars caps the transcript fed to the summarizer so a very
// long branch cannot blow the summary model's context window.
const maxSummaryInputChars = 24000

// generateSummary builds a transcript of the branch subtree and asks the
// LLM for a compact summary.
func (s *Service) generateSummary(ctx context.Context, nodeID string) (string, error) {
	messages, err := s.store.GetSubtreeMessages(ctx, nodeID)
	if err != nil {
		return "", fmt.Errorf("subtree gather failed: %w", err)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("branch %s has no messages to summarize", nodeID)
	}

	var sb strings.Builder
	for _, msg := range messages {
		role := "User"
		if msg.Type == store.NodeTypeAssistantMessage {
			role = "Assistant"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	transcript := sb.String()
	if len(transcript) > maxSummaryInputChars {
		// Back up to a rune boundary so the cut never produces invalid
		// UTF-8.
		cut := maxSummaryInputChars
		for cut > 0 && !utf8.RuneStart(transcript[cut]) {
			cut--
		}
		transcript = transcript[:cut]
	}

	summary, _, err := s.llm.Chat(ctx, []ai.Message{
		ai.SystemPrompt(summarySystemPrompt),
		ai.UserMessage(transcript),
	})
	if err != nil {
		return "", fmt.Errorf("summary chat failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
