package ai

import "unicode/utf8"

// TokenCounter estimates token counts for budget accounting.
type TokenCounter interface {
	Count(text string) int
}

// SimpleTokenCounter approximates tokens as characters divided by four.
// The estimate is deliberately conservative: assembled contexts carry an
// explicit headroom reserve on top of it, so a few percent of drift never
// pushes a prompt over the model limit.
type SimpleTokenCounter struct{}

func (SimpleTokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	tokens := n / 4
	if n%4 != 0 {
		tokens++
	}
	return tokens
}

// CountMessages sums the token estimate over a message list, adding a small
// per-message overhead for role framing.
func (c SimpleTokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Content) + 4
	}
	return total
}
