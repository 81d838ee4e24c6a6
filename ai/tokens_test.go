package ai

import "testing"

func TestSimpleTokenCounterCount(t *testing.T) {
	counter := SimpleTokenCounter{}

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char rounds up", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"eight chars", "abcdefgh", 2},
		{"multibyte runes count as runes", "日本語", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counter.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestSimpleTokenCounterCountMessages(t *testing.T) {
	counter := SimpleTokenCounter{}

	messages := []Message{
		SystemPrompt("abcd"),
		UserMessage("abcdefgh"),
	}
	// 1 + 4 overhead for the system message, 2 + 4 for the user message.
	if got := counter.CountMessages(messages); got != 11 {
		t.Errorf("CountMessages() = %d, want 11", got)
	}

	if got := counter.CountMessages(nil); got != 0 {
		t.Errorf("CountMessages(nil) = %d, want 0", got)
	}
}
