package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownToPlain(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"plain text", "just text", "just text"},
		{"empty", "", ""},
		{"heading", "# Title\n\nbody", "Title\nbody"},
		{"emphasis", "this is **bold** and *italic*", "this is bold and italic"},
		{"inline code", "call `Close()` last", "call Close() last"},
		{"link keeps label", "see [the docs](https://example.com)", "see the docs"},
		{"list items", "- first\n- second", "first\nsecond"},
		{"fenced code block", "```go\nx := 1\n```", "x := 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, markdownToPlain(tt.source))
		})
	}
}
