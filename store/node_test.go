package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeTypeGroups(t *testing.T) {
	for _, nodeType := range NodeTypes {
		assert.True(t, nodeType.IsValid(), "type %s should be valid", nodeType)
	}
	assert.False(t, NodeType("bogus").IsValid())

	assert.True(t, NodeTypeUserMessage.IsMainConversation())
	assert.True(t, NodeTypeAssistantMessage.IsMainConversation())
	assert.False(t, NodeTypeUserNote.IsMainConversation())
	assert.False(t, NodeTypeSideChatUser.IsMainConversation())

	assert.True(t, NodeTypeSideChatUser.IsSideChat())
	assert.True(t, NodeTypeSideChatAssistant.IsSideChat())
	assert.False(t, NodeTypeUserMessage.IsSideChat())
}

func TestSelectionEqual(t *testing.T) {
	a := &Selection{Text: "goroutine scheduling", StartOffset: 10, EndOffset: 30}
	b := &Selection{Text: "goroutine scheduling", StartOffset: 10, EndOffset: 30}
	c := &Selection{Text: "goroutine scheduling", StartOffset: 11, EndOffset: 30}

	tests := []struct {
		name  string
		left  *Selection
		right *Selection
		want  bool
	}{
		{"both nil", nil, nil, true},
		{"left nil", nil, a, false},
		{"right nil", a, nil, false},
		{"equal", a, b, true},
		{"offset differs", a, c, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.left.Equal(tt.right))
		})
	}
}

func TestContextContent(t *testing.T) {
	summary := "Decided to use channel-based streaming."

	active := &Node{Content: "full text", Status: NodeStatusActive}
	content, ok := active.ContextContent()
	require.True(t, ok)
	assert.Equal(t, "full text", content)

	collapsed := &Node{Content: "full text", Status: NodeStatusCollapsed, CollapsedSummary: &summary}
	content, ok = collapsed.ContextContent()
	require.True(t, ok)
	assert.Equal(t, summary, content)

	empty := ""
	noSummary := &Node{Content: "full text", Status: NodeStatusCollapsed, CollapsedSummary: &empty}
	_, ok = noSummary.ContextContent()
	assert.False(t, ok, "collapsed node without summary contributes nothing")

	nilSummary := &Node{Content: "full text", Status: NodeStatusCollapsed}
	_, ok = nilSummary.ContextContent()
	assert.False(t, ok)
}
