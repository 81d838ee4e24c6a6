package memory

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownToPlain strips markdown structure before embedding. Formatting
// tokens carry no semantic signal and waste embedding capacity; the AST walk
// keeps only the visible text.
func markdownToPlain(source string) string {
	md := goldmark.DefaultParser()
	root := md.Parse(text.NewReader([]byte(source)))

	var sb strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value([]byte(source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.CodeBlock:
			writeLines(&sb, node, source)
		case *ast.FencedCodeBlock:
			writeLines(&sb, node, source)
		case *ast.CodeSpan:
			// Text children are emitted by the walk.
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String())
}

func writeLines(sb *strings.Builder, n ast.Node, source string) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		sb.Write(segment.Value([]byte(source)))
	}
}
