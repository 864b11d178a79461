package engine

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// previewMaxLen is the maximum length of a conversation preview, in runes.
const previewMaxLen = 120

// PreviewFromMarkdown extracts a short plain-text preview from markdown
// content. Block structure is flattened to single spaces and the result is
// truncated to previewMaxLen runes with an ellipsis.
func PreviewFromMarkdown(markdown string) string {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			// Code blocks rarely make useful previews; represent them with a
			// placeholder and skip their contents.
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString("[code] ")
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	return truncatePreview(strings.Join(strings.Fields(b.String()), " "))
}

// truncatePreview shortens s to previewMaxLen runes, appending an ellipsis
// when content was cut.
func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewMaxLen {
		return s
	}
	return strings.TrimRight(string(runes[:previewMaxLen]), " ") + "…"
}

// metaForConversation recomputes a conversation's lightweight projection,
// deriving the message count and a preview from the last message.
func metaForConversation(conv *Conversation) ConversationMeta {
	meta := ConversationMeta{
		ID:           conv.ID,
		SpaceID:      conv.SpaceID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
	}
	if last := conv.LastMessage(); last != nil {
		meta.Preview = PreviewFromMarkdown(last.Content)
	}
	return meta
}
