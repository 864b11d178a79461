package engine

import (
	"strings"
	"testing"
)

func TestPreviewFromMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			name:     "plain text",
			markdown: "Hello world",
			want:     "Hello world",
		},
		{
			name:     "inline formatting stripped",
			markdown: "This is **bold** and `code` text",
			want:     "This is bold and code text",
		},
		{
			name:     "headings flattened",
			markdown: "# Title\n\nBody text",
			want:     "Title Body text",
		},
		{
			name:     "code block replaced by placeholder",
			markdown: "Before\n\n```go\nfunc main() {}\n```\n\nAfter",
			want:     "Before [code] After",
		},
		{
			name:     "newlines collapse to spaces",
			markdown: "line one\nline two",
			want:     "line one line two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreviewFromMarkdown(tt.markdown); got != tt.want {
				t.Errorf("PreviewFromMarkdown() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreviewFromMarkdown_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := PreviewFromMarkdown(long)

	runes := []rune(got)
	if len(runes) > previewMaxLen+1 { // +1 for the ellipsis
		t.Errorf("preview too long: %d runes", len(runes))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated preview should end with an ellipsis")
	}
}

func TestMetaForConversation(t *testing.T) {
	conv := &Conversation{
		ID:      "c1",
		SpaceID: "s1",
		Title:   "Demo",
		Messages: []Message{
			{ID: "m1", Role: RoleUser, Content: "first"},
			{ID: "m2", Role: RoleAssistant, Content: "**final** answer"},
		},
	}

	meta := metaForConversation(conv)
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d", meta.MessageCount)
	}
	if meta.Preview != "final answer" {
		t.Errorf("Preview = %q", meta.Preview)
	}
}
