package realtime

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)

	// UGCPolicy allows the formatting tags markdown produces and strips
	// scripts, event handlers, and anything else a hostile reply could smuggle.
	sanitizer = bluemonday.UGCPolicy()
)

// renderMarkdown converts an assistant reply to sanitized HTML. On render
// failure it degrades to escaped plain text, never to raw markup.
func renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return sanitizer.Sanitize(buf.String())
}
