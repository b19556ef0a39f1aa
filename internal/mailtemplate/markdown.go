package mailtemplate

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// messageMarkdown renders legacy message bodies. Raw HTML in the source is
// dropped by goldmark; the policy filters whatever remains.
var (
	messageMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
	)
	messagePolicy = newMessagePolicy()
)

func newMessagePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// RenderMarkdown converts message content to sanitized HTML. Empty input
// yields an empty string; content goldmark cannot convert is escaped as
// plain paragraphs.
func RenderMarkdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := messageMarkdown.Convert([]byte(src), &buf); err != nil {
		return "<p>" + strings.ReplaceAll(html.EscapeString(src), "\n", "<br>") + "</p>"
	}

	return messagePolicy.Sanitize(buf.String())
}
