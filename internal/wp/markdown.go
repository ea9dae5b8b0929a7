package wp

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

var strippedTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`),
	regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe>`),
	regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`),
	regexp.MustCompile(`(?i)<(script|iframe|style)\b[^>]*/?>`),
}

// RenderHTML converts article markdown to the HTML WordPress stores. Script,
// iframe and style tags are removed from the result, whether they came from
// raw HTML in the markdown or from the source text.
func RenderHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	html := buf.String()
	for _, pattern := range strippedTagPatterns {
		html = pattern.ReplaceAllString(html, "")
	}
	return html, nil
}
