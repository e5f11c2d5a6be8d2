// Package markdown converts post sources to HTML.
package markdown

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer turns markdown into HTML. Raw HTML in the source is dropped.
// A Renderer is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

func (r *Renderer) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var excerptStrip = strings.NewReplacer("#", "", "*", "", "_", "", "`", "")

// Excerpt returns the first n runes of source with heading and emphasis
// markers removed.
func Excerpt(source string, n int) string {
	if utf8.RuneCountInString(source) > n {
		source = string([]rune(source)[:n])
	}
	return strings.TrimSpace(excerptStrip.Replace(source))
}
