// ABOUTME: Renders assistant markdown as HTML for channels with rich text
// ABOUTME: Used for Matrix formatted_body; raw HTML in the input is not passed through

package format

import (
	"bytes"
	"strings"
)

// HTML converts markdown into HTML. Raw HTML in md is omitted.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// IsPlain reports whether md renders to a single paragraph of unformatted
// text, in which case channels can skip sending a rich-text body.
func IsPlain(md string) bool {
	html, err := HTML(md)
	if err != nil {
		return false
	}
	inner, ok := strings.CutPrefix(html, "<p>")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "</p>")
	return ok && !strings.Contains(inner, "<")
}
