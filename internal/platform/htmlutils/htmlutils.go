// Package htmlutils cleans the HTML that podcast feeds and directory
// APIs put into show notes and channel descriptions, producing plain
// text fit for storage and prompt building.
package htmlutils

import (
	"strings"

	"golang.org/x/net/html"
)

// Block-level elements get a line break around their content.
var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "section": true, "article": true,
	"ul": true, "ol": true, "li": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "hr": true,
}

// Elements whose content is never show-notes text.
var skipTags = map[string]bool{
	"script": true, "style": true, "head": true, "title": true,
	"iframe": true, "noscript": true, "svg": true, "template": true,
}

// StripTags renders HTML as plain text: tags removed, entities
// decoded, block boundaries turned into line breaks, whitespace
// collapsed. Plain-text input passes through with only whitespace
// normalization.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return normalizeWhitespace(s)
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return normalizeWhitespace(s)
	}

	var sb strings.Builder

	writeText(doc, &sb)

	return normalizeWhitespace(sb.String())
}

func writeText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)

		return
	case html.ElementNode:
		if skipTags[n.Data] {
			return
		}

		if blockTags[n.Data] {
			sb.WriteByte('\n')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, sb)
	}

	if n.Type == html.ElementNode && blockTags[n.Data] {
		sb.WriteByte('\n')
	}
}

// normalizeWhitespace collapses runs of spaces within lines and runs
// of blank lines down to a single blank line.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blankPending := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 {
				blankPending = true
			}

			continue
		}

		if blankPending {
			out = append(out, "")

			blankPending = false
		}

		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// Truncate shortens text to at most max runes, appending an ellipsis
// when anything was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return strings.TrimRight(string(runes[:max]), " \n") + "…"
}
