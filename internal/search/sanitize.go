package search

import (
	"strings"

	"golang.org/x/net/html"
)

// StripMarkup removes HTML tags from marketplace snippets and decodes
// entities, keeping only text content with normalized whitespace. Plain
// strings pass through untouched.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	tok := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(tok.Text())
			sb.WriteByte(' ')
		}
	}
}
