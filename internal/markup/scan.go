// Package markup reads and rewrites the document service's storage format:
// XHTML with ac:/ri: namespaced elements for tasks, macros and mentions.
//
// Everything here works on byte spans of the original content so that
// rewrites touch only the replaced element and leave every other byte as
// it was.
package markup

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// token is one tokenizer token together with its byte span in the input.
type token struct {
	html.Token
	Start, End int
}

func (t token) attr(key string) (string, bool) {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// scan feeds every token of content to fn in document order.
func scan(content string, fn func(tok token)) error {
	z := html.NewTokenizer(strings.NewReader(content))
	z.AllowCDATA(true)
	off := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return z.Err()
		}
		n := len(z.Raw())
		tok := token{Token: z.Token(), Start: off, End: off + n}
		off += n
		fn(tok)
	}
}

// collapse trims s and folds every whitespace run into one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isHeading(name string) bool {
	switch name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

// Replace returns content with the byte span [start, end) replaced.
func Replace(content string, start, end int, with string) string {
	return content[:start] + with + content[end:]
}
