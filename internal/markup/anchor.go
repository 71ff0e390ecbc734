package markup

import (
	"fmt"
	"html"
	"regexp"
)

// AnchorPrefix tags a mirror document with the issue it mirrors.
const AnchorPrefix = "tasksync-issue:"

var anchorRe = regexp.MustCompile(`<ac:placeholder>\s*` + regexp.QuoteMeta(AnchorPrefix) + `([^<\s]+)\s*</ac:placeholder>`)

// Anchor returns the marker block identifying the document mirroring key.
// Placeholders are not rendered to readers, so the marker survives title
// and body edits made in the editor.
func Anchor(key string) string {
	return fmt.Sprintf("<p><ac:placeholder>%s%s</ac:placeholder></p>", AnchorPrefix, html.EscapeString(key))
}

// FindAnchor returns the issue key of the first mirror anchor in content.
func FindAnchor(content string) (string, bool) {
	m := anchorRe.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(m[1]), true
}

const mirrorEnd = "tasksync-end"

var mirrorBlockRe = regexp.MustCompile(`(?s)<p><ac:placeholder>\s*` + regexp.QuoteMeta(AnchorPrefix) +
	`[^<]*</ac:placeholder></p>.*?<p><ac:placeholder>\s*` + mirrorEnd + `\s*</ac:placeholder></p>`)

// MirrorBlock wraps body in the anchor for key and an end marker. The
// block is the part of a mirror document that tree sync owns; content
// outside it belongs to readers.
func MirrorBlock(key, body string) string {
	return Anchor(key) + body + "<p><ac:placeholder>" + mirrorEnd + "</ac:placeholder></p>"
}

// ReplaceMirrorBlock swaps the first mirror block of content for block.
// It reports false when content has no complete block.
func ReplaceMirrorBlock(content, block string) (string, bool) {
	loc := mirrorBlockRe.FindStringIndex(content)
	if loc == nil {
		return content, false
	}
	return Replace(content, loc[0], loc[1], block), true
}
