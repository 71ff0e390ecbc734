package markup

import (
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	xhtml "golang.org/x/net/html"
)

// IssueLink is one issue macro found in a document.
type IssueLink struct {
	Key        string
	Start, End int
	Markup     string
}

// IssueLinks returns the issue macros of content in document order,
// ignoring macros nested inside other aggregating macros.
func (p *Parser) IssueLinks(content string) ([]IssueLink, error) {
	type open struct {
		macro string
		start int
		key   strings.Builder
	}
	var (
		stack   []*open // ac:structured-macro elements only
		inKey   bool
		links   []IssueLink
		foreign int // open aggregation macros other than jira
	)
	err := scan(content, func(tok token) {
		switch tok.Type {
		case xhtml.StartTagToken:
			switch tok.Data {
			case "ac:structured-macro":
				name, _ := tok.attr("ac:name")
				name = strings.ToLower(name)
				o := &open{macro: name, start: tok.Start}
				if name == "jira" && foreign > 0 {
					o.macro = ""
				}
				if name != "jira" && p.aggregation[name] {
					foreign++
				}
				stack = append(stack, o)
			case "ac:parameter":
				if n, _ := tok.attr("ac:name"); n == "key" && len(stack) > 0 && stack[len(stack)-1].macro == "jira" {
					inKey = true
				}
			}
		case xhtml.EndTagToken:
			switch tok.Data {
			case "ac:parameter":
				inKey = false
			case "ac:structured-macro":
				if len(stack) == 0 {
					return
				}
				o := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if o.macro != "jira" && p.aggregation[o.macro] {
					foreign--
				}
				if o.macro == "jira" {
					if key := strings.TrimSpace(o.key.String()); key != "" {
						links = append(links, IssueLink{
							Key:    key,
							Start:  o.start,
							End:    tok.End,
							Markup: content[o.start:tok.End],
						})
					}
				}
			}
		case xhtml.TextToken:
			if inKey && len(stack) > 0 {
				stack[len(stack)-1].key.WriteString(tok.Data)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// IssueKeys returns the distinct issue keys a document is tagged with:
// its mirror anchor first, then its issue macros in document order.
func (p *Parser) IssueKeys(content string) ([]string, error) {
	links, err := p.IssueLinks(content)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var keys []string
	if k, ok := FindAnchor(content); ok {
		seen[k] = true
		keys = append(keys, k)
	}
	for _, l := range links {
		if !seen[l.Key] {
			seen[l.Key] = true
			keys = append(keys, l.Key)
		}
	}
	return keys, nil
}

// LinkRenderer renders issue macros for one issue tracker instance.
type LinkRenderer struct {
	ServerName string
	ServerID   string

	// NewID returns macro ids; nil uses random UUIDs.
	NewID func() string
}

// Render returns the storage-format issue macro for key.
func (r LinkRenderer) Render(key string) string {
	id := uuid.NewString()
	if r.NewID != nil {
		id = r.NewID()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `<ac:structured-macro ac:name="jira" ac:schema-version="1" ac:macro-id="%s">`, html.EscapeString(id))
	if r.ServerName != "" {
		fmt.Fprintf(&sb, `<ac:parameter ac:name="server">%s</ac:parameter>`, html.EscapeString(r.ServerName))
	}
	if r.ServerID != "" {
		fmt.Fprintf(&sb, `<ac:parameter ac:name="serverId">%s</ac:parameter>`, html.EscapeString(r.ServerID))
	}
	fmt.Fprintf(&sb, `<ac:parameter ac:name="key">%s</ac:parameter>`, html.EscapeString(key))
	sb.WriteString(`</ac:structured-macro>`)
	return sb.String()
}
