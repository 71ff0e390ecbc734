package core

import (
	"fmt"
	"strconv"
	"strings"
)

const markerPrefix = "tasksync:"

// ContextMarker is the reverse link embedded into issue descriptions and
// ledger records. It survives the loss of the source document.
type ContextMarker struct {
	DocumentID string
	TaskID     string
	ParentKey  string
	Version    int
}

// String renders "tasksync:doc=123;task=4;parent=WP-1;v=7".
func (m ContextMarker) String() string {
	return fmt.Sprintf("%sdoc=%s;task=%s;parent=%s;v=%d",
		markerPrefix, m.DocumentID, m.TaskID, m.ParentKey, m.Version)
}

// CarriesMarker reports whether text embeds marker as written into issue
// descriptions, in brackets. A marker is not carried by one that merely
// extends it, such as a later version.
func CarriesMarker(text, marker string) bool {
	return marker != "" && strings.Contains(text, "["+marker+"]")
}

// ParseContextMarker parses the output of ContextMarker.String. The marker
// may be embedded in surrounding text.
func ParseContextMarker(s string) (ContextMarker, error) {
	i := strings.Index(s, markerPrefix)
	if i < 0 {
		return ContextMarker{}, fmt.Errorf("%w: no context marker", ErrInvalidInput)
	}
	s = s[i+len(markerPrefix):]
	if j := strings.IndexAny(s, " \t\r\n]"); j >= 0 {
		s = s[:j]
	}

	var m ContextMarker
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ContextMarker{}, fmt.Errorf("%w: malformed marker field %q", ErrInvalidInput, part)
		}
		switch k {
		case "doc":
			m.DocumentID = v
		case "task":
			m.TaskID = v
		case "parent":
			m.ParentKey = v
		case "v":
			n, err := strconv.Atoi(v)
			if err != nil {
				return ContextMarker{}, fmt.Errorf("%w: bad marker version %q", ErrInvalidInput, v)
			}
			m.Version = n
		}
	}
	if m.DocumentID == "" || m.TaskID == "" {
		return ContextMarker{}, fmt.Errorf("%w: marker missing document or task", ErrInvalidInput)
	}
	return m, nil
}
