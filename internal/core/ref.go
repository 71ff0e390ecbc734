package core

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	pageIDQuery = regexp.MustCompile(`[?&]pageId=(\d+)`)
	pageIDPath  = regexp.MustCompile(`/pages/(\d+)`)
	bareID      = regexp.MustCompile(`^\d+$`)
)

// ParseDocumentRef extracts a document id from a page URL
// (".../viewpage.action?pageId=123", ".../pages/123/Title") or a bare id.
// Anything else is ErrInvalidInput.
func ParseDocumentRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty document reference", ErrInvalidInput)
	}
	if bareID.MatchString(ref) {
		return ref, nil
	}
	if m := pageIDQuery.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	if m := pageIDPath.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: cannot parse document reference %q", ErrInvalidInput, ref)
}
