// Package core holds the data model shared by the task extractor, the
// sync/undo engines and the project tree mirror, together with the
// contracts of the two remote systems they talk to.
//
// Documents and issues are owned by the remote systems. Nothing in this
// package is authoritative; values here are point-in-time snapshots.
package core

import (
	"fmt"
	"strconv"
	"strings"
)

// DocumentVersionStamp identifies one revision of a document. It is
// captured immediately before any mutation so that undo can tell whether
// the document has been edited since.
type DocumentVersionStamp struct {
	DocumentID string `json:"document_id" yaml:"document_id"`
	Number     int    `json:"number" yaml:"number"`
	Author     string `json:"author,omitempty" yaml:"author,omitempty"`
	Timestamp  string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

func (s DocumentVersionStamp) String() string {
	return fmt.Sprintf("%s@v%d", s.DocumentID, s.Number)
}

// Document is a snapshot of one page of the document service.
type Document struct {
	ID       string
	Title    string
	URL      string
	SpaceKey string
	Version  DocumentVersionStamp
	Content  string

	// Children are child document ids ordered by position in the parent.
	Children []string

	// Ancestors are the page hierarchy ids, root first, parent last.
	Ancestors []string
}

// DocumentUpdate replaces the content (and optionally the title) of a
// document, guarded by the version the caller last saw.
type DocumentUpdate struct {
	ID              string
	ExpectedVersion int
	Title           string // empty keeps the current title
	Content         string
}

// NewDocument describes a document to create below a parent.
type NewDocument struct {
	ParentID string
	Title    string
	Content  string
}

// TaskUnit is one incomplete task found in a document.
type TaskUnit struct {
	DocumentID    string
	DocumentTitle string
	DocumentURL   string

	// TaskID is the task-local identifier. Unique within one document
	// revision; not stable across edits. Tasks without their own id get
	// one derived from their position.
	TaskID   string
	Position int

	Summary  string
	Status   string
	Assignee string
	DueDate  string // YYYY-MM-DD, empty when the task carries none

	// Context is the prose surrounding the task.
	Context string

	// Markup is the exact source text of the task element.
	Markup string

	// Version is the document revision the task was read from.
	Version DocumentVersionStamp

	// Ancestors is the page hierarchy above the document, root first.
	Ancestors []string

	RootID string
	Depth  int
}

// Key identifies the unit within one extraction.
func (t TaskUnit) Key() string {
	return t.DocumentID + "#" + t.TaskID + "@" + strconv.Itoa(t.Position)
}

// LinkedIssueRef points at an issue created for a task.
type LinkedIssueRef struct {
	Key       string `json:"key" yaml:"key"`
	ParentKey string `json:"parent_key,omitempty" yaml:"parent_key,omitempty"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Issue is a snapshot of one work item of the issue service.
type Issue struct {
	Key         string
	Summary     string
	Type        string
	Status      string
	Assignee    string
	ParentKey   string
	Description string
}

// ProjectOf returns the project key prefix of an issue key ("WP-12" -> "WP").
func ProjectOf(issueKey string) string {
	if i := strings.LastIndex(issueKey, "-"); i > 0 {
		return issueKey[:i]
	}
	return ""
}

// IssueRequest carries everything needed to create an issue.
type IssueRequest struct {
	Project     string
	Type        string
	Summary     string
	ParentKey   string
	Assignee    string
	DueDate     string
	Description string

	// Marker is the serialized context marker also embedded in
	// Description; gateways may use it for idempotent lookups.
	Marker string
}
