package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

func TestDocumentsHierarchy(t *testing.T) {
	ctx := context.Background()
	d := NewDocuments()
	d.Put("1", "", "Root", "")
	d.Put("2", "1", "Child", "")
	d.Put("3", "2", "Grandchild", "")
	d.Put("4", "1", "Second child", "")

	children, err := d.FetchChildren(ctx, "1")
	if err != nil {
		t.Fatalf("FetchChildren failed: %v", err)
	}
	if diff := cmp.Diff([]string{"2", "4"}, children); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	doc, err := d.FetchDocument(ctx, "3")
	if err != nil {
		t.Fatalf("FetchDocument failed: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "2"}, doc.Ancestors); diff != "" {
		t.Errorf("ancestors mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentsOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	d := NewDocuments()
	d.Put("1", "", "Root", "a")

	v, err := d.UpdateDocument(ctx, core.DocumentUpdate{ID: "1", ExpectedVersion: 1, Content: "b"})
	if err != nil || v != 2 {
		t.Fatalf("UpdateDocument = %d, %v", v, err)
	}
	if _, err := d.UpdateDocument(ctx, core.DocumentUpdate{ID: "1", ExpectedVersion: 1, Content: "c"}); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("Expected version conflict, got %v", err)
	}
	if v := d.Edit("1", "d"); v != 3 {
		t.Errorf("Edit version = %d, want 3", v)
	}
	got, _ := d.Get("1")
	if got.Content != "d" || got.Version.Author != "someone else" {
		t.Errorf("unexpected document %+v", got)
	}
}

func TestDocumentsCreate(t *testing.T) {
	ctx := context.Background()
	d := NewDocuments()
	d.Put("1", "", "Root", "")

	doc, err := d.CreateDocument(ctx, core.NewDocument{ParentID: "1", Title: "New", Content: "x"})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	children, _ := d.FetchChildren(ctx, "1")
	if len(children) != 1 || children[0] != doc.ID {
		t.Errorf("Expected new child %s, got %v", doc.ID, children)
	}
	if _, err := d.CreateDocument(ctx, core.NewDocument{ParentID: "nope", Title: "x"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected not found for unknown parent, got %v", err)
	}
}

func TestIssuesLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewIssues()
	s.Put(core.Issue{Key: "WP-1", Type: "Work Package", Assignee: "alice"})

	key, err := s.CreateIssue(ctx, core.IssueRequest{Project: "WP", Type: "Task", Summary: "Fix", ParentKey: "WP-1", Description: "ctx [m1]"})
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}

	children, err := s.ListChildren(ctx, "WP-1")
	if err != nil || len(children) != 1 || children[0].Key != key {
		t.Fatalf("ListChildren = %v, %v", children, err)
	}

	found, err := s.FindIssueByMarker(ctx, "m1")
	if err != nil || found.Key != key {
		t.Fatalf("FindIssueByMarker = %v, %v", found, err)
	}

	if err := s.TransitionIssue(ctx, key, "Backlog"); err != nil {
		t.Fatalf("TransitionIssue failed: %v", err)
	}
	if diff := cmp.Diff([]string{"Backlog"}, s.Transitions(key)); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestIssuesLostReply(t *testing.T) {
	ctx := context.Background()
	s := NewIssues()
	s.LoseCreateReplies(1)

	if _, err := s.CreateIssue(ctx, core.IssueRequest{Project: "T", Summary: "x", Description: "[mk]"}); !errors.Is(err, core.ErrTransient) {
		t.Fatalf("Expected transient error, got %v", err)
	}
	if s.Creates() != 1 {
		t.Errorf("Expected the issue to exist despite the lost reply")
	}
	if _, err := s.FindIssueByMarker(ctx, "mk"); err != nil {
		t.Errorf("Expected issue to be found by marker: %v", err)
	}
}
