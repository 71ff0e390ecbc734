package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/markup"
	"github.com/Mschirtzinger/tasksync/internal/remote/memory"
)

func TestChain(t *testing.T) {
	tests := []struct {
		name      string
		ancestors []string
		maxDepth  int
		want      []string
	}{
		{"root document", nil, 10, []string{"d"}},
		{"nearest first", []string{"root", "mid", "parent"}, 10, []string{"d", "parent", "mid", "root"}},
		{"depth bound", []string{"root", "mid", "parent"}, 1, []string{"d", "parent"}},
		{"cycle", []string{"root", "d", "parent"}, 10, []string{"d", "parent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Chain("d", tt.ancestors, tt.maxDepth)); diff != "" {
				t.Errorf("Chain mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fixture struct {
	docs   *memory.Documents
	issues *memory.Issues
	r      *Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	link := markup.LinkRenderer{NewID: func() string { return "m" }}
	docs := memory.NewDocuments()
	docs.Put("1", "", "Programme", link.Render("PH-1"))
	docs.Put("2", "1", "Work package", "<p>WP</p>"+link.Render("T-5")+link.Render("WP-1"))
	docs.Put("3", "2", "Notes", "<p>no markers</p>")

	issues := memory.NewIssues()
	issues.Put(core.Issue{Key: "PH-1", Type: "Phase"})
	issues.Put(core.Issue{Key: "WP-1", Type: "Work Package", Assignee: "alice"})
	issues.Put(core.Issue{Key: "T-5", Type: "Task"})

	return fixture{
		docs:   docs,
		issues: issues,
		r:      New(docs, issues, markup.NewParser(nil), []string{"work package", "Risk"}, 10),
	}
}

func TestResolveNearestAncestor(t *testing.T) {
	f := newFixture(t)

	got, err := f.r.Resolve(context.Background(), core.TaskUnit{DocumentID: "3", Ancestors: []string{"1", "2"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Issue.Key != "WP-1" || got.DocumentID != "2" || got.Distance != 1 {
		t.Errorf("unexpected linkage %+v", got)
	}
}

func TestResolveOwnDocumentFirst(t *testing.T) {
	f := newFixture(t)

	got, err := f.r.Resolve(context.Background(), core.TaskUnit{DocumentID: "2", Ancestors: []string{"1"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Distance != 0 || got.Issue.Key != "WP-1" {
		t.Errorf("unexpected linkage %+v", got)
	}
}

func TestResolveNoContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.r.Resolve(context.Background(), core.TaskUnit{DocumentID: "1"})
	if !errors.Is(err, core.ErrNoContext) {
		t.Fatalf("Expected ErrNoContext, got %v", err)
	}
}

func TestResolveLooksUpAncestorsWhenMissing(t *testing.T) {
	f := newFixture(t)

	got, err := f.r.Resolve(context.Background(), core.TaskUnit{DocumentID: "3"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Issue.Key != "WP-1" {
		t.Errorf("unexpected linkage %+v", got)
	}
}

func TestResolveSkipsDeletedIssues(t *testing.T) {
	f := newFixture(t)
	link := markup.LinkRenderer{NewID: func() string { return "m" }}
	f.docs.Put("4", "2", "Stale", link.Render("WP-404"))

	got, err := f.r.Resolve(context.Background(), core.TaskUnit{DocumentID: "4", Ancestors: []string{"1", "2"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Issue.Key != "WP-1" {
		t.Errorf("unexpected linkage %+v", got)
	}
}
