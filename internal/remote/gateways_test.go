package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/remote/memory"
)

func TestDocumentsFetchUnreachable(t *testing.T) {
	docs := memory.NewDocuments()
	docs.Put("1", "", "Root", "<p>x</p>")
	docs.SetFetchError("1", &core.RemoteError{Op: "GET", StatusCode: 503, Message: "down", Kind: core.ErrTransient})

	d := NewDocuments(docs, testPolicy(3), testPolicy(2))
	_, err := d.FetchDocument(context.Background(), "1")

	var ue *core.UnreachableError
	if !errors.As(err, &ue) || ue.DocumentID != "1" {
		t.Fatalf("Expected UnreachableError for 1, got %v", err)
	}
	if !errors.Is(err, core.ErrDocumentUnreachable) || !errors.Is(err, core.ErrTransient) {
		t.Errorf("Expected unreachable and transient in chain, got %v", err)
	}
}

func TestDocumentsFetchRecovers(t *testing.T) {
	docs := memory.NewDocuments()
	docs.Put("1", "", "Root", "<p>x</p>")

	flaky := &flakyDocs{DocumentService: docs, failures: 2}
	d := NewDocuments(flaky, testPolicy(3), testPolicy(1))

	doc, err := d.FetchDocument(context.Background(), "1")
	if err != nil {
		t.Fatalf("FetchDocument failed: %v", err)
	}
	if doc.Title != "Root" || flaky.calls != 3 {
		t.Errorf("got %q after %d calls", doc.Title, flaky.calls)
	}
}

func TestDocumentsUpdateConflictNotRetried(t *testing.T) {
	docs := memory.NewDocuments()
	docs.Put("1", "", "Root", "<p>x</p>")
	d := NewDocuments(docs, testPolicy(3), testPolicy(3))

	_, err := d.UpdateDocument(context.Background(), core.DocumentUpdate{ID: "1", ExpectedVersion: 7, Content: "y"})
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("Expected version conflict, got %v", err)
	}
	if docs.Updates() != 0 {
		t.Errorf("Expected no update applied")
	}
}

func TestIssuesCreateIsAttemptedOnce(t *testing.T) {
	issues := memory.NewIssues()
	issues.FailCreate(core.ErrTransient)
	s := NewIssues(issues, testPolicy(3), testPolicy(3))

	_, err := s.CreateIssue(context.Background(), core.IssueRequest{Project: "WP", Summary: "x"})
	if !errors.Is(err, core.ErrTransient) {
		t.Fatalf("Expected transient error, got %v", err)
	}
	if issues.Creates() != 0 {
		t.Errorf("Expected no issue created")
	}
}

func TestIssuesTransitionNotFound(t *testing.T) {
	s := NewIssues(memory.NewIssues(), testPolicy(3), testPolicy(3))
	if err := s.TransitionIssue(context.Background(), "WP-1", "Backlog"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
}

type flakyDocs struct {
	core.DocumentService
	failures int
	calls    int
}

func (f *flakyDocs) FetchDocument(ctx context.Context, id string) (*core.Document, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, core.ErrTransient
	}
	return f.DocumentService.FetchDocument(ctx, id)
}
