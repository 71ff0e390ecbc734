package remote

import (
	"context"
	"fmt"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// Documents retries calls to a document service.
type Documents struct {
	inner       core.DocumentService
	read, write RetryPolicy
}

var _ core.DocumentService = (*Documents)(nil)

// NewDocuments wraps inner with separate read and write budgets.
func NewDocuments(inner core.DocumentService, read, write RetryPolicy) *Documents {
	return &Documents{inner: inner, read: read, write: write}
}

// FetchDocument retries transient failures, then reports the document as
// unreachable.
func (d *Documents) FetchDocument(ctx context.Context, id string) (*core.Document, error) {
	doc, err := Do(ctx, d.read, "fetch document "+id, func(ctx context.Context) (*core.Document, error) {
		return d.inner.FetchDocument(ctx, id)
	})
	if err != nil && ctx.Err() == nil {
		return nil, &core.UnreachableError{DocumentID: id, Err: err}
	}
	return doc, err
}

func (d *Documents) FetchChildren(ctx context.Context, id string) ([]string, error) {
	children, err := Do(ctx, d.read, "fetch children "+id, func(ctx context.Context) ([]string, error) {
		return d.inner.FetchChildren(ctx, id)
	})
	if err != nil && ctx.Err() == nil {
		return nil, &core.UnreachableError{DocumentID: id, Err: err}
	}
	return children, err
}

// UpdateDocument never retries version conflicts; callers relocate first.
func (d *Documents) UpdateDocument(ctx context.Context, upd core.DocumentUpdate) (int, error) {
	return Do(ctx, d.write, "update document "+upd.ID, func(ctx context.Context) (int, error) {
		return d.inner.UpdateDocument(ctx, upd)
	})
}

func (d *Documents) CreateDocument(ctx context.Context, doc core.NewDocument) (*core.Document, error) {
	return Do(ctx, d.write, "create document "+doc.Title, func(ctx context.Context) (*core.Document, error) {
		return d.inner.CreateDocument(ctx, doc)
	})
}

// Ping is not retried.
func (d *Documents) Ping(ctx context.Context) error {
	return d.inner.Ping(ctx)
}

// Issues retries calls to an issue service.
//
// CreateIssue is not idempotent on the remote side; it is attempted once
// here and the sync engine decides whether a retry is safe after looking
// the issue up by its marker.
type Issues struct {
	inner       core.IssueService
	read, write RetryPolicy
}

var _ core.IssueService = (*Issues)(nil)

// NewIssues wraps inner with separate read and write budgets.
func NewIssues(inner core.IssueService, read, write RetryPolicy) *Issues {
	return &Issues{inner: inner, read: read, write: write}
}

func (s *Issues) CreateIssue(ctx context.Context, req core.IssueRequest) (string, error) {
	return s.inner.CreateIssue(ctx, req)
}

func (s *Issues) TransitionIssue(ctx context.Context, key, status string) error {
	_, err := Do(ctx, s.write, "transition "+key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.TransitionIssue(ctx, key, status)
	})
	return err
}

func (s *Issues) GetIssue(ctx context.Context, key string) (*core.Issue, error) {
	return Do(ctx, s.read, "get issue "+key, func(ctx context.Context) (*core.Issue, error) {
		return s.inner.GetIssue(ctx, key)
	})
}

func (s *Issues) ListChildren(ctx context.Context, key string) ([]*core.Issue, error) {
	return Do(ctx, s.read, "list children "+key, func(ctx context.Context) ([]*core.Issue, error) {
		return s.inner.ListChildren(ctx, key)
	})
}

func (s *Issues) FindIssueByMarker(ctx context.Context, marker string) (*core.Issue, error) {
	return Do(ctx, s.read, "find issue by marker", func(ctx context.Context) (*core.Issue, error) {
		return s.inner.FindIssueByMarker(ctx, marker)
	})
}

func (s *Issues) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// ResolveUser forwards to the wrapped service when it can map user keys.
func (d *Documents) ResolveUser(ctx context.Context, key string) (string, error) {
	r, ok := d.inner.(interface {
		ResolveUser(ctx context.Context, key string) (string, error)
	})
	if !ok {
		return "", fmt.Errorf("resolve user %s: %w", key, core.ErrNotFound)
	}
	return Do(ctx, d.read, "resolve user "+key, func(ctx context.Context) (string, error) {
		return r.ResolveUser(ctx, key)
	})
}
