package core

import "context"

// DocumentService is the contract of the document collaboration system.
//
// Implementations must report failures wrapped around ErrTransient or
// ErrPermanent (plus ErrNotFound and ErrVersionConflict where they apply)
// so the retry policy can tell them apart.
type DocumentService interface {
	// FetchDocument returns the current revision of a document,
	// including content, version and ancestors.
	FetchDocument(ctx context.Context, id string) (*Document, error)

	// FetchChildren returns child document ids ordered by position.
	FetchChildren(ctx context.Context, id string) ([]string, error)

	// UpdateDocument writes new content if the document is still at
	// upd.ExpectedVersion and returns the new version number.
	// Returns ErrVersionConflict otherwise.
	UpdateDocument(ctx context.Context, upd DocumentUpdate) (int, error)

	// CreateDocument creates a document below doc.ParentID.
	CreateDocument(ctx context.Context, doc NewDocument) (*Document, error)

	// Ping checks connectivity and credentials.
	Ping(ctx context.Context) error
}

// IssueService is the contract of the issue tracker.
type IssueService interface {
	// CreateIssue creates an issue and returns its key.
	CreateIssue(ctx context.Context, req IssueRequest) (string, error)

	// TransitionIssue moves an issue to the named status.
	// Returns ErrNotFound for unknown issues.
	TransitionIssue(ctx context.Context, key, status string) error

	// GetIssue returns ErrNotFound for unknown issues.
	GetIssue(ctx context.Context, key string) (*Issue, error)

	// ListChildren returns the direct children of an issue in the
	// hierarchy (phases, work packages, ...).
	ListChildren(ctx context.Context, key string) ([]*Issue, error)

	// FindIssueByMarker returns the issue whose description carries the
	// given context marker, or ErrNotFound.
	FindIssueByMarker(ctx context.Context, marker string) (*Issue, error)

	// Ping checks connectivity and credentials.
	Ping(ctx context.Context) error
}
