package core

import (
	"context"
	"errors"
	"fmt"
)

// Errors surfaced by gateways and engines.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, core.ErrVersionConflict) {
//	    // relocate and retry
//	}
var (
	// ErrDocumentUnreachable is returned when a document could not be
	// fetched after retries. It aborts only the affected subtree.
	ErrDocumentUnreachable = errors.New("document unreachable")

	// ErrTransient marks a remote failure that may succeed on retry
	// (network error, timeout, 5xx, 429).
	ErrTransient = errors.New("transient remote error")

	// ErrPermanent marks a remote failure that will not succeed on retry
	// (validation failure, 4xx).
	ErrPermanent = errors.New("permanent remote error")

	// ErrNotFound is returned when a document or issue does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by UpdateDocument when the expected
	// version is no longer current.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStaleDocument is flagged when a document changed between
	// extraction and rewrite.
	ErrStaleDocument = errors.New("stale document")

	// ErrTaskNotRelocatable is returned when a task cannot be found again
	// in a changed document with enough confidence.
	ErrTaskNotRelocatable = errors.New("task not relocatable")

	// ErrLowConfidenceMatch is returned when the best fuzzy match scores
	// below the configured threshold.
	ErrLowConfidenceMatch = errors.New("low confidence match")

	// ErrNoContext is returned when no ancestor document carries an
	// accepted issue-key marker.
	ErrNoContext = errors.New("no ancestor issue context")

	// ErrEmptyTask is recorded for tasks without summary text. No issue is
	// created for them.
	ErrEmptyTask = errors.New("empty task")

	// ErrInvalidInput is returned for malformed root input. Fatal.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when a gateway cannot be reached before
	// any work begins. Fatal.
	ErrUnavailable = errors.New("remote service unavailable")
)

// RemoteError describes a failed gateway call.
type RemoteError struct {
	Op         string // e.g. "GET /rest/api/content/123"
	StatusCode int    // 0 for network-level failures
	Message    string
	Kind       error // one of ErrTransient, ErrPermanent, ErrNotFound, ErrVersionConflict
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// UnreachableError reports a document that could not be fetched.
type UnreachableError struct {
	DocumentID string
	Err        error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("document %s unreachable: %v", e.DocumentID, e.Err)
}

func (e *UnreachableError) Unwrap() []error {
	return []error{ErrDocumentUnreachable, e.Err}
}

// IsRetryable returns true if the error is likely to succeed on retry.
// Version conflicts are not retryable at the gateway level; the engines
// handle them by relocating content.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// IsPermanent returns true if the error will not go away by retrying.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrNotFound)
}

// IsFatal returns true if the error must abort a whole batch.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnavailable)
}

// ReasonCode maps an error to the stable reason code recorded in results.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrTaskNotRelocatable):
		return "task_not_relocatable"
	case errors.Is(err, ErrLowConfidenceMatch):
		return "low_confidence_match"
	case errors.Is(err, ErrStaleDocument):
		return "stale_document"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrDocumentUnreachable):
		return "document_unreachable"
	case errors.Is(err, ErrEmptyTask):
		return "empty_task"
	case errors.Is(err, ErrNoContext):
		return "no_context"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermanent):
		return "permanent_remote_error"
	case errors.Is(err, ErrTransient):
		return "transient_remote_error"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
