// Package ledger defines the durable outcome records of sync and undo runs
// and their persistence: JSON, JSONL and YAML files, plus a SQLite run
// store keyed by request id.
//
// The Record field names are the exchange format between a sync run and a
// later undo run, possibly by another process; do not rename them.
package ledger

import (
	"errors"
	"fmt"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
	StatusPartial = "partial" // undo only: one step succeeded, the other failed
)

// Record is the outcome of one task in a sync run.
type Record struct {
	Status      string `json:"status" yaml:"status"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
	ReasonCode  string `json:"reason_code,omitempty" yaml:"reason_code,omitempty"`
	RequestUser string `json:"request_user" yaml:"request_user"`

	ConfluencePageID    string `json:"confluence_page_id" yaml:"confluence_page_id"`
	ConfluencePageTitle string `json:"confluence_page_title" yaml:"confluence_page_title"`
	ConfluencePageURL   string `json:"confluence_page_url" yaml:"confluence_page_url"`
	ConfluenceTaskID    string `json:"confluence_task_id" yaml:"confluence_task_id"`

	TaskSummary  string `json:"task_summary" yaml:"task_summary"`
	TaskStatus   string `json:"task_status,omitempty" yaml:"task_status,omitempty"`
	AssigneeName string `json:"assignee_name,omitempty" yaml:"assignee_name,omitempty"`
	DueDate      string `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Context      string `json:"context,omitempty" yaml:"context,omitempty"`

	// TaskMarkup is the exact task element replaced by the sync and
	// LinkMarkup the exact issue macro written in its place.
	TaskMarkup string `json:"task_markup,omitempty" yaml:"task_markup,omitempty"`
	LinkMarkup string `json:"link_markup,omitempty" yaml:"link_markup,omitempty"`

	NewJiraTaskKey    string `json:"new_jira_task_key,omitempty" yaml:"new_jira_task_key,omitempty"`
	LinkedWorkPackage string `json:"linked_work_package,omitempty" yaml:"linked_work_package,omitempty"`
	IssueType         string `json:"issue_type,omitempty" yaml:"issue_type,omitempty"`

	// Pre-mutation document version.
	OriginalPageVersion     int    `json:"original_page_version" yaml:"original_page_version"`
	OriginalPageVersionBy   string `json:"original_page_version_by,omitempty" yaml:"original_page_version_by,omitempty"`
	OriginalPageVersionWhen string `json:"original_page_version_when,omitempty" yaml:"original_page_version_when,omitempty"`

	ContextMarker string `json:"context_marker,omitempty" yaml:"context_marker,omitempty"`
}

// Ledger is the ordered outcome of one sync run.
type Ledger []Record

// FromUnit returns a record carrying the task fields of u.
func FromUnit(u core.TaskUnit, requestUser string) Record {
	return Record{
		RequestUser:             requestUser,
		ConfluencePageID:        u.DocumentID,
		ConfluencePageTitle:     u.DocumentTitle,
		ConfluencePageURL:       u.DocumentURL,
		ConfluenceTaskID:        u.TaskID,
		TaskSummary:             u.Summary,
		TaskStatus:              u.Status,
		AssigneeName:            u.Assignee,
		DueDate:                 u.DueDate,
		Context:                 u.Context,
		TaskMarkup:              u.Markup,
		OriginalPageVersion:     u.Version.Number,
		OriginalPageVersionBy:   u.Version.Author,
		OriginalPageVersionWhen: u.Version.Timestamp,
	}
}

// Fail marks the record failed with err's message and reason code.
func (r *Record) Fail(err error) {
	r.Status = StatusFailure
	r.Reason = err.Error()
	r.ReasonCode = core.ReasonCode(err)
}

// Issue returns the linked issue, if any.
func (r Record) Issue() (core.LinkedIssueRef, bool) {
	if r.NewJiraTaskKey == "" {
		return core.LinkedIssueRef{}, false
	}
	return core.LinkedIssueRef{Key: r.NewJiraTaskKey, ParentKey: r.LinkedWorkPackage, Type: r.IssueType}, true
}

// Validate checks that a record can be consumed by undo.
func (r *Record) Validate() error {
	switch r.Status {
	case StatusSuccess, StatusFailure, StatusSkipped:
	case "":
		return fmt.Errorf("status is required")
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.ConfluencePageID == "" {
		return fmt.Errorf("confluence_page_id is required")
	}
	if r.Status != StatusSuccess {
		return nil
	}
	if r.NewJiraTaskKey == "" {
		return fmt.Errorf("new_jira_task_key is required on success")
	}
	if r.OriginalPageVersion < 1 {
		return fmt.Errorf("original_page_version must be positive on success (got %d)", r.OriginalPageVersion)
	}
	if r.TaskMarkup == "" || r.LinkMarkup == "" {
		return fmt.Errorf("task_markup and link_markup are required on success")
	}
	return nil
}

// Validate checks every record and reports all problems with their index.
func (l Ledger) Validate() error {
	var errs []error
	for i := range l {
		if err := l[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Counts tallies entries by status.
func (l Ledger) Counts() (success, failure, skipped int) {
	for _, r := range l {
		switch r.Status {
		case StatusSuccess:
			success++
		case StatusFailure:
			failure++
		case StatusSkipped:
			skipped++
		}
	}
	return success, failure, skipped
}

// UndoRecord is the outcome of reversing one ledger entry. Issue and
// document steps are reported separately.
type UndoRecord struct {
	ConfluencePageID string `json:"confluence_page_id" yaml:"confluence_page_id"`
	ConfluenceTaskID string `json:"confluence_task_id" yaml:"confluence_task_id"`
	NewJiraTaskKey   string `json:"new_jira_task_key,omitempty" yaml:"new_jira_task_key,omitempty"`
	TaskSummary      string `json:"task_summary,omitempty" yaml:"task_summary,omitempty"`

	Status string `json:"status" yaml:"status"`

	IssueStatus     string `json:"issue_status" yaml:"issue_status"`
	IssueReason     string `json:"issue_reason,omitempty" yaml:"issue_reason,omitempty"`
	IssueReasonCode string `json:"issue_reason_code,omitempty" yaml:"issue_reason_code,omitempty"`

	DocumentStatus     string  `json:"document_status" yaml:"document_status"`
	DocumentReason     string  `json:"document_reason,omitempty" yaml:"document_reason,omitempty"`
	DocumentReasonCode string  `json:"document_reason_code,omitempty" yaml:"document_reason_code,omitempty"`
	DocumentMethod     string  `json:"document_method,omitempty" yaml:"document_method,omitempty"` // exact | fuzzy
	MatchScore         float64 `json:"match_score,omitempty" yaml:"match_score,omitempty"`
	RestoredVersion    int     `json:"restored_version,omitempty" yaml:"restored_version,omitempty"`
}

// Settle derives Status from the two step outcomes: success when no step
// failed, failure when nothing succeeded, otherwise partial.
func (u *UndoRecord) Settle() {
	ok := u.IssueStatus == StatusSuccess || u.DocumentStatus == StatusSuccess
	failed := u.IssueStatus == StatusFailure || u.DocumentStatus == StatusFailure
	switch {
	case !failed && ok:
		u.Status = StatusSuccess
	case !failed:
		u.Status = StatusSkipped
	case ok:
		u.Status = StatusPartial
	default:
		u.Status = StatusFailure
	}
}
