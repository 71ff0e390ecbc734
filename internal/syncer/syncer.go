// Package syncer mirrors the incomplete tasks of document trees into the
// issue tracker and rewrites each task into a link to its new issue.
//
// A run has three phases. Every root is extracted first, so the ledger
// can follow discovery order. Issues are then created concurrently, one
// worker per task. Finally each document's rewrites are applied in order
// by a single worker, so that two tasks of one document never race on its
// version.
//
// Failures are isolated per task: a task that fails at any step gets a
// failure record and the others carry on. Only a malformed root reference
// or unreachable services before any work begins abort a run.
package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/fuzzy"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/markup"
	"github.com/Mschirtzinger/tasksync/internal/remote"
)

// Config holds the settings of the sync engine.
type Config struct {
	Workers  int
	MaxDepth int

	// MatchThreshold is the minimum similarity for relocating a task in
	// a document that changed after extraction.
	MatchThreshold float64

	// DueDateOffsetDays is added to today for tasks without a due date.
	DueDateOffsetDays int

	// NaturalDueDates enables due dates phrased in the task text.
	NaturalDueDates bool

	// ProjectKey files issues whose parent key carries no project.
	ProjectKey    string
	TaskIssueType string

	SummaryMaxChars     int
	DescriptionMaxChars int

	AggregationMacros []string
	ParentIssueTypes  []string

	// DefaultRequestUser is recorded when a request names nobody.
	DefaultRequestUser string

	// Link renders the issue macro replacing each task.
	Link markup.LinkRenderer

	// Create is the budget for issue creation. Every retry first looks
	// the issue up by its context marker.
	Create remote.RetryPolicy

	// Now returns the current time; nil uses time.Now.
	Now func() time.Time

	Logger   *log.Logger
	Observer core.Observer
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return FromConfig(config.DefaultConfig(), nil)
}

// FromConfig derives the engine settings from the process configuration.
func FromConfig(c config.Config, logger *log.Logger) Config {
	return Config{
		Workers:             c.Sync.Workers,
		MaxDepth:            c.Sync.MaxDepth,
		MatchThreshold:      c.Sync.MatchThreshold,
		DueDateOffsetDays:   c.Sync.DueDateOffsetDays,
		NaturalDueDates:     c.Sync.NaturalDueDates,
		ProjectKey:          c.Jira.ProjectKey,
		TaskIssueType:       c.Jira.TaskIssueType,
		SummaryMaxChars:     c.Jira.SummaryMaxChars,
		DescriptionMaxChars: c.Jira.DescriptionMaxChars,
		AggregationMacros:   c.Sync.AggregationMacros,
		ParentIssueTypes:    c.Jira.ParentIssueTypes,
		DefaultRequestUser:  c.Sync.RequestUser,
		Link: markup.LinkRenderer{
			ServerName: c.Confluence.MacroServerName,
			ServerID:   c.Confluence.MacroServerID,
		},
		Create: remote.PolicyFromConfig(c.Retry.Write, logger),
		Logger: logger,
	}
}

// Request is one sync invocation.
type Request struct {
	RequestID   string
	RequestUser string

	// Roots are document URLs or ids.
	Roots []string

	// DaysToDueDate overrides Config.DueDateOffsetDays when set.
	DaysToDueDate *int
}

// Problem is a failure not tied to one task, such as an unreachable
// document whose tasks could not be discovered.
type Problem struct {
	Root       string `json:"root"`
	DocumentID string `json:"document_id,omitempty"`
	Reason     string `json:"reason"`
	ReasonCode string `json:"reason_code"`
}

// Report is the complete outcome of a sync run.
type Report struct {
	RequestID string        `json:"request_id"`
	Status    string        `json:"status"`
	Entries   ledger.Ledger `json:"entries"`
	Problems  []Problem     `json:"problems,omitempty"`
}

// Engine runs sync requests against a document and an issue service.
type Engine struct {
	docs    core.DocumentService
	issues  core.IssueService
	cfg     Config
	parser  *markup.Parser
	matcher fuzzy.Matcher
	due     *markup.DueDates
	logger  *log.Logger
}

// New returns a sync engine.
//
// If cfg.Logger is nil, a default logger writing to stderr is used.
func New(docs core.DocumentService, issues core.IssueService, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		docs:    docs,
		issues:  issues,
		cfg:     cfg,
		parser:  markup.NewParser(cfg.AggregationMacros),
		matcher: fuzzy.NewMatcher(cfg.MatchThreshold),
		logger:  cfg.Logger,
	}
	if cfg.NaturalDueDates {
		e.due = markup.NewDueDates()
	}
	return e
}

// Run syncs every task below the request's roots.
//
// The returned error is non-nil only for fatal conditions (a root that is
// not a document reference, or a service that cannot be reached before
// anything was changed). Everything else is reported per task in the
// ledger, which is ordered by discovery.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	roots := make([]string, len(req.Roots))
	for i, ref := range req.Roots {
		id, err := core.ParseDocumentRef(ref)
		if err != nil {
			return nil, err
		}
		roots[i] = id
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no root documents", core.ErrInvalidInput)
	}
	if err := e.ping(ctx); err != nil {
		return nil, err
	}
	if req.RequestUser == "" {
		req.RequestUser = e.cfg.DefaultRequestUser
	}

	start := time.Now()
	e.logger.Printf("Starting sync %s: %d root(s) for %s", req.RequestID, len(roots), req.RequestUser)

	units, problems := e.discover(ctx, req.RequestID, roots)
	r := &run{
		engine: e,
		req:    req,
		units:  units,
		states: make([]*taskState, len(units)),
	}
	r.createIssues(ctx)
	r.rewriteDocuments(ctx)

	report := &Report{
		RequestID: req.RequestID,
		Entries:   r.ledger(),
		Problems:  problems,
	}
	statuses := report.Entries.Statuses()
	for range problems {
		statuses = append(statuses, ledger.StatusFailure)
	}
	report.Status = ledger.Overall(statuses)

	ok, failed, skipped := report.Entries.Counts()
	e.logger.Printf("Sync %s complete in %v: %s (success=%d, failure=%d, skipped=%d, problems=%d)",
		req.RequestID, time.Since(start).Round(time.Millisecond), report.Status, ok, failed, skipped, len(problems))
	core.Emit(e.cfg.Observer, core.Event{
		Kind:      core.EventRunComplete,
		RequestID: req.RequestID,
		State:     report.Status,
		Message:   fmt.Sprintf("%d entries", len(report.Entries)),
	})
	return report, nil
}

func (e *Engine) ping(ctx context.Context) error {
	if err := e.docs.Ping(ctx); err != nil {
		return fmt.Errorf("%w: document service: %w", core.ErrUnavailable, err)
	}
	if err := e.issues.Ping(ctx); err != nil {
		return fmt.Errorf("%w: issue service: %w", core.ErrUnavailable, err)
	}
	return nil
}

func (e *Engine) now() time.Time { return e.cfg.Now() }
