// Package undo reverses a sync run from its ledger: each created issue is
// moved to the reverted status and each rewritten document gets its task
// back in place of the issue link.
//
// Undo is a compensating action, not a rollback. The issue step and the
// document step of an entry succeed or fail independently and are
// reported separately.
package undo

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/fuzzy"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/markup"
)

// Document restore methods.
const (
	MethodExact = "exact"
	MethodFuzzy = "fuzzy"
)

// Config holds the settings of the undo engine.
type Config struct {
	Workers int

	// MatchThreshold is the minimum similarity for locating an issue link
	// in a document edited since the sync.
	MatchThreshold float64

	// RevertedStatus is the issue status undo transitions to.
	RevertedStatus string

	AggregationMacros []string

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
		Workers:           c.Sync.Workers,
		MatchThreshold:    c.Sync.MatchThreshold,
		RevertedStatus:    c.Jira.Statuses.Reverted,
		AggregationMacros: c.Sync.AggregationMacros,
		Logger:            logger,
	}
}

// Request is one undo invocation.
type Request struct {
	RequestID string
	Ledger    ledger.Ledger
}

// Report is the complete outcome of an undo run, one entry per ledger
// entry in ledger order.
type Report struct {
	RequestID string              `json:"request_id"`
	Status    string              `json:"status"`
	Entries   []ledger.UndoRecord `json:"entries"`
}

// Engine runs undo requests.
type Engine struct {
	docs    core.DocumentService
	issues  core.IssueService
	cfg     Config
	parser  *markup.Parser
	matcher fuzzy.Matcher
	logger  *log.Logger
}

// New returns an undo engine.
//
// If cfg.Logger is nil, a default logger writing to stderr is used.
func New(docs core.DocumentService, issues core.IssueService, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[undo] ", log.LstdFlags)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		docs:    docs,
		issues:  issues,
		cfg:     cfg,
		parser:  markup.NewParser(cfg.AggregationMacros),
		matcher: fuzzy.NewMatcher(cfg.MatchThreshold),
		logger:  cfg.Logger,
	}
}

// Run reverses every entry of the request's ledger.
//
// Issue transitions run concurrently and never wait for documents.
// Documents are restored one worker per document, latest rewrite first.
// The error is non-nil only for an invalid ledger or services that cannot
// be reached before anything was changed.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	l := req.Ledger
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if err := e.docs.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: document service: %w", core.ErrUnavailable, err)
	}
	if err := e.issues.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: issue service: %w", core.ErrUnavailable, err)
	}

	start := time.Now()
	e.logger.Printf("Starting undo %s: %d ledger entries", req.RequestID, len(l))

	out := make([]ledger.UndoRecord, len(l))
	var (
		order  []string
		groups = make(map[string][]int)
	)
	for i, rec := range l {
		out[i] = ledger.UndoRecord{
			ConfluencePageID: rec.ConfluencePageID,
			ConfluenceTaskID: rec.ConfluenceTaskID,
			NewJiraTaskKey:   rec.NewJiraTaskKey,
			TaskSummary:      rec.TaskSummary,
			IssueStatus:      ledger.StatusSkipped,
			DocumentStatus:   ledger.StatusSkipped,
		}
		if rec.Status == ledger.StatusSuccess {
			if _, ok := groups[rec.ConfluencePageID]; !ok {
				order = append(order, rec.ConfluencePageID)
			}
			groups[rec.ConfluencePageID] = append(groups[rec.ConfluencePageID], i)
		} else if rec.NewJiraTaskKey != "" {
			out[i].DocumentReason = "sync did not rewrite the document"
		}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, rec := range l {
		ref, ok := rec.Issue()
		if !ok || rec.Status == ledger.StatusSkipped {
			continue
		}
		g.Go(func() error {
			e.revertIssue(ctx, req.RequestID, rec, ref, &out[i])
			return nil
		})
	}
	for _, id := range order {
		g.Go(func() error {
			e.restoreDocument(ctx, req.RequestID, l, groups[id], out)
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		out[i].Settle()
	}
	report := &Report{RequestID: req.RequestID, Entries: out}
	report.Status = ledger.Overall(ledger.UndoStatuses(out))

	e.logger.Printf("Undo %s complete in %v: %s", req.RequestID, time.Since(start).Round(time.Millisecond), report.Status)
	core.Emit(e.cfg.Observer, core.Event{
		Kind:      core.EventRunComplete,
		RequestID: req.RequestID,
		State:     report.Status,
		Message:   fmt.Sprintf("%d entries", len(out)),
	})
	return report, nil
}

func (e *Engine) revertIssue(ctx context.Context, requestID string, rec ledger.Record, ref core.LinkedIssueRef, out *ledger.UndoRecord) {
	err := ctx.Err()
	if err == nil {
		err = e.issues.TransitionIssue(ctx, ref.Key, e.cfg.RevertedStatus)
	}
	if err != nil {
		out.IssueStatus = ledger.StatusFailure
		out.IssueReason = err.Error()
		out.IssueReasonCode = core.ReasonCode(err)
		e.logger.Printf("WARNING: failed to revert %s: %v", ref.Key, err)
	} else {
		out.IssueStatus = ledger.StatusSuccess
		e.logger.Printf("Reverted %s to %s", ref.Key, e.cfg.RevertedStatus)
	}
	core.Emit(e.cfg.Observer, core.Event{
		Kind:       core.EventUndoStep,
		RequestID:  requestID,
		DocumentID: rec.ConfluencePageID,
		TaskID:     rec.ConfluenceTaskID,
		IssueKey:   ref.Key,
		State:      "issue_" + out.IssueStatus,
		Message:    out.IssueReasonCode,
	})
}
