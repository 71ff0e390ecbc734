// Package app exposes the four core operations (sync, undo, project tree
// sync, health/readiness) as plain functions over configured gateways and
// keeps every run's report in the run store under its request id.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/logging"
	"github.com/Mschirtzinger/tasksync/internal/syncer"
	"github.com/Mschirtzinger/tasksync/internal/treesync"
	"github.com/Mschirtzinger/tasksync/internal/undo"
)

// Options carries the optional collaborators of an App.
type Options struct {
	// Store persists run reports. Nil disables run history; undo then
	// needs a full ledger.
	Store *ledger.Store

	Logger   *log.Logger
	Observer core.Observer

	// NewRequestID generates ids for requests that carry none.
	// Defaults to random UUIDs.
	NewRequestID func() string

	// Now is used for retention pruning; nil uses time.Now.
	Now func() time.Time
}

// App runs requests against one pair of gateways.
type App struct {
	cfg    config.Config
	docs   core.DocumentService
	issues core.IssueService
	store  *ledger.Store
	opts   Options
	logger *log.Logger

	sync    *syncer.Engine
	undo    *undo.Engine
	project *treesync.Engine
}

// New builds the engines from cfg over the given gateways.
func New(cfg config.Config, docs core.DocumentService, issues core.IssueService, opts Options) *App {
	logger := logging.OrDefault(opts.Logger, "app")
	if opts.NewRequestID == nil {
		opts.NewRequestID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sc := syncer.FromConfig(cfg, prefixed(logger, "sync"))
	sc.Observer = opts.Observer
	uc := undo.FromConfig(cfg, prefixed(logger, "undo"))
	uc.Observer = opts.Observer
	tc := treesync.FromConfig(cfg, prefixed(logger, "treesync"))
	tc.Observer = opts.Observer

	return &App{
		cfg:     cfg,
		docs:    docs,
		issues:  issues,
		store:   opts.Store,
		opts:    opts,
		logger:  logger,
		sync:    syncer.New(docs, issues, sc),
		undo:    undo.New(docs, issues, uc),
		project: treesync.New(docs, issues, tc),
	}
}

func prefixed(l *log.Logger, component string) *log.Logger {
	return log.New(l.Writer(), "["+component+"] ", l.Flags())
}

// Store returns the run store, or nil.
func (a *App) Store() *ledger.Store { return a.store }

// SyncRequest asks for every incomplete task below URLs to be turned into
// issues.
type SyncRequest struct {
	RequestID     string   `json:"request_id,omitempty"`
	RequestUser   string   `json:"request_user,omitempty"`
	URLs          []string `json:"urls"`
	DaysToDueDate *int     `json:"days_to_due_date,omitempty"`
}

// UndoRequest reverses a sync run given either its ledger or the request
// id it was stored under.
type UndoRequest struct {
	RequestID     string        `json:"request_id,omitempty"`
	SyncRequestID string        `json:"sync_request_id,omitempty"`
	Ledger        ledger.Ledger `json:"ledger,omitempty"`
}

// ProjectRequest asks for an issue hierarchy to be mirrored into documents.
type ProjectRequest struct {
	RequestID    string `json:"request_id,omitempty"`
	RequestUser  string `json:"request_user,omitempty"`
	RootIssueKey string `json:"root_issue_key"`
	RootDocument string `json:"root_document"`
}

func (a *App) requestID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return a.opts.NewRequestID()
}

// Sync runs a sync request and stores its ledger.
//
// A storage failure is logged, not returned: the remote changes already
// happened and the report is the only complete record of them.
func (a *App) Sync(ctx context.Context, req SyncRequest) (*syncer.Report, error) {
	id := a.requestID(req.RequestID)
	report, err := a.sync.Run(ctx, syncer.Request{
		RequestID:     id,
		RequestUser:   req.RequestUser,
		Roots:         req.URLs,
		DaysToDueDate: req.DaysToDueDate,
	})
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		user := req.RequestUser
		if user == "" {
			user = a.cfg.Sync.RequestUser
		}
		// A fresh context: the ledger must be kept even when the request
		// was cancelled halfway.
		if err := a.store.SaveLedgerContext(context.WithoutCancel(ctx), id, user, report.Entries); err != nil {
			a.logger.Printf("WARNING: failed to store ledger %s: %v", id, err)
		}
	}
	return report, nil
}

// Undo reverses a sync run. When req.Ledger is empty the ledger stored
// under req.SyncRequestID is used.
func (a *App) Undo(ctx context.Context, req UndoRequest) (*undo.Report, error) {
	l := req.Ledger
	if len(l) == 0 {
		if req.SyncRequestID == "" {
			return nil, fmt.Errorf("%w: a ledger or a sync request id is required", core.ErrInvalidInput)
		}
		var err error
		if l, err = a.Ledger(ctx, req.SyncRequestID); err != nil {
			return nil, err
		}
	}
	id := a.requestID(req.RequestID)
	report, err := a.undo.Run(ctx, undo.Request{RequestID: id, Ledger: l})
	if err != nil {
		return nil, err
	}
	a.save(ctx, ledger.KindUndo, id, "", report.Status, len(report.Entries), report)
	return report, nil
}

// SyncProject mirrors an issue hierarchy into the document tree.
func (a *App) SyncProject(ctx context.Context, req ProjectRequest) (*treesync.Report, error) {
	id := a.requestID(req.RequestID)
	report, err := a.project.Run(ctx, treesync.Request{
		RequestID:    id,
		RootIssueKey: req.RootIssueKey,
		RootDocument: req.RootDocument,
	})
	if err != nil {
		return nil, err
	}
	a.save(ctx, ledger.KindProject, id, req.RequestUser, report.Status, len(report.Pages), report)
	return report, nil
}

func (a *App) save(ctx context.Context, kind, id, user, status string, entries int, report any) {
	if a.store == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		a.logger.Printf("WARNING: failed to encode %s report %s: %v", kind, id, err)
		return
	}
	err = a.store.SaveRunContext(context.WithoutCancel(ctx), &ledger.Run{
		RequestID:   id,
		Kind:        kind,
		RequestUser: user,
		Status:      status,
		Entries:     entries,
		Payload:     payload,
	})
	if err != nil {
		a.logger.Printf("WARNING: failed to store %s report %s: %v", kind, id, err)
	}
}

// ErrNoStore is returned by history operations when run history is off.
var ErrNoStore = errors.New("run history is disabled")

// Ledger returns the sync ledger stored under requestID.
func (a *App) Ledger(ctx context.Context, requestID string) (ledger.Ledger, error) {
	if a.store == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrNoStore)
	}
	l, err := a.store.LedgerContext(ctx, requestID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	return l, err
}

// Prune deletes stored runs older than the configured retention.
func (a *App) Prune(ctx context.Context) (int64, error) {
	if a.store == nil {
		return 0, ErrNoStore
	}
	if a.cfg.Store.Retention <= 0 {
		return 0, nil
	}
	n, err := a.store.PruneContext(ctx, a.opts.Now().Add(-a.cfg.Store.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Printf("Pruned %d runs older than %v", n, a.cfg.Store.Retention)
	}
	return n, nil
}

// Health is the liveness answer.
type Health struct {
	Status string `json:"status"`
}

// Health reports liveness only; it never calls the remotes.
func (a *App) Health() Health {
	return Health{Status: "ok"}
}

// Readiness is the outcome of a readiness probe, one entry per dependency.
type Readiness struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Ready pings both gateways and the run store.
func (a *App) Ready(ctx context.Context) Readiness {
	r := Readiness{Ready: true, Checks: make(map[string]string)}
	check := func(name string, err error) {
		if err != nil {
			r.Ready = false
			r.Checks[name] = err.Error()
			return
		}
		r.Checks[name] = "ok"
	}
	check("documents", a.docs.Ping(ctx))
	check("issues", a.issues.Ping(ctx))
	if a.store != nil {
		_, err := a.store.ListRunsContext(ctx, ledger.ListRunsFilter{Limit: 1})
		check("store", err)
	}
	return r
}
