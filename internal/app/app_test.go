package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/logging"
	"github.com/Mschirtzinger/tasksync/internal/remote/memory"
)

type fixture struct {
	app    *App
	docs   *memory.Documents
	issues *memory.Issues
	store  *ledger.Store
	ids    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	docs, issues := Demo()
	f := &fixture{docs: docs, issues: issues, store: store}
	f.app = New(config.DefaultConfig(), docs, issues, Options{
		Store:  store,
		Logger: logging.Discard(),
		NewRequestID: func() string {
			f.ids++
			return "req-" + string(rune('0'+f.ids))
		},
	})
	return f
}

func TestSyncStoresLedgerAndUndoByRequestID(t *testing.T) {
	f := newFixture(t)
	original, _ := f.docs.Get("101")

	report, err := f.app.Sync(context.Background(), SyncRequest{URLs: []string{"100"}, RequestUser: "alice"})
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if report.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", report.RequestID)
	}
	if report.Status != ledger.OverallSuccess || len(report.Entries) != 2 {
		t.Fatalf("report = %s with %d entries", report.Status, len(report.Entries))
	}

	run, err := f.store.GetRunContext(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("GetRunContext() failed: %v", err)
	}
	if run.Kind != ledger.KindSync || run.RequestUser != "alice" || run.Entries != 2 {
		t.Errorf("run = %+v", run)
	}

	undone, err := f.app.Undo(context.Background(), UndoRequest{SyncRequestID: "req-1"})
	if err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	if undone.Status != ledger.OverallSuccess {
		t.Errorf("undo Status = %q", undone.Status)
	}
	restored, _ := f.docs.Get("101")
	if restored.Content != original.Content {
		t.Errorf("content not restored:\n got %q\nwant %q", restored.Content, original.Content)
	}
	if run, err := f.store.GetRunContext(context.Background(), undone.RequestID); err != nil || run.Kind != ledger.KindUndo {
		t.Errorf("undo run = %+v, %v", run, err)
	}
}

func TestUndoRequiresLedgerOrKnownRun(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  UndoRequest
	}{
		{"empty", UndoRequest{}},
		{"unknown run", UndoRequest{SyncRequestID: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.app.Undo(context.Background(), tt.req)
			if !errors.Is(err, core.ErrInvalidInput) {
				t.Errorf("Undo() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestUndoRejectsProjectRun(t *testing.T) {
	f := newFixture(t)
	report, err := f.app.SyncProject(context.Background(), ProjectRequest{RootIssueKey: "DEMO-1", RootDocument: "100"})
	if err != nil {
		t.Fatalf("SyncProject() failed: %v", err)
	}
	if report.Status != ledger.OverallSuccess || len(report.Pages) != 2 {
		t.Errorf("report = %+v", report)
	}
	_, err = f.app.Undo(context.Background(), UndoRequest{SyncRequestID: report.RequestID})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("Undo() = %v, want ErrInvalidInput", err)
	}
}

func TestSyncWithoutStore(t *testing.T) {
	docs, issues := Demo()
	a := New(config.DefaultConfig(), docs, issues, Options{Logger: logging.Discard()})
	report, err := a.Sync(context.Background(), SyncRequest{RequestID: "given", URLs: []string{"101"}})
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if report.RequestID != "given" {
		t.Errorf("RequestID = %q", report.RequestID)
	}
	if _, err := a.Prune(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Errorf("Prune() = %v, want ErrNoStore", err)
	}
}

func TestSyncFatalInputIsNotStored(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Sync(context.Background(), SyncRequest{URLs: []string{"not a url"}})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("Sync() = %v, want ErrInvalidInput", err)
	}
	runs, err := f.store.ListRunsContext(context.Background(), ledger.ListRunsFilter{})
	if err != nil {
		t.Fatalf("ListRunsContext() failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("stored %d runs", len(runs))
	}
}

func TestPruneUsesRetention(t *testing.T) {
	f := newFixture(t)
	old := &ledger.Run{RequestID: "old", Kind: ledger.KindSync, CreatedAt: time.Now().Add(-30 * 24 * time.Hour), Payload: []byte("[]")}
	if err := f.store.SaveRun(old); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}
	if err := f.store.SaveRun(&ledger.Run{RequestID: "new", Kind: ledger.KindSync, Payload: []byte("[]")}); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}
	n, err := f.app.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

func TestReadiness(t *testing.T) {
	f := newFixture(t)
	if h := f.app.Health(); h.Status != "ok" {
		t.Errorf("Health() = %+v", h)
	}
	r := f.app.Ready(context.Background())
	if !r.Ready || r.Checks["documents"] != "ok" || r.Checks["store"] != "ok" {
		t.Errorf("Ready() = %+v", r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = f.app.Ready(ctx)
	if r.Ready || !strings.Contains(r.Checks["issues"], "canceled") {
		t.Errorf("Ready() = %+v", r)
	}
}

func TestGatewaysRequireURLs(t *testing.T) {
	_, _, err := Gateways(config.DefaultConfig(), logging.Discard())
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("Gateways() = %v, want ErrInvalidInput", err)
	}

	cfg := config.DefaultConfig()
	cfg.Confluence.BaseURL = "https://wiki.example.com"
	cfg.Jira.BaseURL = "https://jira.example.com"
	docs, issues, err := Gateways(cfg, logging.Discard())
	if err != nil || docs == nil || issues == nil {
		t.Errorf("Gateways() = %v, %v, %v", docs, issues, err)
	}
}
