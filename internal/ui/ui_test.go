package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/treesync"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestInitWithoutTerminalDisablesColor(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, false)
	if got := RenderFail("x"); got != "x" {
		t.Errorf("RenderFail() = %q, want plain text", got)
	}
	if IsTerminal(&buf) {
		t.Error("IsTerminal(buffer) = true")
	}
}

func TestSymbol(t *testing.T) {
	tests := map[string]string{
		ledger.OverallSuccess: "✓",
		ledger.OverallPartial: "⚠",
		ledger.OverallFailed:  "✗",
		ledger.OverallSkipped: "•",
	}
	for status, want := range tests {
		if got := Symbol(status); got != want {
			t.Errorf("Symbol(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestSyncTable(t *testing.T) {
	out := SyncTable(ledger.Ledger{
		{Status: ledger.StatusSuccess, ConfluencePageID: "101", TaskSummary: "Draft the\nsitemap", NewJiraTaskKey: "DEMO-7", LinkedWorkPackage: "DEMO-1"},
		{Status: ledger.StatusFailure, ConfluencePageID: "101", TaskSummary: strings.Repeat("long ", 40), Reason: "no parent", ReasonCode: "invalid_input"},
	})
	for _, want := range []string{"Status", "DEMO-7", "Draft the sitemap", "invalid_input: no parent", "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("SyncTable() missing %q:\n%s", want, out)
		}
	}
}

func TestUndoTable(t *testing.T) {
	out := UndoTable([]ledger.UndoRecord{{
		Status: ledger.StatusPartial, NewJiraTaskKey: "DEMO-7", ConfluencePageID: "101",
		IssueStatus: ledger.StatusSuccess, DocumentStatus: ledger.StatusFailure, DocumentMethod: "fuzzy",
		DocumentReason: "edited since sync",
	}})
	for _, want := range []string{"partial", "failure (fuzzy)", "edited since sync"} {
		if !strings.Contains(out, want) {
			t.Errorf("UndoTable() missing %q:\n%s", want, out)
		}
	}
}

func TestPagesAndRunsTables(t *testing.T) {
	out := PagesTable([]treesync.PageResult{{IssueKey: "DEMO-2", IssueType: "Phase", Action: "created", DocumentID: "1001", ParentDocumentID: "100"}})
	if !strings.Contains(out, "DEMO-2") || !strings.Contains(out, "created") {
		t.Errorf("PagesTable():\n%s", out)
	}

	out = RunsTable([]*ledger.Run{{RequestID: "req-1", Kind: ledger.KindSync, CreatedAt: time.Now(), Entries: 3, Status: ledger.OverallSuccess}})
	if !strings.Contains(out, "req-1") || !strings.Contains(out, "Success") {
		t.Errorf("RunsTable():\n%s", out)
	}
}
