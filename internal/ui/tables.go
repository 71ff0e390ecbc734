package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-runewidth"

	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/treesync"
)

const cellWidth = 48

func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, cellWidth, "...")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// SyncTable renders one row per ledger entry.
func SyncTable(l ledger.Ledger) string {
	t := newTable("Status", "Page", "Task", "Issue", "Parent", "Reason")
	for _, r := range l {
		t.Row(
			RenderStatus(r.Status),
			cell(r.ConfluencePageID),
			cell(r.TaskSummary),
			r.NewJiraTaskKey,
			r.LinkedWorkPackage,
			cell(reason(r.Reason, r.ReasonCode)),
		)
	}
	return t.String()
}

// UndoTable renders one row per reverted ledger entry.
func UndoTable(entries []ledger.UndoRecord) string {
	t := newTable("Status", "Issue", "Issue step", "Page", "Page step", "Reason")
	for _, u := range entries {
		step := u.DocumentStatus
		if u.DocumentMethod != "" {
			step += " (" + u.DocumentMethod + ")"
		}
		t.Row(
			RenderStatus(u.Status),
			u.NewJiraTaskKey,
			RenderStatus(u.IssueStatus),
			cell(u.ConfluencePageID),
			RenderStatus(step),
			cell(firstNonEmpty(u.IssueReason, u.DocumentReason)),
		)
	}
	return t.String()
}

// PagesTable renders one row per mirrored issue.
func PagesTable(pages []treesync.PageResult) string {
	t := newTable("Action", "Issue", "Type", "Page", "Parent page", "Reason")
	for _, p := range pages {
		t.Row(
			RenderStatus(p.Action),
			p.IssueKey,
			p.IssueType,
			p.DocumentID,
			p.ParentDocumentID,
			cell(reason(p.Reason, p.ReasonCode)),
		)
	}
	return t.String()
}

// RunsTable renders stored runs, newest first.
func RunsTable(runs []*ledger.Run) string {
	t := newTable("Request", "Kind", "When", "User", "Entries", "Status")
	for _, r := range runs {
		t.Row(
			r.RequestID,
			r.Kind,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.RequestUser,
			fmt.Sprint(r.Entries),
			RenderStatus(r.Status),
		)
	}
	return t.String()
}

func reason(reason, code string) string {
	if code == "" {
		return reason
	}
	return code + ": " + reason
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
