package syncer

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/markup"
	"github.com/Mschirtzinger/tasksync/internal/remote/memory"
)

var fixedNow = time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

func task(id, status, body string) string {
	return "<ac:task><ac:task-id>" + id + "</ac:task-id><ac:task-status>" + status +
		"</ac:task-status><ac:task-body>" + body + "</ac:task-body></ac:task>"
}

func taskList(tasks ...string) string {
	return "<ac:task-list>" + strings.Join(tasks, "") + "</ac:task-list>"
}

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Observe(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states(docID, taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == core.EventTaskState && e.DocumentID == docID && e.TaskID == taskID {
			out = append(out, e.State)
		}
	}
	return out
}

type fixture struct {
	docs   *memory.Documents
	issues *memory.Issues
	cfg    Config
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issues := memory.NewIssues()
	issues.Put(core.Issue{Key: "WP-1", Type: "Work Package", Summary: "Package", Status: "Open", Assignee: "wp-owner"})

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.Now = func() time.Time { return fixedNow }
	cfg.NaturalDueDates = false
	cfg.Create.Sleep = noSleep
	cfg.Create.MaxAttempts = 3
	cfg.Link.NewID = func() string { return "macro-1" }
	events := &recorder{}
	cfg.Observer = events

	return &fixture{docs: memory.NewDocuments(), issues: issues, cfg: cfg, events: events}
}

func (f *fixture) engine() *Engine {
	return New(f.docs, f.issues, f.cfg)
}

func (f *fixture) run(t *testing.T, roots ...string) *Report {
	t.Helper()
	report, err := f.engine().Run(context.Background(), Request{RequestID: "req-1", RequestUser: "alice", Roots: roots})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return report
}

func (f *fixture) content(t *testing.T, id string) string {
	t.Helper()
	doc, ok := f.docs.Get(id)
	if !ok {
		t.Fatalf("document %s missing", id)
	}
	return doc.Content
}

func (f *fixture) link(key string) string {
	return f.cfg.Link.Render(key)
}

const intro = "<p>Release blockers</p>"

func TestSyncRewritesTaskAndRecordsEntry(t *testing.T) {
	f := newFixture(t)
	original := task("1", "incomplete", "Fix login bug")
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+intro+taskList(original))

	report := f.run(t, "https://wiki.example.com/pages/viewpage.action?pageId=100")
	if len(report.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(report.Entries))
	}
	rec := report.Entries[0]
	if rec.Status != ledger.StatusSuccess {
		t.Fatalf("Status = %s (%s)", rec.Status, rec.Reason)
	}
	if report.Status != ledger.OverallSuccess {
		t.Errorf("Overall = %q", report.Status)
	}

	want := markup.Anchor("WP-1") + intro + taskList(f.link("WP-101"))
	if got := f.content(t, "100"); got != want {
		t.Errorf("content = %q\nwant %q", got, want)
	}

	if rec.NewJiraTaskKey != "WP-101" || rec.LinkedWorkPackage != "WP-1" || rec.IssueType != "Task" {
		t.Errorf("issue fields = %+v", rec)
	}
	if rec.TaskMarkup != original || rec.LinkMarkup != f.link("WP-101") {
		t.Errorf("markup fields = %q / %q", rec.TaskMarkup, rec.LinkMarkup)
	}
	if rec.OriginalPageVersion != 1 || rec.OriginalPageVersionBy != "author" {
		t.Errorf("version fields = %d by %q", rec.OriginalPageVersion, rec.OriginalPageVersionBy)
	}
	if rec.ContextMarker != "tasksync:doc=100;task=1;parent=WP-1;v=1" {
		t.Errorf("ContextMarker = %q", rec.ContextMarker)
	}
	if rec.RequestUser != "alice" || rec.Context != "Release blockers" {
		t.Errorf("request fields = %+v", rec)
	}
	if err := report.Entries.Validate(); err != nil {
		t.Errorf("ledger does not validate: %v", err)
	}

	issue, ok := f.issues.Get("WP-101")
	if !ok {
		t.Fatal("issue WP-101 was not created")
	}
	if issue.ParentKey != "WP-1" || issue.Summary != "Fix login bug" {
		t.Errorf("issue = %+v", issue)
	}
	if issue.Assignee != "wp-owner" {
		t.Errorf("Assignee = %q, want inherited wp-owner", issue.Assignee)
	}
	if !strings.Contains(issue.Description, "["+rec.ContextMarker+"]") {
		t.Errorf("description lacks marker: %q", issue.Description)
	}
	if !strings.Contains(issue.Description, "Context from Confluence:\nRelease blockers") {
		t.Errorf("description lacks context: %q", issue.Description)
	}

	wantStates := []string{"discovered", "issue_creating", "issue_created", "document_rewriting", "recorded"}
	if diff := cmp.Diff(wantStates, f.events.states("100", "1")); diff != "" {
		t.Errorf("state transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncPartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"200", "300", "400"} {
		f.docs.Put(id, "", "Root "+id, markup.Anchor("WP-1")+taskList(task("1", "incomplete", "Task of "+id)))
	}
	f.docs.SetFetchError("300", &core.RemoteError{Op: "fetch 300", StatusCode: 503, Message: "down", Kind: core.ErrTransient})

	report := f.run(t, "200", "300", "400")
	if len(report.Entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(report.Entries))
	}
	for _, rec := range report.Entries {
		if rec.Status != ledger.StatusSuccess {
			t.Errorf("entry for %s: %s (%s)", rec.ConfluencePageID, rec.Status, rec.Reason)
		}
	}
	if got := []string{report.Entries[0].ConfluencePageID, report.Entries[1].ConfluencePageID}; !cmp.Equal(got, []string{"200", "400"}) {
		t.Errorf("entries not in root order: %v", got)
	}
	if len(report.Problems) != 1 || report.Problems[0].DocumentID != "300" || report.Problems[0].ReasonCode != "document_unreachable" {
		t.Errorf("problems = %+v", report.Problems)
	}
	if report.Status != ledger.OverallPartial {
		t.Errorf("Overall = %q", report.Status)
	}
}

func TestSyncRecoversStaleDocument(t *testing.T) {
	f := newFixture(t)
	original := taskList(task("1", "incomplete", "Fix login bug"))
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+original)

	edited := markup.Anchor("WP-1") + "<p>Unrelated paragraph</p>" + original
	f.issues.OnCreateIssue = func(core.IssueRequest, string) {
		f.docs.Edit("100", edited)
	}

	report := f.run(t, "100")
	rec := report.Entries[0]
	if rec.Status != ledger.StatusSuccess {
		t.Fatalf("Status = %s (%s)", rec.Status, rec.Reason)
	}
	want := markup.Anchor("WP-1") + "<p>Unrelated paragraph</p>" + taskList(f.link("WP-101"))
	if got := f.content(t, "100"); got != want {
		t.Errorf("content = %q\nwant %q", got, want)
	}
	if rec.OriginalPageVersion != 2 || rec.OriginalPageVersionBy != "someone else" {
		t.Errorf("pre-mutation version = %d by %q, want 2 by someone else", rec.OriginalPageVersion, rec.OriginalPageVersionBy)
	}
}

func TestSyncFailsClosedWhenTaskRewritten(t *testing.T) {
	f := newFixture(t)
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(task("1", "incomplete", "Fix login bug")))

	edited := markup.Anchor("WP-1") + taskList(task("1", "incomplete", "Order catering for the offsite"))
	f.issues.OnCreateIssue = func(core.IssueRequest, string) {
		f.docs.Edit("100", edited)
	}

	report := f.run(t, "100")
	rec := report.Entries[0]
	if rec.Status != ledger.StatusFailure || rec.ReasonCode != "task_not_relocatable" {
		t.Fatalf("entry = %s / %s (%s)", rec.Status, rec.ReasonCode, rec.Reason)
	}
	if rec.NewJiraTaskKey != "WP-101" {
		t.Errorf("created issue not recorded: %q", rec.NewJiraTaskKey)
	}
	if f.docs.Updates() != 0 {
		t.Errorf("document was mutated %d times", f.docs.Updates())
	}
	if got := f.content(t, "100"); got != edited {
		t.Errorf("content changed: %q", got)
	}
}

func TestSyncRetriesOnceAfterVersionConflict(t *testing.T) {
	f := newFixture(t)
	original := taskList(task("1", "incomplete", "Fix login bug"))
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+original)

	edited := markup.Anchor("WP-1") + original + "<p>Appended while syncing</p>"
	var once sync.Once
	f.docs.BeforeUpdate = func(core.DocumentUpdate) {
		once.Do(func() { f.docs.Edit("100", edited) })
	}

	report := f.run(t, "100")
	rec := report.Entries[0]
	if rec.Status != ledger.StatusSuccess {
		t.Fatalf("Status = %s (%s)", rec.Status, rec.Reason)
	}
	want := markup.Anchor("WP-1") + taskList(f.link("WP-101")) + "<p>Appended while syncing</p>"
	if got := f.content(t, "100"); got != want {
		t.Errorf("content = %q\nwant %q", got, want)
	}
	if rec.OriginalPageVersion != 2 {
		t.Errorf("OriginalPageVersion = %d, want 2", rec.OriginalPageVersion)
	}
}

func TestSyncAdoptsIssueAfterLostReply(t *testing.T) {
	f := newFixture(t)
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(task("1", "incomplete", "Fix login bug")))
	f.issues.LoseCreateReplies(1)

	report := f.run(t, "100")
	rec := report.Entries[0]
	if rec.Status != ledger.StatusSuccess || rec.NewJiraTaskKey != "WP-101" {
		t.Fatalf("entry = %s %q (%s)", rec.Status, rec.NewJiraTaskKey, rec.Reason)
	}
	if n := f.issues.Creates(); n != 1 {
		t.Errorf("created %d issues, want 1", n)
	}
}

func TestSyncCreateFailures(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 1
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(
		task("1", "incomplete", "Rejected task"),
		task("2", "incomplete", "Flaky task"),
	))
	f.issues.FailCreate(
		&core.RemoteError{Op: "create issue", StatusCode: 400, Message: "bad field", Kind: core.ErrPermanent},
		&core.RemoteError{Op: "create issue", StatusCode: 502, Message: "bad gateway", Kind: core.ErrTransient},
	)

	report := f.run(t, "100")
	if got := report.Entries[0]; got.Status != ledger.StatusFailure || got.ReasonCode != "permanent_remote_error" {
		t.Errorf("entry 0 = %s / %s", got.Status, got.ReasonCode)
	}
	if got := report.Entries[1]; got.Status != ledger.StatusSuccess || got.NewJiraTaskKey != "WP-101" {
		t.Errorf("entry 1 = %s %q (%s)", got.Status, got.NewJiraTaskKey, got.Reason)
	}
	want := markup.Anchor("WP-1") + taskList(task("1", "incomplete", "Rejected task"), f.link("WP-101"))
	if got := f.content(t, "100"); got != want {
		t.Errorf("content = %q\nwant %q", got, want)
	}
}

func TestSyncSameDocumentTasks(t *testing.T) {
	f := newFixture(t)
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(
		task("1", "incomplete", "Same"),
		task("2", "incomplete", "Same"),
	))

	report := f.run(t, "100")
	if len(report.Entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(report.Entries))
	}
	keys := map[string]bool{}
	for i, rec := range report.Entries {
		if rec.Status != ledger.StatusSuccess {
			t.Fatalf("entry %d = %s (%s)", i, rec.Status, rec.Reason)
		}
		if rec.ConfluenceTaskID != []string{"1", "2"}[i] {
			t.Errorf("entry %d is task %s", i, rec.ConfluenceTaskID)
		}
		keys[rec.NewJiraTaskKey] = true
	}
	if len(keys) != 2 {
		t.Errorf("expected distinct issues, got %v", keys)
	}
	if v0, v1 := report.Entries[0].OriginalPageVersion, report.Entries[1].OriginalPageVersion; v0 != 1 || v1 != 2 {
		t.Errorf("pre-mutation versions = %d, %d; want 1, 2", v0, v1)
	}
	content := f.content(t, "100")
	if strings.Contains(content, "<ac:task>") {
		t.Errorf("tasks left behind: %q", content)
	}
}

func TestSyncTasksWithoutIDs(t *testing.T) {
	f := newFixture(t)
	bare := func(body string) string {
		return "<ac:task><ac:task-status>incomplete</ac:task-status><ac:task-body>" + body + "</ac:task-body></ac:task>"
	}
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(
		bare("Alpha release notes"),
		bare("Beta signup form"),
		task("9", "incomplete", "Gamma review"),
		task("9", "incomplete", "Delta review"),
	))

	report := f.run(t, "100")
	if len(report.Entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(report.Entries))
	}
	ids := map[string]bool{}
	for i, rec := range report.Entries {
		if rec.Status != ledger.StatusSuccess {
			t.Errorf("entry %d = %s (%s)", i, rec.Status, rec.Reason)
		}
		ids[rec.ConfluenceTaskID] = true
	}
	if len(ids) != 4 {
		t.Errorf("task ids not distinct: %v", ids)
	}
	if n := f.issues.Creates(); n != 4 {
		t.Errorf("created %d issues, want 4", n)
	}
	if content := f.content(t, "100"); strings.Contains(content, "<ac:task>") {
		t.Errorf("tasks left behind: %q", content)
	}
}

func TestSyncRelocationLeavesSiblingTasksAlone(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 1
	production := task("2", "incomplete", "Update the deploy docs for production")
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(
		task("1", "incomplete", "Update the deploy docs for staging"),
		production,
	))

	catering := task("1", "incomplete", "Order catering for the offsite")
	var once sync.Once
	f.issues.OnCreateIssue = func(core.IssueRequest, string) {
		once.Do(func() { f.docs.Edit("100", markup.Anchor("WP-1")+taskList(catering, production)) })
	}

	report := f.run(t, "100")
	if len(report.Entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(report.Entries))
	}
	staging, prod := report.Entries[0], report.Entries[1]
	if staging.Status != ledger.StatusFailure || staging.ReasonCode != "task_not_relocatable" {
		t.Errorf("staging entry = %s / %s (%s)", staging.Status, staging.ReasonCode, staging.Reason)
	}
	if staging.TaskMarkup == production {
		t.Error("staging entry recorded the production task as replaced")
	}
	if prod.Status != ledger.StatusSuccess || prod.TaskMarkup != production {
		t.Errorf("production entry = %s %q (%s)", prod.Status, prod.TaskMarkup, prod.Reason)
	}

	want := markup.Anchor("WP-1") + taskList(catering, f.link(prod.NewJiraTaskKey))
	if got := f.content(t, "100"); got != want {
		t.Errorf("content = %q\nwant %q", got, want)
	}
}

func TestSyncEmptyTaskAndNoContext(t *testing.T) {
	f := newFixture(t)
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(task("1", "incomplete", "  ")))
	f.docs.Put("200", "", "Orphan", taskList(task("1", "incomplete", "Nobody owns this")))

	report := f.run(t, "100", "200")
	if got := report.Entries[0]; got.Status != ledger.StatusFailure || got.ReasonCode != "empty_task" {
		t.Errorf("entry 0 = %s / %s", got.Status, got.ReasonCode)
	}
	if got := report.Entries[1]; got.Status != ledger.StatusFailure || got.ReasonCode != "no_context" {
		t.Errorf("entry 1 = %s / %s", got.Status, got.ReasonCode)
	}
	if f.issues.Creates() != 0 || f.docs.Updates() != 0 {
		t.Errorf("unexpected mutations: %d creates, %d updates", f.issues.Creates(), f.docs.Updates())
	}
	if report.Status != ledger.OverallFailed {
		t.Errorf("Overall = %q", report.Status)
	}
}

func TestSyncAssigneeAndDueDates(t *testing.T) {
	f := newFixture(t)
	f.cfg.NaturalDueDates = true
	f.cfg.Workers = 1
	f.docs.Users["u1"] = "bob"
	f.docs.Put("100", "", "Plan", markup.Anchor("WP-1")+taskList(
		task("1", "incomplete", `Dated <ac:link><ri:user ri:userkey="u1" /></ac:link> <time datetime="2031-03-04" />`),
		task("2", "incomplete", "Ship the release by tomorrow"),
		task("3", "incomplete", "Undated"),
	))

	days := 3
	report, err := f.engine().Run(context.Background(), Request{RequestID: "r", Roots: []string{"100"}, DaysToDueDate: &days})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	for i, rec := range report.Entries {
		if rec.Status != ledger.StatusSuccess {
			t.Fatalf("entry %d = %s (%s)", i, rec.Status, rec.Reason)
		}
	}

	dated, _ := f.issues.Get(report.Entries[0].NewJiraTaskKey)
	if dated.Assignee != "bob" {
		t.Errorf("Assignee = %q, want bob", dated.Assignee)
	}
	if report.Entries[0].DueDate != "2031-03-04" || report.Entries[0].AssigneeName != "bob" {
		t.Errorf("entry 0 = %+v", report.Entries[0])
	}
	if report.Entries[0].RequestUser != "unknown_user" {
		t.Errorf("RequestUser = %q, want the configured default", report.Entries[0].RequestUser)
	}

	e := f.engine()
	u := core.TaskUnit{Summary: "Ship the release by tomorrow"}
	if got := e.dueDate(u, Request{}); got != "2030-01-11" {
		t.Errorf("natural due date = %q, want 2030-01-11", got)
	}
	if got := e.dueDate(core.TaskUnit{Summary: "Undated"}, Request{DaysToDueDate: &days}); got != "2030-01-13" {
		t.Errorf("override due date = %q, want 2030-01-13", got)
	}
	if got := e.dueDate(core.TaskUnit{Summary: "Undated"}, Request{}); got != "2030-01-24" {
		t.Errorf("default due date = %q, want 2030-01-24", got)
	}
}

func TestSyncCancellationKeepsCompletedSteps(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 1
	f.docs.Put("100", "", "One", markup.Anchor("WP-1")+taskList(task("1", "incomplete", "First")))
	f.docs.Put("200", "", "Two", markup.Anchor("WP-1")+taskList(task("1", "incomplete", "Second")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.issues.OnCreateIssue = func(core.IssueRequest, string) { cancel() }

	report, err := f.engine().Run(ctx, Request{RequestID: "r", Roots: []string{"100", "200"}})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	for i, rec := range report.Entries {
		if rec.Status != ledger.StatusFailure || rec.ReasonCode != "canceled" {
			t.Errorf("entry %d = %s / %s", i, rec.Status, rec.ReasonCode)
		}
	}
	if report.Entries[0].NewJiraTaskKey != "WP-101" {
		t.Errorf("completed creation not recorded: %+v", report.Entries[0])
	}
	if _, ok := f.issues.Get("WP-101"); !ok {
		t.Error("created issue was rolled back")
	}
	if f.docs.Updates() != 0 {
		t.Errorf("documents updated after cancellation: %d", f.docs.Updates())
	}
}

func TestSyncFatalInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine().Run(context.Background(), Request{Roots: []string{"not a page"}})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("Run() = %v, want ErrInvalidInput", err)
	}
	_, err = f.engine().Run(context.Background(), Request{})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("Run() without roots = %v, want ErrInvalidInput", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"a longer summary", 10, "a longe..."},
		{"ünïcödé text", 8, "ünïcö..."},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestDescriptionKeepsMarker(t *testing.T) {
	f := newFixture(t)
	f.cfg.DescriptionMaxChars = 120
	e := f.engine()
	marker := "tasksync:doc=1;task=2;parent=WP-1;v=3"
	u := core.TaskUnit{DocumentID: "1", Context: strings.Repeat("context ", 50)}

	d := e.description(u, "alice", marker)
	if n := len([]rune(d)); n > 120 {
		t.Errorf("description has %d runes, limit 120", n)
	}
	if !strings.HasSuffix(d, "["+marker+"]") {
		t.Errorf("marker lost: %q", d)
	}
}

func TestDescriptionLimitBelowMarker(t *testing.T) {
	f := newFixture(t)
	marker := "tasksync:doc=1;task=2;parent=WP-1;v=3"
	tail := "[" + marker + "]"
	u := core.TaskUnit{DocumentID: "1", Context: strings.Repeat("context ", 50)}

	for _, limit := range []int{len(tail), len(tail) + 2, 5} {
		f.cfg.DescriptionMaxChars = limit
		if d := f.engine().description(u, "alice", marker); d != tail {
			t.Errorf("limit %d: description = %q, want only the marker", limit, d)
		}
	}
}
