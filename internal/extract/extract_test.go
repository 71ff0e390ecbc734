package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/markup"
	"github.com/Mschirtzinger/tasksync/internal/remote/memory"
)

func taskList(tasks ...string) string {
	s := "<ac:task-list>"
	for _, t := range tasks {
		s += t
	}
	return s + "</ac:task-list>"
}

func task(id, status, body string) string {
	return "<ac:task><ac:task-id>" + id + "</ac:task-id><ac:task-status>" + status +
		"</ac:task-status><ac:task-body>" + body + "</ac:task-body></ac:task>"
}

// newTree builds 1 -> (2 -> 4), 3.
func newTree(t *testing.T) *memory.Documents {
	t.Helper()
	d := memory.NewDocuments()
	d.Put("1", "", "Root", "<p>Root intro</p>"+taskList(task("1", "incomplete", "Root task"), task("2", "complete", "Done")))
	d.Put("2", "1", "Child A", taskList(task("1", "incomplete", `A task <ac:link><ri:user ri:userkey="u1" /></ac:link>`)))
	d.Put("3", "1", "Child B", taskList(task("1", "incomplete", "B task <time datetime=\"2030-02-01\" />")))
	d.Put("4", "2", "Grandchild", taskList(task("7", "incomplete", "Deep task")))
	d.Users["u1"] = "alice"
	return d
}

func summaries(units []core.TaskUnit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.DocumentID+":"+u.Summary)
	}
	return out
}

func TestTasksPreOrder(t *testing.T) {
	e := New(newTree(t), markup.NewParser(nil), 10, nil)

	units, errs := Collect(e.Tasks(context.Background(), "1"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []string{"1:Root task", "2:A task", "4:Deep task", "3:B task"}
	if diff := cmp.Diff(want, summaries(units)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	a := units[1]
	if a.Assignee != "alice" {
		t.Errorf("Assignee = %q, want alice", a.Assignee)
	}
	if a.Depth != 1 || a.RootID != "1" || a.Version.Number != 1 {
		t.Errorf("unexpected metadata %+v", a)
	}
	if diff := cmp.Diff([]string{"1", "2"}, units[2].Ancestors); diff != "" {
		t.Errorf("ancestors mismatch (-want +got):\n%s", diff)
	}
	if units[3].DueDate != "2030-02-01" {
		t.Errorf("DueDate = %q", units[3].DueDate)
	}
	if units[0].Context != "Root intro" {
		t.Errorf("Context = %q", units[0].Context)
	}
}

func TestTasksIdempotent(t *testing.T) {
	e := New(newTree(t), markup.NewParser(nil), 10, nil)

	first, _ := Collect(e.Tasks(context.Background(), "1"))
	second, _ := Collect(e.Tasks(context.Background(), "1"))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("extraction not idempotent (-first +second):\n%s", diff)
	}
}

func TestTasksUnreachableBranch(t *testing.T) {
	d := newTree(t)
	d.SetFetchError("2", &core.RemoteError{Op: "GET", StatusCode: 503, Kind: core.ErrTransient})
	e := New(d, markup.NewParser(nil), 10, nil)

	units, errs := Collect(e.Tasks(context.Background(), "1"))
	if diff := cmp.Diff([]string{"1:Root task", "3:B task"}, summaries(units)); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %v", errs)
	}
	var ue *core.UnreachableError
	if !errors.As(errs[0], &ue) || ue.DocumentID != "2" {
		t.Errorf("Expected document 2 unreachable, got %v", errs[0])
	}
}

func TestTasksDepthBound(t *testing.T) {
	e := New(newTree(t), markup.NewParser(nil), 1, nil)

	units, _ := Collect(e.Tasks(context.Background(), "1"))
	for _, u := range units {
		if u.DocumentID == "4" {
			t.Fatalf("document 4 is below the depth bound")
		}
	}
	if len(units) != 3 {
		t.Errorf("Expected 3 units, got %d", len(units))
	}
}

func TestTasksStopsWhenConsumerStops(t *testing.T) {
	e := New(newTree(t), markup.NewParser(nil), 10, nil)
	n := 0
	for range e.Tasks(context.Background(), "1") {
		n++
		break
	}
	if n != 1 {
		t.Errorf("Expected one iteration, got %d", n)
	}
}

func TestTasksCycleGuard(t *testing.T) {
	d := memory.NewDocuments()
	d.Put("1", "", "A", taskList(task("1", "incomplete", "A task")))
	d.Put("2", "1", "B", taskList(task("1", "incomplete", "B task")))
	cyclic := &cyclicDocs{DocumentService: d, extra: map[string][]string{"2": {"1"}}}

	e := New(cyclic, markup.NewParser(nil), 50, nil)
	units, errs := Collect(e.Tasks(context.Background(), "1"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if diff := cmp.Diff([]string{"1:A task", "2:B task"}, summaries(units)); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}
}

func TestTasksCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(newTree(t), markup.NewParser(nil), 10, nil)

	_, errs := Collect(e.Tasks(ctx, "1"))
	if len(errs) != 1 || !errors.Is(errs[0], context.Canceled) {
		t.Fatalf("Expected a single cancellation error, got %v", errs)
	}
}

// cyclicDocs reports extra children, allowing hierarchies with cycles.
type cyclicDocs struct {
	core.DocumentService
	extra map[string][]string
}

func (c *cyclicDocs) FetchChildren(ctx context.Context, id string) ([]string, error) {
	ids, err := c.DocumentService.FetchChildren(ctx, id)
	return append(ids, c.extra[id]...), err
}
