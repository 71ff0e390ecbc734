package dashboard

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// maxRuns bounds how many runs the feed remembers. Unfinished runs and the
// last finished one are never forgotten.
const maxRuns = 50

// RunStats is what the feed has seen of one engine run.
type RunStats struct {
	RequestID string     `json:"request_id"`
	Started   time.Time  `json:"started"`
	Finished  *time.Time `json:"finished,omitempty"`
	Status    string     `json:"status,omitempty"`

	// Tasks counts tasks by their latest sync state.
	Tasks map[string]int `json:"tasks,omitempty"`

	// UndoSteps counts finished undo steps by outcome, e.g. "issue_success".
	UndoSteps map[string]int `json:"undo_steps,omitempty"`

	Pages int `json:"pages,omitempty"`
}

// StatsData contains the totals since the feed started.
type StatsData struct {
	Runs     int            `json:"runs"`
	Active   []string       `json:"active,omitempty"`
	ByStatus map[string]int `json:"by_status"`
	Last     *RunStats      `json:"last,omitempty"`
}

type runState struct {
	stats RunStats
	tasks map[string]string // document#task -> latest state
}

func (r *runState) snapshot() RunStats {
	s := r.stats
	s.Tasks = make(map[string]int, len(r.tasks))
	for _, state := range r.tasks {
		s.Tasks[state]++
	}
	s.UndoSteps = maps.Clone(r.stats.UndoSteps)
	return s
}

// runBook folds engine events into per-run stats.
type runBook struct {
	mu       sync.Mutex
	runs     map[string]*runState
	order    []string // oldest first
	finished int
	byStatus map[string]int
	last     string
}

func newRunBook() *runBook {
	return &runBook{
		runs:     make(map[string]*runState),
		byStatus: make(map[string]int),
	}
}

func (b *runBook) record(e core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.run(e.RequestID, e.Time)
	switch e.Kind {
	case core.EventTaskState:
		r.tasks[e.DocumentID+"#"+e.TaskID] = e.State
	case core.EventUndoStep:
		if r.stats.UndoSteps == nil {
			r.stats.UndoSteps = make(map[string]int)
		}
		r.stats.UndoSteps[e.State]++
	case core.EventPageMirrored:
		r.stats.Pages++
	case core.EventRunComplete:
		at := e.Time
		r.stats.Finished = &at
		r.stats.Status = e.State
		b.finished++
		b.byStatus[e.State]++
		b.last = e.RequestID
		b.evict()
	}
}

func (b *runBook) run(id string, at time.Time) *runState {
	if r, ok := b.runs[id]; ok {
		return r
	}
	r := &runState{
		stats: RunStats{RequestID: id, Started: at},
		tasks: make(map[string]string),
	}
	b.runs[id] = r
	b.order = append(b.order, id)
	return r
}

// evict forgets the oldest finished runs beyond maxRuns.
func (b *runBook) evict() {
	for i := 0; len(b.order) > maxRuns && i < len(b.order); {
		id := b.order[i]
		if b.runs[id].stats.Finished != nil && id != b.last {
			delete(b.runs, id)
			b.order = slices.Delete(b.order, i, i+1)
			continue
		}
		i++
	}
}

func (b *runBook) snapshot(id string) (RunStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.runs[id]
	if !ok {
		return RunStats{}, false
	}
	return r.snapshot(), true
}

func (b *runBook) totals() StatsData {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := StatsData{Runs: b.finished, ByStatus: maps.Clone(b.byStatus)}
	for _, id := range b.order {
		if b.runs[id].stats.Finished == nil {
			t.Active = append(t.Active, id)
		}
	}
	if r, ok := b.runs[b.last]; ok {
		s := r.snapshot()
		t.Last = &s
	}
	return t
}
