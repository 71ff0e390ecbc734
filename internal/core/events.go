package core

import "time"

// EventKind classifies progress events emitted by the engines.
type EventKind string

const (
	// EventTaskState is emitted on every sync state transition of a task.
	EventTaskState EventKind = "task_state"

	// EventUndoStep is emitted when an undo step finishes.
	EventUndoStep EventKind = "undo_step"

	// EventPageMirrored is emitted when the tree mirror touches a document.
	EventPageMirrored EventKind = "page_mirrored"

	// EventRunComplete is emitted once per engine invocation.
	EventRunComplete EventKind = "run_complete"
)

// Event is a progress notification. Events are informational only;
// the authoritative outcome is always the returned report.
type Event struct {
	Kind       EventKind `json:"kind"`
	RequestID  string    `json:"request_id,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	IssueKey   string    `json:"issue_key,omitempty"`
	State      string    `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
	Time       time.Time `json:"time"`
}

// Observer receives progress events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// NopObserver discards events.
type NopObserver struct{}

func (NopObserver) Observe(Event) {}

// Emit stamps the event time and forwards it to o, if set.
func Emit(o Observer, e Event) {
	if o == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o.Observe(e)
}
