package syncer

import (
	"fmt"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/resolve"
)

// State is the progress of one task through a sync run.
type State string

const (
	StateDiscovered        State = "discovered"
	StateIssueCreating     State = "issue_creating"
	StateIssueCreated      State = "issue_created"
	StateDocumentRewriting State = "document_rewriting"
	StateRecorded          State = "recorded"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	return s == StateRecorded || s == StateFailed
}

// taskState is owned by whichever worker currently handles the task;
// phases hand it over only after the previous phase has finished.
type taskState struct {
	state   State
	record  ledger.Record
	linkage resolve.Linkage
}

// run is the working set of one Engine.Run call.
type run struct {
	engine   *Engine
	req      Request
	units    []core.TaskUnit
	states   []*taskState
	resolver *resolve.Resolver
}

func (r *run) transition(i int, s State) {
	st := r.states[i]
	st.state = s
	u := r.units[i]
	core.Emit(r.engine.cfg.Observer, core.Event{
		Kind:       core.EventTaskState,
		RequestID:  r.req.RequestID,
		DocumentID: u.DocumentID,
		TaskID:     u.TaskID,
		IssueKey:   st.record.NewJiraTaskKey,
		State:      string(s),
	})
}

func (r *run) fail(i int, err error) {
	st := r.states[i]
	u := r.units[i]
	st.record.Fail(err)
	r.engine.logger.Printf("WARNING: task %s on document %s failed in %s: %v", u.TaskID, u.DocumentID, st.state, err)

	st.state = StateFailed
	core.Emit(r.engine.cfg.Observer, core.Event{
		Kind:       core.EventTaskState,
		RequestID:  r.req.RequestID,
		DocumentID: u.DocumentID,
		TaskID:     u.TaskID,
		IssueKey:   st.record.NewJiraTaskKey,
		State:      string(StateFailed),
		Message:    st.record.ReasonCode,
	})
}

// ledger returns the records in discovery order.
func (r *run) ledger() ledger.Ledger {
	out := make(ledger.Ledger, len(r.states))
	for i, st := range r.states {
		if !st.state.Terminal() {
			r.fail(i, fmt.Errorf("sync stopped in state %s", st.state))
		}
		if st.state == StateRecorded {
			st.record.Status = ledger.StatusSuccess
		}
		out[i] = st.record
	}
	return out
}
