package dashboard

import (
	"github.com/Mschirtzinger/tasksync/internal/core"
)

var _ core.Observer = (*Server)(nil)

var eventMessages = map[core.EventKind]MessageType{
	core.EventTaskState:    MessageTypeTaskState,
	core.EventUndoStep:     MessageTypeUndoStep,
	core.EventPageMirrored: MessageTypePage,
	core.EventRunComplete:  MessageTypeRunComplete,
}

// Observe records e in its run's stats and streams it. A finished run is
// followed by its final stats and the new totals.
func (s *Server) Observe(e core.Event) {
	typ, ok := eventMessages[e.Kind]
	if !ok {
		return
	}
	s.runs.record(e)

	msg := s.message(typ, e)
	if !e.Time.IsZero() {
		msg.Timestamp = e.Time
	}
	s.publish(e.RequestID, msg)

	if e.Kind == core.EventRunComplete {
		if stats, ok := s.runs.snapshot(e.RequestID); ok {
			s.publish(e.RequestID, s.message(MessageTypeRun, stats))
		}
		s.publish("", s.message(MessageTypeStats, s.runs.totals()))
	}
}
