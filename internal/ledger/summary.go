package ledger

// Overall run statuses.
const (
	OverallSuccess = "Success"
	OverallPartial = "Partial Success"
	OverallFailed  = "Failed"
	OverallSkipped = "Skipped"
)

// Overall summarizes per-unit statuses into one line. It accompanies the
// per-unit results and never replaces them.
func Overall(statuses []string) string {
	var ok, bad int
	for _, s := range statuses {
		switch s {
		case StatusSuccess:
			ok++
		case StatusFailure:
			bad++
		case StatusPartial:
			ok++
			bad++
		}
	}
	switch {
	case ok == 0 && bad == 0:
		return OverallSkipped
	case bad == 0:
		return OverallSuccess
	case ok == 0:
		return OverallFailed
	default:
		return OverallPartial
	}
}

// Statuses lists the entry statuses of a ledger.
func (l Ledger) Statuses() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.Status
	}
	return out
}

// UndoStatuses lists the entry statuses of an undo report.
func UndoStatuses(rs []UndoRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Status
	}
	return out
}
