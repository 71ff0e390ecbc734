package markup

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DateLayout is the due date format used throughout.
const DateLayout = "2006-01-02"

// dueCues must directly precede a date phrase for it to count as a due
// date; without them "call 3 people" would read as a date.
var dueCues = []string{"by", "due", "until", "before", "till", "deadline"}

// DueDates finds natural-language due dates in task text.
type DueDates struct {
	w *when.Parser
}

// NewDueDates returns a parser for English date phrases.
func NewDueDates() *DueDates {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &DueDates{w: w}
}

// Parse returns the due date phrased in text, relative to base, as
// YYYY-MM-DD. Dates before base are ignored.
func (d *DueDates) Parse(text string, base time.Time) (string, bool) {
	r, err := d.w.Parse(text, base)
	if err != nil || r == nil || r.Index < 0 || r.Index > len(text) {
		return "", false
	}
	if !cued(text[:r.Index]) {
		return "", false
	}
	if r.Time.Before(truncateDay(base)) {
		return "", false
	}
	return r.Time.Format(DateLayout), true
}

func cued(prefix string) bool {
	fields := strings.Fields(strings.ToLower(prefix))
	if len(fields) == 0 {
		return false
	}
	last := strings.TrimRight(fields[len(fields)-1], ":")
	for _, c := range dueCues {
		if last == c {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, t.Location())
}

// NormalizeDate accepts a storage-format datetime ("2024-05-01" or an
// RFC 3339 timestamp) and returns YYYY-MM-DD.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), true
	}
	if len(s) >= 10 {
		if t, err := time.Parse(DateLayout, s[:10]); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}
