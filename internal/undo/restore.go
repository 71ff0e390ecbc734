package undo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/markup"
)

var errAlreadyRestored = errors.New("task already restored")

type restored struct {
	version int
	method  string
	score   float64
}

// restoreDocument undoes the rewrites of one document, latest first, so
// that an untouched document unwinds exactly.
func (e *Engine) restoreDocument(ctx context.Context, requestID string, l ledger.Ledger, idxs []int, out []ledger.UndoRecord) {
	// Versions written by the sync run or by this worker.
	known := make(map[int]bool)
	for _, i := range idxs {
		known[l[i].OriginalPageVersion+1] = true
	}

	for _, i := range slices.Backward(idxs) {
		rec := l[i]
		u := &out[i]

		err := ctx.Err()
		var res restored
		if err == nil {
			res, err = e.restoreEntry(ctx, rec, known)
		}
		switch {
		case errors.Is(err, errAlreadyRestored):
			u.DocumentStatus = ledger.StatusSkipped
			u.DocumentReason = err.Error()
		case err != nil:
			u.DocumentStatus = ledger.StatusFailure
			u.DocumentReason = err.Error()
			u.DocumentReasonCode = core.ReasonCode(err)
			e.logger.Printf("WARNING: failed to restore task %s on document %s: %v", rec.ConfluenceTaskID, rec.ConfluencePageID, err)
		default:
			known[res.version] = true
			u.DocumentStatus = ledger.StatusSuccess
			u.DocumentMethod = res.method
			u.MatchScore = res.score
			u.RestoredVersion = res.version
			e.logger.Printf("Restored task %s on document %s (%s, v%d)", rec.ConfluenceTaskID, rec.ConfluencePageID, res.method, res.version)
		}
		core.Emit(e.cfg.Observer, core.Event{
			Kind:       core.EventUndoStep,
			RequestID:  requestID,
			DocumentID: rec.ConfluencePageID,
			TaskID:     rec.ConfluenceTaskID,
			IssueKey:   rec.NewJiraTaskKey,
			State:      "document_" + u.DocumentStatus,
			Message:    u.DocumentReasonCode,
		})
	}
}

// restoreEntry puts one task back. When the document is untouched since
// the sync, the recorded link markup is swapped back verbatim. Otherwise
// the link is located among the document's issue macros for the same key
// by similarity, failing closed below the threshold. A lost version race
// is retried once.
func (e *Engine) restoreEntry(ctx context.Context, rec ledger.Record, known map[int]bool) (restored, error) {
	for attempt := 0; attempt < 2; attempt++ {
		doc, err := e.docs.FetchDocument(ctx, rec.ConfluencePageID)
		if err != nil {
			return restored{}, fmt.Errorf("read document %s: %w", rec.ConfluencePageID, err)
		}

		res := restored{method: MethodExact, score: 1}
		start, end := -1, -1
		if attempt == 0 && untouched(rec.OriginalPageVersion+1, doc.Version.Number, known) &&
			strings.Count(doc.Content, rec.LinkMarkup) == 1 {
			start = strings.Index(doc.Content, rec.LinkMarkup)
			end = start + len(rec.LinkMarkup)
		} else {
			link, score, err := e.locateLink(doc.Content, rec)
			if err != nil {
				return restored{}, err
			}
			start, end = link.Start, link.End
			res.method, res.score = MethodFuzzy, score
		}

		content := markup.Replace(doc.Content, start, end, rec.TaskMarkup)
		v, err := e.docs.UpdateDocument(ctx, core.DocumentUpdate{
			ID:              doc.ID,
			ExpectedVersion: doc.Version.Number,
			Content:         content,
		})
		if errors.Is(err, core.ErrVersionConflict) && attempt == 0 {
			e.logger.Printf("Document %s changed during restore of task %s, retrying once", rec.ConfluencePageID, rec.ConfluenceTaskID)
			continue
		}
		if err != nil {
			return restored{}, fmt.Errorf("update document %s: %w", rec.ConfluencePageID, err)
		}
		res.version = v
		return res, nil
	}
	return restored{}, fmt.Errorf("update document %s: %w", rec.ConfluencePageID, core.ErrVersionConflict)
}

// untouched reports whether every version after the sync write up to
// current was written by the sync run or by this undo run.
func untouched(syncVersion, current int, known map[int]bool) bool {
	if current < syncVersion {
		return false
	}
	for v := syncVersion + 1; v <= current; v++ {
		if !known[v] {
			return false
		}
	}
	return true
}

// locateLink finds the issue macro sync inserted for rec.
func (e *Engine) locateLink(content string, rec ledger.Record) (markup.IssueLink, float64, error) {
	links, err := e.parser.IssueLinks(content)
	if err != nil {
		return markup.IssueLink{}, 0, fmt.Errorf("parse document %s: %w", rec.ConfluencePageID, err)
	}
	var (
		candidates []markup.IssueLink
		markups    []string
	)
	for _, l := range links {
		if l.Key == rec.NewJiraTaskKey {
			candidates = append(candidates, l)
			markups = append(markups, l.Markup)
		}
	}
	if len(candidates) == 0 && strings.Contains(content, rec.TaskMarkup) {
		return markup.IssueLink{}, 0, errAlreadyRestored
	}

	m, err := e.matcher.Best(rec.LinkMarkup, markups, nil)
	if err != nil {
		return markup.IssueLink{}, m.Score, fmt.Errorf("link to %s on document %s: %w: %w",
			rec.NewJiraTaskKey, rec.ConfluencePageID, core.ErrTaskNotRelocatable, err)
	}
	return candidates[m.Index], m.Score, nil
}
