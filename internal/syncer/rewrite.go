package syncer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/markup"
)

// rewriteDocuments replaces each created task with its issue link. One
// worker per document applies that document's tasks in discovery order.
func (r *run) rewriteDocuments(ctx context.Context) {
	var (
		order  []string
		groups = make(map[string][]int)
	)
	for i, u := range r.units {
		if r.states[i].state != StateIssueCreated {
			continue
		}
		if _, ok := groups[u.DocumentID]; !ok {
			order = append(order, u.DocumentID)
		}
		groups[u.DocumentID] = append(groups[u.DocumentID], i)
	}

	var g errgroup.Group
	g.SetLimit(r.engine.cfg.Workers)
	for _, id := range order {
		g.Go(func() error {
			r.rewriteDocument(ctx, groups[id])
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) rewriteDocument(ctx context.Context, idxs []int) {
	// Versions written by this worker are not external edits.
	own := make(map[int]bool)
	for _, i := range idxs {
		if err := ctx.Err(); err != nil {
			r.fail(i, err)
			continue
		}
		r.transition(i, StateDocumentRewriting)
		if err := r.rewriteTask(ctx, i, own); err != nil {
			r.fail(i, err)
			continue
		}
		r.transition(i, StateRecorded)
	}
}

// rewriteTask re-reads the document and swaps the task for its link. A
// document changed since extraction is stale: the task is then relocated
// by text similarity. A write that loses a version race is retried once,
// again by relocation.
func (r *run) rewriteTask(ctx context.Context, i int, own map[int]bool) error {
	e := r.engine
	u := r.units[i]
	st := r.states[i]
	claimed := r.claimedMarkup(i)

	for attempt := 0; attempt < 2; attempt++ {
		doc, err := e.docs.FetchDocument(ctx, u.DocumentID)
		if err != nil {
			return fmt.Errorf("re-read document %s: %w", u.DocumentID, err)
		}

		stale := attempt > 0 || (doc.Version.Number != u.Version.Number && !own[doc.Version.Number])
		if stale {
			e.logger.Printf("Document %s is stale (extracted v%d, now v%d); relocating task %s",
				u.DocumentID, u.Version.Number, doc.Version.Number, u.TaskID)
		}
		task, score, err := e.locate(u, doc.Content, stale, claimed)
		if err != nil {
			if stale {
				return fmt.Errorf("%w: %w", core.ErrStaleDocument, err)
			}
			return err
		}
		if stale {
			e.logger.Printf("Relocated task %s on document %s as task %s (score %.2f)", u.TaskID, u.DocumentID, task.ID, score)
		}

		link := e.cfg.Link.Render(st.record.NewJiraTaskKey)
		content := markup.Replace(doc.Content, task.Start, task.End, link)
		pre := doc.Version
		v, err := e.docs.UpdateDocument(ctx, core.DocumentUpdate{
			ID:              doc.ID,
			ExpectedVersion: pre.Number,
			Content:         content,
		})
		if errors.Is(err, core.ErrVersionConflict) && attempt == 0 {
			e.logger.Printf("Document %s changed during rewrite of task %s, retrying once", u.DocumentID, u.TaskID)
			continue
		}
		if err != nil {
			return fmt.Errorf("update document %s: %w", u.DocumentID, err)
		}

		own[v] = true
		st.record.TaskMarkup = task.Markup
		st.record.LinkMarkup = link
		st.record.OriginalPageVersion = pre.Number
		st.record.OriginalPageVersionBy = pre.Author
		st.record.OriginalPageVersionWhen = pre.Timestamp
		return nil
	}
	return fmt.Errorf("update document %s: %w", u.DocumentID, core.ErrVersionConflict)
}

// locate finds the task to rewrite in content. A task whose markup is
// unchanged is taken as is, stale or not. Otherwise a stale document is
// searched for the best incomplete task by summary similarity; a score
// below the threshold, or a best match that still carries another unit's
// task, fails closed.
func (e *Engine) locate(u core.TaskUnit, content string, stale bool, claimed map[string]bool) (markup.Task, float64, error) {
	tasks, err := e.parser.Tasks(content)
	if err != nil {
		return markup.Task{}, 0, fmt.Errorf("parse document %s: %w", u.DocumentID, err)
	}

	var exact []int
	for i, t := range tasks {
		if t.Markup == u.Markup {
			exact = append(exact, i)
		}
	}
	if len(exact) > 0 {
		return tasks[closest(u, tasks, exact)], 1, nil
	}
	if !stale {
		return markup.Task{}, 0, fmt.Errorf("task %s on document %s: markup changed at unchanged version: %w",
			u.TaskID, u.DocumentID, core.ErrTaskNotRelocatable)
	}

	var (
		candidates []markup.Task
		bodies     []string
	)
	for _, t := range tasks {
		if !t.Complete() {
			candidates = append(candidates, t)
			bodies = append(bodies, t.Body)
		}
	}
	m, err := e.matcher.Best(u.Summary, bodies, func(tied []int) int {
		return closest(u, candidates, tied)
	})
	if err != nil {
		return markup.Task{}, m.Score, fmt.Errorf("task %q on document %s: %w: %w", u.Summary, u.DocumentID, core.ErrTaskNotRelocatable, err)
	}
	if best := candidates[m.Index]; claimed[best.Markup] {
		return markup.Task{}, m.Score, fmt.Errorf("task %q on document %s: closest match %q belongs to another task: %w",
			u.Summary, u.DocumentID, best.Body, core.ErrTaskNotRelocatable)
	}
	return candidates[m.Index], m.Score, nil
}

// claimedMarkup is the recorded markup of every other unit of the same
// document, except markup identical to unit i's own.
func (r *run) claimedMarkup(i int) map[string]bool {
	u := r.units[i]
	claimed := make(map[string]bool)
	for j, o := range r.units {
		if j != i && o.DocumentID == u.DocumentID && o.Markup != u.Markup {
			claimed[o.Markup] = true
		}
	}
	return claimed
}

// closest breaks ties between equally similar tasks: same id first, then
// nearest position.
func closest(u core.TaskUnit, candidates []markup.Task, tied []int) int {
	best := tied[0]
	for _, i := range tied {
		if candidates[i].ID == u.TaskID {
			return i
		}
		if abs(candidates[i].Position-u.Position) < abs(candidates[best].Position-u.Position) {
			best = i
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
