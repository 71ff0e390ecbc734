package syncer

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/extract"
)

type rootResult struct {
	units    []core.TaskUnit
	problems []Problem
}

// discover extracts all roots concurrently and concatenates their tasks
// in root order. A task reachable from two roots is kept once, under the
// first root.
func (e *Engine) discover(ctx context.Context, requestID string, roots []string) ([]core.TaskUnit, []Problem) {
	ex := extract.New(e.docs, e.parser, e.cfg.MaxDepth, e.logger)
	results := make([]rootResult, len(roots))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, root := range roots {
		g.Go(func() error {
			res := &results[i]
			for u, err := range ex.Tasks(ctx, root) {
				if err != nil {
					res.problems = append(res.problems, problemFor(root, err))
					continue
				}
				res.units = append(res.units, u)
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		units    []core.TaskUnit
		problems []Problem
		seen     = make(map[string]bool)
	)
	for i, res := range results {
		for _, u := range res.units {
			if seen[u.Key()] {
				continue
			}
			seen[u.Key()] = true
			units = append(units, u)
			core.Emit(e.cfg.Observer, core.Event{
				Kind:       core.EventTaskState,
				RequestID:  requestID,
				DocumentID: u.DocumentID,
				TaskID:     u.TaskID,
				State:      string(StateDiscovered),
			})
		}
		problems = append(problems, res.problems...)
		e.logger.Printf("Root %s: %d task(s), %d problem(s)", roots[i], len(res.units), len(res.problems))
	}
	return units, problems
}

func problemFor(root string, err error) Problem {
	p := Problem{Root: root, Reason: err.Error(), ReasonCode: core.ReasonCode(err)}
	var ue *core.UnreachableError
	if errors.As(err, &ue) {
		p.DocumentID = ue.DocumentID
	}
	return p
}
