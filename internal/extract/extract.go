// Package extract walks a document tree and yields its incomplete tasks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"slices"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/markup"
)

// UserResolver maps mention user keys to user names. Document services
// may implement it; without it tasks carry no assignee.
type UserResolver interface {
	ResolveUser(ctx context.Context, key string) (string, error)
}

// Extractor yields task units for a root document and its descendants.
type Extractor struct {
	docs     core.DocumentService
	parser   *markup.Parser
	maxDepth int
	logger   *log.Logger
}

// New returns an extractor. Descendants deeper than maxDepth below the
// root are not visited.
func New(docs core.DocumentService, parser *markup.Parser, maxDepth int, logger *log.Logger) *Extractor {
	return &Extractor{docs: docs, parser: parser, maxDepth: maxDepth, logger: logger}
}

type frame struct {
	id    string
	depth int
}

// Tasks returns the incomplete tasks of rootID's tree in pre-order, with
// children in their order within the parent and tasks in document order.
//
// A document that cannot be fetched yields a *core.UnreachableError and
// its subtree is skipped; traversal continues with its siblings. The
// sequence stops early on context cancellation, yielding the context error.
func (e *Extractor) Tasks(ctx context.Context, rootID string) iter.Seq2[core.TaskUnit, error] {
	return func(yield func(core.TaskUnit, error) bool) {
		users := make(map[string]string)
		visited := make(map[string]bool)
		stack := []frame{{id: rootID}}

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(core.TaskUnit{}, err)
				return
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[f.id] {
				continue
			}
			visited[f.id] = true

			doc, err := e.docs.FetchDocument(ctx, f.id)
			if err != nil {
				if !yield(core.TaskUnit{}, unreachable(f.id, err)) {
					return
				}
				continue
			}

			tasks, err := e.parser.Tasks(doc.Content)
			if err != nil {
				if !yield(core.TaskUnit{}, fmt.Errorf("parse document %s: %w", f.id, err)) {
					return
				}
			}
			for _, t := range tasks {
				if t.Complete() {
					continue
				}
				if !yield(e.unit(ctx, doc, t, rootID, f.depth, users), nil) {
					return
				}
			}

			if f.depth >= e.maxDepth {
				continue
			}
			children, err := e.docs.FetchChildren(ctx, f.id)
			if err != nil {
				if !yield(core.TaskUnit{}, unreachable(f.id, err)) {
					return
				}
				continue
			}
			for _, c := range slices.Backward(children) {
				if !visited[c] {
					stack = append(stack, frame{id: c, depth: f.depth + 1})
				}
			}
		}
	}
}

func unreachable(id string, err error) error {
	var ue *core.UnreachableError
	if errors.As(err, &ue) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.UnreachableError{DocumentID: id, Err: err}
}

func (e *Extractor) unit(ctx context.Context, doc *core.Document, t markup.Task, rootID string, depth int, users map[string]string) core.TaskUnit {
	u := core.TaskUnit{
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DocumentURL:   doc.URL,
		TaskID:        t.ID,
		Position:      t.Position,
		Summary:       t.Body,
		Status:        t.Status,
		Context:       t.Context,
		Markup:        t.Markup,
		Version:       doc.Version,
		Ancestors:     slices.Clone(doc.Ancestors),
		RootID:        rootID,
		Depth:         depth,
	}
	if d, ok := markup.NormalizeDate(t.DueDate); ok {
		u.DueDate = d
	}
	if t.AssigneeKey != "" {
		u.Assignee = e.resolveUser(ctx, t.AssigneeKey, users)
	}
	return u
}

func (e *Extractor) resolveUser(ctx context.Context, key string, cache map[string]string) string {
	if name, ok := cache[key]; ok {
		return name
	}
	r, ok := e.docs.(UserResolver)
	if !ok {
		return ""
	}
	name, err := r.ResolveUser(ctx, key)
	if err != nil && e.logger != nil {
		e.logger.Printf("resolve user %s: %v", key, err)
	}
	cache[key] = name
	return name
}

// Collect drains a task sequence into units and per-branch errors.
func Collect(seq iter.Seq2[core.TaskUnit, error]) ([]core.TaskUnit, []error) {
	var (
		units []core.TaskUnit
		errs  []error
	)
	for u, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		units = append(units, u)
	}
	return units, errs
}
