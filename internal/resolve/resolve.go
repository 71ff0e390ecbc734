// Package resolve finds the issue a task's mirrored issue is filed under:
// the nearest document in the page hierarchy, starting with the task's own
// document, that carries an issue key of an accepted parent type.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/markup"
)

// Linkage is a resolved ancestor linkage.
type Linkage struct {
	DocumentID string
	Distance   int // 0 is the task's own document
	Issue      core.Issue
}

// Resolver resolves linkages. It caches documents and issues for its
// lifetime; create one per run so snapshots do not outlive the run.
type Resolver struct {
	docs        core.DocumentService
	issues      core.IssueService
	parser      *markup.Parser
	parentTypes map[string]bool
	maxDepth    int

	mu       sync.Mutex
	docKeys  map[string][]string
	docAnc   map[string][]string
	issueMap map[string]*core.Issue
}

// New returns a resolver accepting issues of parentTypes (case-insensitive)
// up to maxDepth documents above the task's own document.
func New(docs core.DocumentService, issues core.IssueService, parser *markup.Parser, parentTypes []string, maxDepth int) *Resolver {
	pt := make(map[string]bool, len(parentTypes))
	for _, t := range parentTypes {
		pt[strings.ToLower(t)] = true
	}
	return &Resolver{
		docs:        docs,
		issues:      issues,
		parser:      parser,
		parentTypes: pt,
		maxDepth:    maxDepth,
		docKeys:     make(map[string][]string),
		docAnc:      make(map[string][]string),
		issueMap:    make(map[string]*core.Issue),
	}
}

// Chain returns the document ids to inspect for a task, nearest first:
// the document itself, then its ancestors from parent to root, bounded by
// maxDepth and without repeats.
func Chain(documentID string, ancestors []string, maxDepth int) []string {
	chain := []string{documentID}
	seen := map[string]bool{documentID: true}
	for _, id := range slices.Backward(ancestors) {
		if len(chain) > maxDepth || seen[id] {
			break
		}
		seen[id] = true
		chain = append(chain, id)
	}
	return chain
}

// Resolve returns the nearest accepted linkage for unit, or an error
// wrapping core.ErrNoContext.
func (r *Resolver) Resolve(ctx context.Context, unit core.TaskUnit) (Linkage, error) {
	ancestors := unit.Ancestors
	if ancestors == nil {
		a, err := r.ancestors(ctx, unit.DocumentID)
		if err != nil {
			return Linkage{}, err
		}
		ancestors = a
	}

	for dist, id := range Chain(unit.DocumentID, ancestors, r.maxDepth) {
		keys, err := r.keys(ctx, id)
		if err != nil {
			return Linkage{}, err
		}
		for _, key := range keys {
			is, err := r.issue(ctx, key)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return Linkage{}, fmt.Errorf("check issue %s on document %s: %w", key, id, err)
			}
			if r.parentTypes[strings.ToLower(is.Type)] {
				return Linkage{DocumentID: id, Distance: dist, Issue: *is}, nil
			}
		}
	}
	return Linkage{}, fmt.Errorf("document %s: %w", unit.DocumentID, core.ErrNoContext)
}

func (r *Resolver) ancestors(ctx context.Context, id string) ([]string, error) {
	if _, err := r.keys(ctx, id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docAnc[id], nil
}

func (r *Resolver) keys(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	keys, ok := r.docKeys[id]
	r.mu.Unlock()
	if ok {
		return keys, nil
	}

	doc, err := r.docs.FetchDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	keys, err = r.parser.IssueKeys(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", id, err)
	}

	r.mu.Lock()
	r.docKeys[id] = keys
	r.docAnc[id] = doc.Ancestors
	r.mu.Unlock()
	return keys, nil
}

func (r *Resolver) issue(ctx context.Context, key string) (*core.Issue, error) {
	r.mu.Lock()
	is, ok := r.issueMap[key]
	r.mu.Unlock()
	if ok {
		return is, nil
	}
	is, err := r.issues.GetIssue(ctx, key)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.issueMap[key] = is
	r.mu.Unlock()
	return is, nil
}
