package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/markup"
	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/resolve"
)

// createIssues resolves the parent of every task and creates its issue.
func (r *run) createIssues(ctx context.Context) {
	e := r.engine
	r.resolver = resolve.New(e.docs, e.issues, e.parser, e.cfg.ParentIssueTypes, e.cfg.MaxDepth)

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, u := range r.units {
		r.states[i] = &taskState{state: StateDiscovered, record: ledger.FromUnit(u, r.req.RequestUser)}
		g.Go(func() error {
			r.createIssue(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) createIssue(ctx context.Context, i int) {
	e := r.engine
	u := r.units[i]
	st := r.states[i]

	if err := ctx.Err(); err != nil {
		r.fail(i, err)
		return
	}
	if strings.TrimSpace(u.Summary) == "" {
		r.fail(i, fmt.Errorf("task %s on document %s has no text: %w", u.TaskID, u.DocumentID, core.ErrEmptyTask))
		return
	}

	link, err := r.resolver.Resolve(ctx, u)
	if err != nil {
		r.fail(i, err)
		return
	}
	st.linkage = link

	req := e.issueRequest(u, link.Issue, r.req)
	st.record.LinkedWorkPackage = req.ParentKey
	st.record.IssueType = req.Type
	st.record.ContextMarker = req.Marker

	r.transition(i, StateIssueCreating)
	key, err := e.createIssue(ctx, req)
	if err != nil {
		r.fail(i, err)
		return
	}
	st.record.NewJiraTaskKey = key
	r.transition(i, StateIssueCreated)
	e.logger.Printf("Created %s under %s for task %s on document %s", key, req.ParentKey, u.TaskID, u.DocumentID)
}

// createIssue creates the issue at most once. A failed attempt may still
// have created it (the reply got lost), so every retry first looks for an
// issue carrying the same marker and adopts it.
func (e *Engine) createIssue(ctx context.Context, req core.IssueRequest) (string, error) {
	attempt := 0
	return remote.Do(ctx, e.cfg.Create, "create issue", func(ctx context.Context) (string, error) {
		attempt++
		if attempt > 1 && req.Marker != "" {
			existing, err := e.issues.FindIssueByMarker(ctx, req.Marker)
			switch {
			case err == nil:
				e.logger.Printf("Adopting %s created by an earlier attempt", existing.Key)
				return existing.Key, nil
			case !errors.Is(err, core.ErrNotFound):
				return "", err
			}
		}
		return e.issues.CreateIssue(ctx, req)
	})
}

// issueRequest builds the issue for u filed under parent.
func (e *Engine) issueRequest(u core.TaskUnit, parent core.Issue, req Request) core.IssueRequest {
	marker := core.ContextMarker{
		DocumentID: u.DocumentID,
		TaskID:     u.TaskID,
		ParentKey:  parent.Key,
		Version:    u.Version.Number,
	}.String()

	project := core.ProjectOf(parent.Key)
	if project == "" {
		project = e.cfg.ProjectKey
	}
	assignee := u.Assignee
	if assignee == "" {
		assignee = parent.Assignee
	}

	return core.IssueRequest{
		Project:     project,
		Type:        e.cfg.TaskIssueType,
		Summary:     truncate(u.Summary, e.cfg.SummaryMaxChars),
		ParentKey:   parent.Key,
		Assignee:    assignee,
		DueDate:     e.dueDate(u, req),
		Description: e.description(u, req.RequestUser, marker),
		Marker:      marker,
	}
}

// dueDate prefers the task's own date, then a date phrased in its text,
// then today plus the offset.
func (e *Engine) dueDate(u core.TaskUnit, req Request) string {
	if u.DueDate != "" {
		return u.DueDate
	}
	now := e.now()
	if e.due != nil {
		if d, ok := e.due.Parse(u.Summary, now); ok {
			return d
		}
	}
	days := e.cfg.DueDateOffsetDays
	if req.DaysToDueDate != nil {
		days = *req.DaysToDueDate
	}
	return now.AddDate(0, 0, days).Format(markup.DateLayout)
}

// description is the task context, a provenance line and the marker. The
// marker is never truncated.
func (e *Engine) description(u core.TaskUnit, requestUser, marker string) string {
	var parts []string
	if u.Context != "" {
		parts = append(parts, "Context from Confluence:\n"+u.Context)
	}
	parts = append(parts, fmt.Sprintf("Created by tasksync on %s requested by %s from %s",
		e.now().Format(time.DateTime), requestUser, pageRef(u)))

	tail := "[" + marker + "]"
	body := strings.Join(parts, "\n\n")
	if limit := e.cfg.DescriptionMaxChars; limit > 0 {
		room := limit - len([]rune(tail)) - 2
		if room <= 0 {
			return tail
		}
		body = truncate(body, room)
	}
	return body + "\n\n" + tail
}

func pageRef(u core.TaskUnit) string {
	if u.DocumentURL != "" {
		return u.DocumentURL
	}
	return "document " + u.DocumentID
}

// truncate shortens s to limit runes, ending in "...". A non-positive
// limit leaves s alone.
func truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
