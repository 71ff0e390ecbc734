// Package treesync mirrors an issue hierarchy (phases, work packages, ...)
// into a document tree. Every mirrored issue gets one document below the
// document of its parent issue, tagged with an anchor naming the issue.
// Documents are matched by that anchor, never by title, so re-running
// against an unchanged hierarchy creates nothing.
package treesync

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/markup"
)

// Page actions.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
	ActionFailed    = "failed"
)

// Config holds the settings of the tree mirror.
type Config struct {
	Workers  int
	MaxDepth int

	// MirrorIssueTypes limits mirroring to these issue types
	// (case-insensitive). Empty mirrors every type.
	MirrorIssueTypes []string

	Link markup.LinkRenderer

	Logger   *log.Logger
	Observer core.Observer
}

// DefaultConfig returns the mirror defaults.
func DefaultConfig() Config {
	return FromConfig(config.DefaultConfig(), nil)
}

// FromConfig derives the mirror settings from the process configuration.
func FromConfig(c config.Config, logger *log.Logger) Config {
	return Config{
		Workers:          c.Sync.Workers,
		MaxDepth:         c.Sync.MaxDepth,
		MirrorIssueTypes: c.Jira.MirrorIssueTypes,
		Link: markup.LinkRenderer{
			ServerName: c.Confluence.MacroServerName,
			ServerID:   c.Confluence.MacroServerID,
		},
		Logger: logger,
	}
}

// Request is one mirror invocation.
type Request struct {
	RequestID    string
	RootIssueKey string

	// RootDocument is the URL or id of the document that stands for the
	// root issue. It is not modified.
	RootDocument string
}

// PageResult is the outcome for one mirrored issue.
type PageResult struct {
	IssueKey         string `json:"issue_key"`
	IssueType        string `json:"issue_type,omitempty"`
	ParentDocumentID string `json:"parent_document_id"`
	DocumentID       string `json:"document_id,omitempty"`
	Title            string `json:"title,omitempty"`
	Action           string `json:"action"`
	Version          int    `json:"version,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ReasonCode       string `json:"reason_code,omitempty"`
}

// Report is the complete outcome of a mirror run, parents before children.
type Report struct {
	RequestID string       `json:"request_id"`
	Status    string       `json:"status"`
	Pages     []PageResult `json:"pages"`
}

// Counts tallies pages by action.
func (r *Report) Counts() map[string]int {
	out := make(map[string]int)
	for _, p := range r.Pages {
		out[p.Action]++
	}
	return out
}

// Engine mirrors issue trees.
type Engine struct {
	docs   core.DocumentService
	issues core.IssueService
	cfg    Config
	types  map[string]bool
	logger *log.Logger
}

// New returns a tree mirror.
//
// If cfg.Logger is nil, a default logger writing to stderr is used.
func New(docs core.DocumentService, issues core.IssueService, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[treesync] ", log.LstdFlags)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	types := make(map[string]bool, len(cfg.MirrorIssueTypes))
	for _, t := range cfg.MirrorIssueTypes {
		types[strings.ToLower(t)] = true
	}
	return &Engine{docs: docs, issues: issues, cfg: cfg, types: types, logger: cfg.Logger}
}

type frame struct {
	issueKey string
	docID    string
	depth    int
}

// Run mirrors the hierarchy below req.RootIssueKey under req.RootDocument.
//
// The tree is walked level by level with an explicit worklist; an issue
// already visited is not mirrored twice, so cyclic hierarchies terminate.
// The error is non-nil only for invalid roots or unreachable services.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	rootDoc, err := core.ParseDocumentRef(req.RootDocument)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.RootIssueKey) == "" {
		return nil, fmt.Errorf("%w: root issue key is required", core.ErrInvalidInput)
	}
	if err := e.docs.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: document service: %w", core.ErrUnavailable, err)
	}
	if err := e.issues.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: issue service: %w", core.ErrUnavailable, err)
	}
	if _, err := e.issues.GetIssue(ctx, req.RootIssueKey); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: root issue %s: %w", core.ErrInvalidInput, req.RootIssueKey, err)
		}
		return nil, fmt.Errorf("%w: root issue %s: %w", core.ErrUnavailable, req.RootIssueKey, err)
	}
	if _, err := e.docs.FetchDocument(ctx, rootDoc); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: root document %s: %w", core.ErrInvalidInput, rootDoc, err)
		}
		return nil, fmt.Errorf("%w: root document %s: %w", core.ErrUnavailable, rootDoc, err)
	}

	start := time.Now()
	e.logger.Printf("Mirroring %s into document %s", req.RootIssueKey, rootDoc)

	var (
		pages   []PageResult
		visited = map[string]bool{req.RootIssueKey: true}
		level   = []frame{{issueKey: req.RootIssueKey, docID: rootDoc}}
	)
	for len(level) > 0 && ctx.Err() == nil {
		results := make([][]PageResult, len(level))
		nexts := make([][]frame, len(level))

		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for i, f := range level {
			g.Go(func() error {
				results[i], nexts[i] = e.mirrorChildren(ctx, req.RequestID, f, visited)
				return nil
			})
		}
		_ = g.Wait()

		level = nil
		for i := range results {
			pages = append(pages, results[i]...)
			for _, n := range nexts[i] {
				if visited[n.issueKey] {
					e.logger.Printf("WARNING: %s appears twice in the hierarchy, not descending again", n.issueKey)
					continue
				}
				visited[n.issueKey] = true
				if n.depth < e.cfg.MaxDepth {
					level = append(level, n)
				}
			}
		}
	}

	report := &Report{RequestID: req.RequestID, Pages: pages}
	statuses := make([]string, len(pages))
	for i, p := range pages {
		statuses[i] = statusOf(p.Action)
	}
	if err := ctx.Err(); err != nil {
		statuses = append(statuses, ledger.StatusFailure)
	}
	report.Status = ledger.Overall(statuses)

	c := report.Counts()
	e.logger.Printf("Mirror %s complete in %v: %s (created=%d, updated=%d, unchanged=%d, failed=%d)",
		req.RootIssueKey, time.Since(start).Round(time.Millisecond), report.Status,
		c[ActionCreated], c[ActionUpdated], c[ActionUnchanged], c[ActionFailed])
	core.Emit(e.cfg.Observer, core.Event{
		Kind:      core.EventRunComplete,
		RequestID: req.RequestID,
		State:     report.Status,
		Message:   fmt.Sprintf("%d pages", len(pages)),
	})
	return report, nil
}

func statusOf(action string) string {
	switch action {
	case ActionCreated, ActionUpdated:
		return ledger.StatusSuccess
	case ActionFailed:
		return ledger.StatusFailure
	default:
		return ledger.StatusSkipped
	}
}

// mirrorChildren mirrors the direct children of f's issue below f's
// document and returns the frames to descend into. Issues in visited are
// ancestors or earlier siblings and are not mirrored again; the map is
// only read here.
func (e *Engine) mirrorChildren(ctx context.Context, requestID string, f frame, visited map[string]bool) ([]PageResult, []frame) {
	children, err := e.issues.ListChildren(ctx, f.issueKey)
	if err != nil {
		return []PageResult{e.failed(requestID, core.Issue{Key: f.issueKey}, f.docID, fmt.Errorf("list children of %s: %w", f.issueKey, err))}, nil
	}
	var mirrored []*core.Issue
	for _, c := range children {
		if visited[c.Key] {
			e.logger.Printf("WARNING: %s is its own ancestor, not mirroring it below %s", c.Key, f.issueKey)
			continue
		}
		if len(e.types) == 0 || e.types[strings.ToLower(c.Type)] {
			mirrored = append(mirrored, c)
		}
	}
	if len(mirrored) == 0 {
		return nil, nil
	}

	existing, err := e.anchoredChildren(ctx, f.docID)
	if err != nil {
		var out []PageResult
		for _, c := range mirrored {
			out = append(out, e.failed(requestID, *c, f.docID, err))
		}
		return out, nil
	}

	var (
		results []PageResult
		next    []frame
	)
	for _, c := range mirrored {
		res := e.mirror(ctx, *c, f.docID, existing[c.Key])
		core.Emit(e.cfg.Observer, core.Event{
			Kind:       core.EventPageMirrored,
			RequestID:  requestID,
			DocumentID: res.DocumentID,
			IssueKey:   res.IssueKey,
			State:      res.Action,
			Message:    res.ReasonCode,
		})
		results = append(results, res)
		if res.Action != ActionFailed {
			next = append(next, frame{issueKey: c.Key, docID: res.DocumentID, depth: f.depth + 1})
		}
	}
	return results, next
}

// anchoredChildren maps issue keys to the child documents anchored to
// them. The first document wins when two carry the same anchor.
func (e *Engine) anchoredChildren(ctx context.Context, docID string) (map[string]*core.Document, error) {
	ids, err := e.docs.FetchChildren(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("list child documents of %s: %w", docID, err)
	}
	docs := make([]*core.Document, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			docs[i], errs[i] = e.docs.FetchDocument(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*core.Document)
	for i, doc := range docs {
		if errs[i] != nil {
			return nil, fmt.Errorf("read child document %s: %w", ids[i], errs[i])
		}
		key, ok := markup.FindAnchor(doc.Content)
		if !ok {
			continue
		}
		if prev, dup := out[key]; dup {
			e.logger.Printf("WARNING: documents %s and %s both mirror %s; using %s", prev.ID, doc.ID, key, prev.ID)
			continue
		}
		out[key] = doc
	}
	return out, nil
}

func (e *Engine) mirror(ctx context.Context, issue core.Issue, parentDoc string, doc *core.Document) PageResult {
	res := PageResult{
		IssueKey:         issue.Key,
		IssueType:        issue.Type,
		ParentDocumentID: parentDoc,
		Title:            Title(issue),
	}
	block := e.block(issue)

	if doc == nil {
		created, err := e.docs.CreateDocument(ctx, core.NewDocument{
			ParentID: parentDoc,
			Title:    res.Title,
			Content:  block,
		})
		if err != nil {
			return e.fail(res, fmt.Errorf("create document for %s: %w", issue.Key, err))
		}
		e.logger.Printf("Created document %s for %s", created.ID, issue.Key)
		res.DocumentID, res.Action, res.Version = created.ID, ActionCreated, created.Version.Number
		return res
	}

	res.DocumentID = doc.ID
	content, ok := markup.ReplaceMirrorBlock(doc.Content, block)
	if !ok {
		// Anchor without a complete block: keep the body, fix the title.
		content = doc.Content
	}
	if content == doc.Content && doc.Title == res.Title {
		res.Action, res.Version = ActionUnchanged, doc.Version.Number
		return res
	}
	v, err := e.docs.UpdateDocument(ctx, core.DocumentUpdate{
		ID:              doc.ID,
		ExpectedVersion: doc.Version.Number,
		Title:           res.Title,
		Content:         content,
	})
	if err != nil {
		return e.fail(res, fmt.Errorf("update document %s for %s: %w", doc.ID, issue.Key, err))
	}
	e.logger.Printf("Updated document %s for %s", doc.ID, issue.Key)
	res.Action, res.Version = ActionUpdated, v
	return res
}

func (e *Engine) failed(requestID string, issue core.Issue, parentDoc string, err error) PageResult {
	res := e.fail(PageResult{IssueKey: issue.Key, IssueType: issue.Type, ParentDocumentID: parentDoc}, err)
	core.Emit(e.cfg.Observer, core.Event{
		Kind:      core.EventPageMirrored,
		RequestID: requestID,
		IssueKey:  issue.Key,
		State:     ActionFailed,
		Message:   res.ReasonCode,
	})
	return res
}

func (e *Engine) fail(res PageResult, err error) PageResult {
	e.logger.Printf("WARNING: %v", err)
	res.Action = ActionFailed
	res.Reason = err.Error()
	res.ReasonCode = core.ReasonCode(err)
	return res
}

// Title is the document title for an issue. Keys keep titles unique
// within a space.
func Title(issue core.Issue) string {
	if issue.Summary == "" {
		return issue.Key
	}
	return issue.Key + ": " + issue.Summary
}

func (e *Engine) block(issue core.Issue) string {
	// The macro id is derived from the key so an unchanged issue renders
	// an unchanged block.
	link := e.cfg.Link
	if link.NewID == nil {
		link.NewID = func() string {
			return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tasksync:"+issue.Key)).String()
		}
	}
	var sb strings.Builder
	sb.WriteString("<p>")
	sb.WriteString(link.Render(issue.Key))
	sb.WriteString("</p>")
	fmt.Fprintf(&sb, "<p><strong>Type:</strong> %s</p>", html.EscapeString(issue.Type))
	if issue.Assignee != "" {
		fmt.Fprintf(&sb, "<p><strong>Owner:</strong> %s</p>", html.EscapeString(issue.Assignee))
	}
	return markup.MirrorBlock(issue.Key, sb.String())
}

