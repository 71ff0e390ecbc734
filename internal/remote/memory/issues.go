package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// Issues is an in-memory issue service.
type Issues struct {
	mu          sync.Mutex
	issues      map[string]*core.Issue
	order       []string
	next        map[string]int
	transitions map[string][]string
	createErrs  []error
	lostReplies int
	creates     int

	// OnCreateIssue runs after an issue is created, outside the lock.
	OnCreateIssue func(req core.IssueRequest, key string)
}

var _ core.IssueService = (*Issues)(nil)

// NewIssues returns an empty issue service.
func NewIssues() *Issues {
	return &Issues{
		issues:      make(map[string]*core.Issue),
		next:        make(map[string]int),
		transitions: make(map[string][]string),
	}
}

// Put stores an issue as is.
func (s *Issues) Put(issue core.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(issue)
}

func (s *Issues) store(issue core.Issue) {
	if _, ok := s.issues[issue.Key]; !ok {
		s.order = append(s.order, issue.Key)
	}
	c := issue
	s.issues[issue.Key] = &c
}

// Get returns a copy of a stored issue.
func (s *Issues) Get(key string) (core.Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.issues[key]
	if !ok {
		return core.Issue{}, false
	}
	return *i, true
}

// Len returns the number of stored issues.
func (s *Issues) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues)
}

// Creates returns how many issues CreateIssue actually created.
func (s *Issues) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Transitions returns the statuses an issue was moved to, in order.
func (s *Issues) Transitions(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transitions[key]...)
}

// FailCreate queues errors returned by the next CreateIssue calls, one
// per call, without creating anything.
func (s *Issues) FailCreate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs = append(s.createErrs, errs...)
}

// LoseCreateReplies makes the next n CreateIssue calls create the issue
// and then report a transient failure, as when a response is lost.
func (s *Issues) LoseCreateReplies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lostReplies += n
}

func (s *Issues) CreateIssue(ctx context.Context, req core.IssueRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		s.mu.Unlock()
		return "", err
	}
	if strings.TrimSpace(req.Summary) == "" {
		s.mu.Unlock()
		return "", &core.RemoteError{Op: "create issue", StatusCode: 400, Message: "summary is required", Kind: core.ErrPermanent}
	}
	if req.ParentKey != "" {
		if _, ok := s.issues[req.ParentKey]; !ok {
			s.mu.Unlock()
			return "", &core.RemoteError{Op: "create issue", StatusCode: 400, Message: "unknown parent " + req.ParentKey, Kind: core.ErrPermanent}
		}
	}
	project := req.Project
	if project == "" {
		project = "TASK"
	}
	s.next[project]++
	key := fmt.Sprintf("%s-%d", project, 100+s.next[project])
	s.store(core.Issue{
		Key:         key,
		Summary:     req.Summary,
		Type:        req.Type,
		Status:      "Open",
		Assignee:    req.Assignee,
		ParentKey:   req.ParentKey,
		Description: req.Description,
	})
	s.creates++
	lost := s.lostReplies > 0
	if lost {
		s.lostReplies--
	}
	hook := s.OnCreateIssue
	s.mu.Unlock()

	if hook != nil {
		hook(req, key)
	}
	if lost {
		return "", &core.RemoteError{Op: "create issue", Message: "connection reset", Kind: core.ErrTransient}
	}
	return key, nil
}

func (s *Issues) TransitionIssue(ctx context.Context, key, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.issues[key]
	if !ok {
		return &core.RemoteError{Op: "transition " + key, StatusCode: 404, Message: "issue does not exist", Kind: core.ErrNotFound}
	}
	i.Status = status
	s.transitions[key] = append(s.transitions[key], status)
	return nil
}

func (s *Issues) GetIssue(ctx context.Context, key string) (*core.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.issues[key]
	if !ok {
		return nil, &core.RemoteError{Op: "get " + key, StatusCode: 404, Message: "issue does not exist", Kind: core.ErrNotFound}
	}
	c := *i
	return &c, nil
}

func (s *Issues) ListChildren(ctx context.Context, key string) ([]*core.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Issue
	for _, k := range s.order {
		if i := s.issues[k]; i.ParentKey == key {
			c := *i
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Issues) FindIssueByMarker(ctx context.Context, marker string) (*core.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.order {
		if i := s.issues[k]; core.CarriesMarker(i.Description, marker) {
			c := *i
			return &c, nil
		}
	}
	return nil, &core.RemoteError{Op: "search", StatusCode: 404, Message: "no issue carries marker", Kind: core.ErrNotFound}
}

func (s *Issues) Ping(ctx context.Context) error { return ctx.Err() }
