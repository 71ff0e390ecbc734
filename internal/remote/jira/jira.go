// Package jira implements the issue service over the Jira REST API v2.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/remote/rest"
)

const searchPageSize = 100

// Client is a core.IssueService backed by Jira.
type Client struct {
	rest        *rest.Client
	parentField string
	childrenJQL string
}

var _ core.IssueService = (*Client)(nil)

// New returns a Jira client.
func New(cfg config.JiraConfig) (*Client, error) {
	rc, err := rest.New(cfg.BaseURL, cfg.Token, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	jql := cfg.ChildrenJQL
	if jql == "" {
		jql = config.DefaultConfig().Jira.ChildrenJQL
	}
	return &Client{rest: rc, parentField: cfg.ParentField, childrenJQL: jql}, nil
}

type named struct {
	Name string `json:"name"`
}

type issueJSON struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

func (c *Client) fieldList() string {
	f := []string{"summary", "issuetype", "status", "assignee", "parent", "description"}
	if c.parentField != "" {
		f = append(f, c.parentField)
	}
	return strings.Join(f, ",")
}

func (c *Client) toIssue(ij *issueJSON) *core.Issue {
	is := &core.Issue{Key: ij.Key}
	str := func(name string) string {
		var s string
		_ = json.Unmarshal(ij.Fields[name], &s)
		return s
	}
	nameOf := func(name string) string {
		var n named
		_ = json.Unmarshal(ij.Fields[name], &n)
		return n.Name
	}
	is.Summary = str("summary")
	is.Description = str("description")
	is.Type = nameOf("issuetype")
	is.Status = nameOf("status")
	is.Assignee = nameOf("assignee")

	var parent struct {
		Key string `json:"key"`
	}
	_ = json.Unmarshal(ij.Fields["parent"], &parent)
	is.ParentKey = parent.Key
	if c.parentField != "" {
		if s := str(c.parentField); s != "" {
			is.ParentKey = s
		}
	}
	return is
}

func (c *Client) CreateIssue(ctx context.Context, req core.IssueRequest) (string, error) {
	fields := map[string]any{
		"project":     map[string]string{"key": req.Project},
		"issuetype":   named{Name: req.Type},
		"summary":     req.Summary,
		"description": req.Description,
	}
	if req.DueDate != "" {
		fields["duedate"] = req.DueDate
	}
	if req.Assignee != "" {
		fields["assignee"] = named{Name: req.Assignee}
	}
	if req.ParentKey != "" {
		if c.parentField != "" {
			fields[c.parentField] = req.ParentKey
		} else {
			fields["parent"] = map[string]string{"key": req.ParentKey}
		}
	}
	var out struct {
		Key string `json:"key"`
	}
	if err := c.rest.Do(ctx, http.MethodPost, "/rest/api/2/issue", nil, map[string]any{"fields": fields}, &out); err != nil {
		return "", err
	}
	if out.Key == "" {
		return "", &core.RemoteError{Op: "POST /rest/api/2/issue", Message: "response carried no issue key", Kind: core.ErrPermanent}
	}
	return out.Key, nil
}

// TransitionIssue applies the transition whose name or target status
// matches status. An issue already in that status is left alone.
func (c *Client) TransitionIssue(ctx context.Context, key, status string) error {
	cur, err := c.GetIssue(ctx, key)
	if err != nil {
		return err
	}
	if strings.EqualFold(cur.Status, status) {
		return nil
	}

	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"
	var avail struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			To   named  `json:"to"`
		} `json:"transitions"`
	}
	if err := c.rest.Do(ctx, http.MethodGet, path, nil, nil, &avail); err != nil {
		return err
	}
	for _, t := range avail.Transitions {
		if strings.EqualFold(t.Name, status) || strings.EqualFold(t.To.Name, status) {
			body := map[string]any{"transition": map[string]string{"id": t.ID}}
			return c.rest.Do(ctx, http.MethodPost, path, nil, body, nil)
		}
	}
	return &core.RemoteError{
		Op:      "POST " + path,
		Message: fmt.Sprintf("no transition to %q from %q", status, cur.Status),
		Kind:    core.ErrPermanent,
	}
}

func (c *Client) GetIssue(ctx context.Context, key string) (*core.Issue, error) {
	var ij issueJSON
	q := url.Values{"fields": {c.fieldList()}}
	if err := c.rest.Do(ctx, http.MethodGet, "/rest/api/2/issue/"+url.PathEscape(key), q, nil, &ij); err != nil {
		return nil, err
	}
	return c.toIssue(&ij), nil
}

// search yields every issue matching jql, one page at a time.
func (c *Client) search(ctx context.Context, jql string) iter.Seq2[*core.Issue, error] {
	return func(yield func(*core.Issue, error) bool) {
		for start := 0; ; {
			var page struct {
				StartAt int          `json:"startAt"`
				Total   int          `json:"total"`
				Issues  []*issueJSON `json:"issues"`
			}
			body := map[string]any{
				"jql":        jql,
				"startAt":    start,
				"maxResults": searchPageSize,
				"fields":     strings.Split(c.fieldList(), ","),
			}
			if err := c.rest.Do(ctx, http.MethodPost, "/rest/api/2/search", nil, body, &page); err != nil {
				yield(nil, err)
				return
			}
			for _, ij := range page.Issues {
				if !yield(c.toIssue(ij), nil) {
					return
				}
			}
			start += len(page.Issues)
			if len(page.Issues) == 0 || start >= page.Total {
				return
			}
		}
	}
}

func (c *Client) ListChildren(ctx context.Context, key string) ([]*core.Issue, error) {
	var out []*core.Issue
	for is, err := range c.search(ctx, fmt.Sprintf(c.childrenJQL, key)) {
		if err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, nil
}

// FindIssueByMarker narrows candidates with a text search, newest first,
// and pages through them until one carries the exact marker.
func (c *Client) FindIssueByMarker(ctx context.Context, marker string) (*core.Issue, error) {
	jql := fmt.Sprintf(`description ~ "\"%s\"" ORDER BY created DESC`, escapeJQL(marker))
	for is, err := range c.search(ctx, jql) {
		if err != nil {
			return nil, err
		}
		if core.CarriesMarker(is.Description, marker) {
			return is, nil
		}
	}
	return nil, &core.RemoteError{Op: "POST /rest/api/2/search", StatusCode: http.StatusNotFound, Message: "no issue carries marker", Kind: core.ErrNotFound}
}

func escapeJQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rest.Do(ctx, http.MethodGet, "/rest/api/2/myself", nil, nil, nil)
}
