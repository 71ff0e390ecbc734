// Package confluence implements the document service over the Confluence
// REST API (server / data center flavour).
package confluence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/remote/rest"
)

const childPageLimit = 200

// Client is a core.DocumentService backed by Confluence.
type Client struct {
	rest *rest.Client
}

var _ core.DocumentService = (*Client)(nil)

// New returns a Confluence client.
func New(cfg config.ConfluenceConfig) (*Client, error) {
	rc, err := rest.New(cfg.BaseURL, cfg.Token, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("confluence: %w", err)
	}
	return &Client{rest: rc}, nil
}

type storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

type content struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Space *struct {
		Key string `json:"key"`
	} `json:"space,omitempty"`
	Version *struct {
		Number int `json:"number"`
		By     struct {
			DisplayName string `json:"displayName"`
		} `json:"by"`
		When string `json:"when"`
	} `json:"version,omitempty"`
	Body *struct {
		Storage storage `json:"storage"`
	} `json:"body,omitempty"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors,omitempty"`
	Links struct {
		Base  string `json:"base"`
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (c *Client) toDocument(ct *content) *core.Document {
	doc := &core.Document{ID: ct.ID, Title: ct.Title}
	if ct.Space != nil {
		doc.SpaceKey = ct.Space.Key
	}
	doc.Version.DocumentID = ct.ID
	if ct.Version != nil {
		doc.Version.Number = ct.Version.Number
		doc.Version.Author = ct.Version.By.DisplayName
		doc.Version.Timestamp = ct.Version.When
	}
	if ct.Body != nil {
		doc.Content = ct.Body.Storage.Value
	}
	for _, a := range ct.Ancestors {
		doc.Ancestors = append(doc.Ancestors, a.ID)
	}
	base := ct.Links.Base
	if base == "" {
		base = c.rest.BaseURL()
	}
	if ct.Links.WebUI != "" {
		doc.URL = base + ct.Links.WebUI
	}
	return doc
}

func (c *Client) FetchDocument(ctx context.Context, id string) (*core.Document, error) {
	var ct content
	q := url.Values{"expand": {"body.storage,version,ancestors,space"}}
	if err := c.rest.Do(ctx, http.MethodGet, "/rest/api/content/"+url.PathEscape(id), q, nil, &ct); err != nil {
		return nil, err
	}
	return c.toDocument(&ct), nil
}

func (c *Client) FetchChildren(ctx context.Context, id string) ([]string, error) {
	var ids []string
	for start := 0; ; start += childPageLimit {
		var page struct {
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
			Size int `json:"size"`
		}
		q := url.Values{
			"limit": {strconv.Itoa(childPageLimit)},
			"start": {strconv.Itoa(start)},
		}
		if err := c.rest.Do(ctx, http.MethodGet, "/rest/api/content/"+url.PathEscape(id)+"/child/page", q, nil, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			ids = append(ids, r.ID)
		}
		if len(page.Results) < childPageLimit {
			return ids, nil
		}
	}
}

func (c *Client) UpdateDocument(ctx context.Context, upd core.DocumentUpdate) (int, error) {
	title := upd.Title
	if title == "" {
		cur, err := c.FetchDocument(ctx, upd.ID)
		if err != nil {
			return 0, err
		}
		if cur.Version.Number != upd.ExpectedVersion {
			return 0, &core.RemoteError{
				Op:         "PUT /rest/api/content/" + upd.ID,
				StatusCode: http.StatusConflict,
				Message:    fmt.Sprintf("expected version %d, current %d", upd.ExpectedVersion, cur.Version.Number),
				Kind:       core.ErrVersionConflict,
			}
		}
		title = cur.Title
	}

	body := map[string]any{
		"id":      upd.ID,
		"type":    "page",
		"title":   title,
		"version": map[string]int{"number": upd.ExpectedVersion + 1},
		"body": map[string]any{
			"storage": storage{Value: upd.Content, Representation: "storage"},
		},
	}
	var ct content
	if err := c.rest.Do(ctx, http.MethodPut, "/rest/api/content/"+url.PathEscape(upd.ID), nil, body, &ct); err != nil {
		return 0, err
	}
	if ct.Version == nil {
		return upd.ExpectedVersion + 1, nil
	}
	return ct.Version.Number, nil
}

func (c *Client) CreateDocument(ctx context.Context, nd core.NewDocument) (*core.Document, error) {
	parent, err := c.FetchDocument(ctx, nd.ParentID)
	if err != nil {
		return nil, fmt.Errorf("create below %s: %w", nd.ParentID, err)
	}
	body := map[string]any{
		"type":      "page",
		"title":     nd.Title,
		"space":     map[string]string{"key": parent.SpaceKey},
		"ancestors": []map[string]string{{"id": nd.ParentID}},
		"body": map[string]any{
			"storage": storage{Value: nd.Content, Representation: "storage"},
		},
	}
	var ct content
	if err := c.rest.Do(ctx, http.MethodPost, "/rest/api/content", nil, body, &ct); err != nil {
		return nil, err
	}
	doc := c.toDocument(&ct)
	if doc.Content == "" {
		doc.Content = nd.Content
	}
	return doc, nil
}

// ResolveUser returns the user name for a user key.
func (c *Client) ResolveUser(ctx context.Context, key string) (string, error) {
	var u struct {
		Username string `json:"username"`
	}
	if err := c.rest.Do(ctx, http.MethodGet, "/rest/api/user", url.Values{"key": {key}}, nil, &u); err != nil {
		return "", err
	}
	return u.Username, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rest.Do(ctx, http.MethodGet, "/rest/api/space", url.Values{"limit": {"1"}}, nil, nil)
}
