// Package rest is the JSON-over-HTTP client shared by the Confluence and
// Jira gateways. It maps HTTP outcomes onto the core error taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

const maxErrorBody = 4 << 10

// Client talks to one REST API.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a client for baseURL. A non-empty token is sent as a bearer
// token (personal access tokens work this way on both services).
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, core.ErrInvalidInput)
	}
	hc := &http.Client{}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		hc = oauth2.NewClient(context.Background(), src)
	}
	hc.Timeout = timeout
	return &Client{base: u, http: hc}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.base.String() }

// Do sends a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &core.RemoteError{Op: op, Message: err.Error(), Kind: core.ErrTransient}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &core.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(msg, resp.Status),
			Kind:       Classify(resp.StatusCode),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &core.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Kind: core.ErrTransient}
	}
	return nil
}

// Classify maps a non-2xx status to its error kind.
func Classify(status int) error {
	switch {
	case status == http.StatusNotFound:
		return core.ErrNotFound
	case status == http.StatusConflict:
		return core.ErrVersionConflict
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return core.ErrTransient
	default:
		return core.ErrPermanent
	}
}

// errorMessage extracts the human-readable part of an error response.
// Confluence sends {"message": ...}; Jira sends {"errorMessages": [...],
// "errors": {field: msg}}.
func errorMessage(body []byte, status string) string {
	var e struct {
		Message       string            `json:"message"`
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		var parts []string
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
		parts = append(parts, e.ErrorMessages...)
		for field, msg := range e.Errors {
			parts = append(parts, field+": "+msg)
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return s
	}
	return status
}
