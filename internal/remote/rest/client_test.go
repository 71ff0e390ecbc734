package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{400, core.ErrPermanent},
		{401, core.ErrPermanent},
		{404, core.ErrNotFound},
		{409, core.ErrVersionConflict},
		{429, core.ErrTransient},
		{500, core.ErrTransient},
		{503, core.ErrTransient},
	}
	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDoSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/wiki/rest/api/thing" || r.URL.Query().Get("expand") != "a,b" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/wiki/", "tok", time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.Do(context.Background(), http.MethodGet, "/rest/api/thing", map[string][]string{"expand": {"a,b"}}, nil, &out); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if out.ID != "42" {
		t.Errorf("ID = %q", out.ID)
	}
}

func TestDoMapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":[],"errors":{"summary":"required"}}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "", time.Second)
	err := c.Do(context.Background(), http.MethodPost, "/rest/api/2/issue", nil, map[string]string{}, nil)

	var re *core.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}
	if re.StatusCode != 400 || !errors.Is(err, core.ErrPermanent) {
		t.Errorf("unexpected error %+v", re)
	}
	if !strings.Contains(re.Message, "summary: required") {
		t.Errorf("Message = %q", re.Message)
	}
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url, "", time.Second)
	err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	if !core.IsRetryable(err) {
		t.Fatalf("Expected retryable error, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url", "", time.Second); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("Expected invalid input, got %v", err)
	}
}
