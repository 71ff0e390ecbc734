package spool

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
)

// Request kinds.
const (
	KindSync    = "sync"
	KindUndo    = "undo"
	KindProject = "project"
)

// Request is one spooled request file. JSON and YAML are both accepted;
// a file holding a bare ledger (JSON array, JSONL or YAML sequence) is an
// undo request for that ledger.
type Request struct {
	Kind      string `yaml:"kind"`
	RequestID string `yaml:"request_id"`

	// sync
	URLs          []string `yaml:"urls"`
	RequestUser   string   `yaml:"request_user"`
	DaysToDueDate *int     `yaml:"days_to_due_date"`

	// undo
	SyncRequestID string        `yaml:"sync_request_id"`
	Ledger        ledger.Ledger `yaml:"-"`

	// project
	RootIssueKey string `yaml:"root_issue_key"`
	RootDocument string `yaml:"root_document"`
}

var requestExts = map[string]bool{".json": true, ".jsonl": true, ".ndjson": true, ".yaml": true, ".yml": true}

// isRequestFile reports whether path names a request file. Hidden and
// temporary files are skipped so editors and atomic writers do not
// trigger runs.
func isRequestFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, "~") {
		return false
	}
	return requestExts[strings.ToLower(filepath.Ext(base))]
}

// ReadRequest parses a request file.
func ReadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRequest(data, ledger.FormatFromPath(path))
}

// ParseRequest parses request data; f names the encoding of a bare ledger.
func ParseRequest(data []byte, f ledger.Format) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty request", core.ErrInvalidInput)
	}

	if !isEnvelope(trimmed, f) {
		l, err := ledger.Decode[ledger.Record](bytes.NewReader(trimmed), f)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
		return &Request{Kind: KindUndo, Ledger: l}, nil
	}

	var req Request
	if err := yaml.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: invalid request: %w", core.ErrInvalidInput, err)
	}
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	switch req.Kind {
	case KindSync:
		if len(req.URLs) == 0 {
			return nil, fmt.Errorf("%w: sync request without urls", core.ErrInvalidInput)
		}
	case KindUndo:
		if req.SyncRequestID == "" {
			return nil, fmt.Errorf("%w: undo request without sync_request_id", core.ErrInvalidInput)
		}
	case KindProject:
		if req.RootIssueKey == "" || req.RootDocument == "" {
			return nil, fmt.Errorf("%w: project request needs root_issue_key and root_document", core.ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", core.ErrInvalidInput, req.Kind)
	}
	return &req, nil
}

// isEnvelope tells a request object from a bare ledger. A JSONL ledger
// also starts with '{', so the file extension decides for those.
func isEnvelope(data []byte, f ledger.Format) bool {
	switch f {
	case ledger.FormatJSONL:
		return false
	case ledger.FormatYAML:
		return data[0] != '-' && data[0] != '['
	default:
		return data[0] == '{'
	}
}
