package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a ledger file encoding.
type Format string

const (
	FormatAuto  Format = ""
	FormatJSON  Format = "json"  // one JSON array
	FormatJSONL Format = "jsonl" // one record per line
	FormatYAML  Format = "yaml"  // one YAML sequence
)

// ParseFormat accepts json, jsonl, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown ledger format %q", s)
}

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// sniff guesses the encoding of data from its first significant byte.
func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0, trimmed[0] == '[':
		return FormatJSON
	case trimmed[0] == '{':
		return FormatJSONL
	default:
		return FormatYAML
	}
}

// Encode writes records in the given format.
func Encode[T any](w io.Writer, f Format, records []T) error {
	if records == nil {
		records = []T{}
	}
	switch f {
	case FormatJSON, FormatAuto:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(records)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return fmt.Errorf("failed to encode record %d: %w", i, err)
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown ledger format %q", f)
}

// Decode reads records; FormatAuto sniffs the encoding.
func Decode[T any](r io.Reader, f Format) ([]T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if f == FormatAuto {
		f = sniff(data)
	}

	var out []T
	switch f {
	case FormatJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return []T{}, nil
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("invalid JSON ledger: %w", err)
		}
	case FormatJSONL:
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			var rec T
			if err := json.Unmarshal(b, &rec); err != nil {
				return nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
			}
			out = append(out, rec)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("invalid YAML ledger: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown ledger format %q", f)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// ReadFile reads and validates a sync ledger file of any encoding.
func ReadFile(path string) (Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	defer f.Close()

	recs, err := Decode[Record](f, FormatAuto)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	l := Ledger(recs)
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger %s: %w", path, err)
	}
	return l, nil
}

// WriteFile writes records atomically via a temp file in the same
// directory. The format follows the file extension.
func WriteFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, FormatFromPath(path), records); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
