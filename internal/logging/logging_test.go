package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Mschirtzinger/tasksync/internal/config"
)

func TestForPrefixesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, config.LogConfig{})

	l.For("sync").Printf("created %s", "WP-1")

	if !strings.Contains(buf.String(), "[sync] created WP-1") {
		t.Errorf("Expected prefixed line, got %q", buf.String())
	}
}

func TestDebugfRespectsVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, config.LogConfig{})
	l.Debugf("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output without verbose, got %q", buf.String())
	}

	l = newWithWriter(&buf, config.LogConfig{Verbose: true})
	l.Debugf("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected verbose output, got %q", buf.String())
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsync.log")
	var buf bytes.Buffer
	l := newWithWriter(&buf, config.LogConfig{File: path, MaxSizeMB: 1})

	l.Printf("to both")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both") {
		t.Errorf("Expected line in log file, got %q", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Errorf("Expected line on stderr writer, got %q", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil, "x") == nil {
		t.Fatal("Expected default logger")
	}
	d := Discard()
	if OrDefault(d, "x") != d {
		t.Error("Expected provided logger to be returned")
	}
}
