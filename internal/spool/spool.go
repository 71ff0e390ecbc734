// Package spool provides the request spool daemon.
//
// The daemon:
//  1. Runs every request file already present in the input directory
//  2. Watches the input directory for new request files
//  3. Debounces writes so half-written files are not picked up
//  4. Writes each report (and, for syncs, the ledger) to the output
//     directory and moves the request file next to it
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/syncer"
	"github.com/Mschirtzinger/tasksync/internal/treesync"
	"github.com/Mschirtzinger/tasksync/internal/undo"
)

// Runner executes requests. *app.App implements it.
type Runner interface {
	Sync(ctx context.Context, req app.SyncRequest) (*syncer.Report, error)
	Undo(ctx context.Context, req app.UndoRequest) (*undo.Report, error)
	SyncProject(ctx context.Context, req app.ProjectRequest) (*treesync.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	InputDir  string
	OutputDir string

	// DebounceInterval is how long a file must stay unchanged before it
	// is run.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return FromConfig(config.DefaultConfig().Spool, nil)
}

// FromConfig derives the daemon settings from the spool section.
func FromConfig(c config.SpoolConfig, logger *log.Logger) *Config {
	if logger == nil {
		logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}
	return &Config{
		InputDir:         c.InputDir,
		OutputDir:        c.OutputDir,
		DebounceInterval: c.Debounce,
		Logger:           logger,
	}
}

// Outcome records what happened to one request file.
type Outcome struct {
	Input  string // request file as found in the input directory
	Report string // report written to the output directory
	Status string // overall status, or "error"
	Err    error
}

// Daemon runs request files dropped into a directory.
type Daemon struct {
	runner Runner
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	// OnProcessed, if set, is called after each request file.
	OnProcessed func(Outcome)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start to begin watching.
func New(runner Runner, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.InputDir == "" || config.OutputDir == "" {
		return nil, fmt.Errorf("input and output directories are required")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}
	for _, dir := range []string{config.InputDir, config.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		runner:      runner,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs pending request files, then watches for new ones.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting spool")

	if err := d.watcher.Add(d.config.InputDir); err != nil {
		return fmt.Errorf("failed to watch input directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s -> %s", d.config.InputDir, d.config.OutputDir)

	if err := d.ProcessPending(); err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A request being run is finished
// first; its remote changes cannot be abandoned halfway without a report.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping spool")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Spool stopped")
	return nil
}

// ProcessPending runs every request file currently in the input
// directory, oldest name first.
func (d *Daemon) ProcessPending() error {
	entries, err := os.ReadDir(d.config.InputDir)
	if err != nil {
		return err
	}
	var paths []string
	for _, e := range entries {
		p := filepath.Join(d.config.InputDir, e.Name())
		if !e.IsDir() && isRequestFile(p) {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	for _, p := range paths {
		d.process(p)
	}
	return nil
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isRequestFile(event.Name) {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges runs files that have been quiet for long enough.
// Files are taken off the queue under the lock and run outside it.
func (d *Daemon) processPendingChanges() {
	now := time.Now()
	var ready []string

	d.changeQueueMu.Lock()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	slices.Sort(ready)
	for _, path := range ready {
		if d.ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		d.process(path)
	}
}

// process runs one request file and moves it to the output directory.
func (d *Daemon) process(path string) {
	// Requests run to completion even when the daemon is stopping.
	ctx := context.WithoutCancel(d.ctx)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := Outcome{Input: path, Report: filepath.Join(d.config.OutputDir, base+".report.json")}

	d.config.Logger.Printf("Processing request: %s", path)
	status, err := d.run(ctx, path, base)
	if err != nil {
		d.config.Logger.Printf("Error processing %s: %v", path, err)
		out.Status, out.Err = "error", err
		if werr := writeJSON(out.Report, map[string]string{"error": err.Error()}); werr != nil {
			d.config.Logger.Printf("Error writing %s: %v", out.Report, werr)
		}
	} else {
		out.Status = status
		d.config.Logger.Printf("Finished %s: %s", path, status)
	}

	done := filepath.Join(d.config.OutputDir, filepath.Base(path))
	if err := os.Rename(path, done); err != nil {
		d.config.Logger.Printf("Error moving %s: %v", path, err)
		_ = os.Remove(path)
	}
	if d.OnProcessed != nil {
		d.OnProcessed(out)
	}
}

func (d *Daemon) run(ctx context.Context, path, base string) (string, error) {
	req, err := ReadRequest(path)
	if err != nil {
		return "", err
	}
	report := filepath.Join(d.config.OutputDir, base+".report.json")

	switch req.Kind {
	case KindSync:
		r, err := d.runner.Sync(ctx, app.SyncRequest{
			RequestID:     req.RequestID,
			RequestUser:   req.RequestUser,
			URLs:          req.URLs,
			DaysToDueDate: req.DaysToDueDate,
		})
		if err != nil {
			return "", err
		}
		if err := ledger.WriteFile(filepath.Join(d.config.OutputDir, base+".ledger.json"), r.Entries); err != nil {
			return "", err
		}
		return r.Status, writeJSON(report, r)

	case KindUndo:
		r, err := d.runner.Undo(ctx, app.UndoRequest{
			RequestID:     req.RequestID,
			SyncRequestID: req.SyncRequestID,
			Ledger:        req.Ledger,
		})
		if err != nil {
			return "", err
		}
		return r.Status, writeJSON(report, r)

	case KindProject:
		r, err := d.runner.SyncProject(ctx, app.ProjectRequest{
			RequestID:    req.RequestID,
			RequestUser:  req.RequestUser,
			RootIssueKey: req.RootIssueKey,
			RootDocument: req.RootDocument,
		})
		if err != nil {
			return "", err
		}
		return r.Status, writeJSON(report, r)
	}
	return "", errors.New("unreachable request kind " + req.Kind)
}

// writeJSON writes v atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
