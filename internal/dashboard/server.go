// Package dashboard provides a real-time WebSocket progress feed.
//
// Engine events (task state transitions, undo steps, mirrored pages, run
// completion) are streamed to connected clients so a long sync can be
// watched while it runs. The feed also folds the events into per-run
// stats, served to new clients on connect and over plain HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeTaskState carries one sync state transition of a task
	MessageTypeTaskState MessageType = "task_state"

	// MessageTypeUndoStep carries one finished undo step
	MessageTypeUndoStep MessageType = "undo_step"

	// MessageTypePage carries one mirrored project page
	MessageTypePage MessageType = "page_mirrored"

	// MessageTypeRunComplete indicates an engine run finished
	MessageTypeRunComplete MessageType = "run_complete"

	// MessageTypeRun carries the stats of one run
	MessageTypeRun MessageType = "run_stats"

	// MessageTypeStats carries the totals over all runs
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server streams progress messages and keeps per-run stats. It implements
// core.Observer.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients subscribers
	runs    *runBook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{Port: 8081}
}

// NewServer creates a new dashboard server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   fmt.Sprintf(":%d", config.Port),
		runs:   newRunBook(),
		ctx:    ctx,
		cancel: cancel,
		logger: config.Logger,
	}
}

// Handler returns the feed's HTTP routes, for mounting in another server:
//
//	/ws            the message stream (?request=<id> for one run)
//	/runs/{id}     stats of one run
//	/health        liveness with client count and totals
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveFeed)
	mux.HandleFunc("GET /runs/{id}", s.serveRun)
	mux.HandleFunc("GET /health", s.serveHealth)
	mux.HandleFunc("GET /{$}", s.serveIndex)
	return mux
}

// Start listens on the configured port and serves Handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	s.wg.Wait()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Println("Dashboard server stopped")
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	return s.clients.len()
}

// Stats returns the totals over all runs seen so far.
func (s *Server) Stats() StatsData {
	return s.runs.totals()
}

// RunStats returns the stats of one run, if the feed has seen it.
func (s *Server) RunStats(requestID string) (RunStats, bool) {
	return s.runs.snapshot(requestID)
}

func (s *Server) message(typ MessageType, v any) Message {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("Failed to marshal %s: %v", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: data}
}

func (s *Server) encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
	}
	return data, err
}

// publish streams msg to the clients following requestID. Totals use an
// empty request id and reach only clients following every run.
func (s *Server) publish(requestID string, msg Message) {
	data, err := s.encode(msg)
	if err != nil {
		return
	}
	s.clients.fanOut(requestID, data)
}

// welcome is the first message of a client: its run's stats, or the
// totals when it follows every run.
func (s *Server) welcome(requestID string) Message {
	if requestID == "" {
		return s.message(MessageTypeStats, s.runs.totals())
	}
	stats, ok := s.runs.snapshot(requestID)
	if !ok {
		stats = RunStats{RequestID: requestID}
	}
	return s.message(MessageTypeRun, stats)
}

func (s *Server) serveRun(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.runs.snapshot(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown run", http.StatusNotFound)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Status  string    `json:"status"`
		Clients int       `json:"clients"`
		Runs    StatsData `json:"runs"`
	}{"ok", s.ClientCount(), s.runs.totals()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>tasksync progress</title></head>
<body>
<h1>tasksync progress feed</h1>
<p>All runs: <code>ws://{{.Host}}/ws</code>, one run: <code>ws://{{.Host}}/ws?request=&lt;id&gt;</code></p>
{{with .Stats.Active}}<h2>Running</h2>
<ul>{{range .}}<li><a href="runs/{{.}}">{{.}}</a></li>{{end}}</ul>{{end}}
{{with .Stats.Last}}<p>Last run <a href="runs/{{.RequestID}}">{{.RequestID}}</a>: {{.Status}}</p>{{end}}
<p>{{.Stats.Runs}} run(s) finished. Health: <a href="health">health</a></p>
</body>
</html>`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexPage.Execute(w, struct {
		Host  string
		Stats StatsData
	}{r.Host, s.runs.totals()})
}
