package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestFeed(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	server := NewServer(&Config{Logger: testLogger()})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		_ = server.Stop()
		srv.Close()
	})
	return server, srv
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Errorf("GetAddr() = %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedStreamsEventsAndRunStats(t *testing.T) {
	server, srv := newTestFeed(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv, "")

	if msg := read(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStats)
	}
	waitForClients(t, server, 1)

	core.Emit(server, core.Event{Kind: core.EventTaskState, RequestID: "r1", DocumentID: "100", TaskID: "7", State: "discovered"})
	core.Emit(server, core.Event{Kind: core.EventTaskState, RequestID: "r1", DocumentID: "100", TaskID: "7", State: "issue_created"})
	core.Emit(server, core.Event{Kind: core.EventRunComplete, RequestID: "r1", State: "Success"})

	for _, want := range []string{"discovered", "issue_created"} {
		msg := read(t, ctx, conn)
		if msg.Type != MessageTypeTaskState {
			t.Fatalf("type = %s, want %s", msg.Type, MessageTypeTaskState)
		}
		var e core.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		if e.TaskID != "7" || e.State != want {
			t.Errorf("event = %+v, want state %s", e, want)
		}
	}
	if msg := read(t, ctx, conn); msg.Type != MessageTypeRunComplete {
		t.Errorf("type = %s, want %s", msg.Type, MessageTypeRunComplete)
	}

	msg := read(t, ctx, conn)
	if msg.Type != MessageTypeRun {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeRun)
	}
	var run RunStats
	if err := json.Unmarshal(msg.Data, &run); err != nil {
		t.Fatalf("Failed to unmarshal run stats: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"issue_created": 1}, run.Tasks); diff != "" {
		t.Errorf("tasks by latest state mismatch (-want +got):\n%s", diff)
	}
	if run.Status != "Success" || run.Finished == nil {
		t.Errorf("run = %+v", run)
	}

	msg = read(t, ctx, conn)
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if msg.Type != MessageTypeStats || stats.Runs != 1 || stats.ByStatus["Success"] != 1 || len(stats.Active) != 0 {
		t.Errorf("stats = %s %+v", msg.Type, stats)
	}
}

func TestFeedFollowsOneRun(t *testing.T) {
	server, srv := newTestFeed(t)
	core.Emit(server, core.Event{Kind: core.EventTaskState, RequestID: "r2", DocumentID: "1", TaskID: "1", State: "discovered"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv, "?request=r2")

	msg := read(t, ctx, conn)
	var run RunStats
	if err := json.Unmarshal(msg.Data, &run); err != nil {
		t.Fatalf("Failed to unmarshal run stats: %v", err)
	}
	if msg.Type != MessageTypeRun || run.RequestID != "r2" || run.Tasks["discovered"] != 1 {
		t.Fatalf("welcome = %s %+v", msg.Type, run)
	}
	waitForClients(t, server, 1)

	core.Emit(server, core.Event{Kind: core.EventTaskState, RequestID: "other", DocumentID: "1", TaskID: "1", State: "discovered"})
	core.Emit(server, core.Event{Kind: core.EventRunComplete, RequestID: "r2", State: "Failed"})

	if msg := read(t, ctx, conn); msg.Type != MessageTypeRunComplete {
		t.Fatalf("type = %s, want %s (other runs must not reach this client)", msg.Type, MessageTypeRunComplete)
	}
	if msg := read(t, ctx, conn); msg.Type != MessageTypeRun {
		t.Errorf("type = %s, want %s", msg.Type, MessageTypeRun)
	}
}

func TestObserveIgnoresUnknownEvents(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	c := newSubscriber("")
	server.clients.add(c)

	server.Observe(core.Event{Kind: "something_else", RequestID: "r1"})
	if len(c.outbox) != 0 {
		t.Errorf("queued %d messages", len(c.outbox))
	}
	if _, ok := server.RunStats("r1"); ok {
		t.Error("unknown event created a run")
	}
}

func TestSlowClientIsDroppedWithoutBlocking(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	c := newSubscriber("")
	server.clients.add(c)

	done := make(chan struct{})
	go func() {
		for i := range outboxSize + 10 {
			server.Observe(core.Event{Kind: core.EventPageMirrored, RequestID: "r1", DocumentID: string(rune('a' + i%26))})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a full client")
	}
	select {
	case <-c.dropped:
	default:
		t.Error("client with a full outbox was not dropped")
	}
	if stats, _ := server.RunStats("r1"); stats.Pages != outboxSize+10 {
		t.Errorf("Pages = %d, want %d", stats.Pages, outboxSize+10)
	}
}

func TestRunBookForgetsOldestFinishedRuns(t *testing.T) {
	b := newRunBook()
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	b.record(core.Event{Kind: core.EventTaskState, RequestID: "running", State: "discovered", Time: at})
	for i := range maxRuns + 5 {
		id := "done-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		b.record(core.Event{Kind: core.EventRunComplete, RequestID: id, State: "Success", Time: at})
	}

	totals := b.totals()
	if totals.Runs != maxRuns+5 {
		t.Errorf("Runs = %d, want %d", totals.Runs, maxRuns+5)
	}
	if diff := cmp.Diff([]string{"running"}, totals.Active); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}
	if len(b.order) != maxRuns {
		t.Errorf("remembered %d runs, want %d", len(b.order), maxRuns)
	}
	if _, ok := b.snapshot("done-Aa"); ok {
		t.Error("oldest finished run was kept")
	}
	if totals.Last == nil || totals.Last.RequestID != b.last {
		t.Errorf("Last = %+v", totals.Last)
	}
}

func TestHealthAndRunEndpoints(t *testing.T) {
	server, srv := newTestFeed(t)
	core.Emit(server, core.Event{Kind: core.EventUndoStep, RequestID: "u1", State: "issue_success"})
	core.Emit(server, core.Event{Kind: core.EventRunComplete, RequestID: "u1", State: "Success"})

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status  string    `json:"status"`
		Clients int       `json:"clients"`
		Runs    StatsData `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Runs.Runs != 1 || health.Runs.Last == nil || health.Runs.Last.RequestID != "u1" {
		t.Errorf("health = %+v", health)
	}

	resp, err = srv.Client().Get(srv.URL + "/runs/u1")
	if err != nil {
		t.Fatalf("GET /runs/u1 failed: %v", err)
	}
	defer resp.Body.Close()
	var run RunStats
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"issue_success": 1}, run.UndoSteps); diff != "" {
		t.Errorf("undo steps mismatch (-want +got):\n%s", diff)
	}

	resp, err = srv.Client().Get(srv.URL + "/runs/nope")
	if err != nil {
		t.Fatalf("GET /runs/nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run status = %d", resp.StatusCode)
	}
}

func TestIndexListsRuns(t *testing.T) {
	server, srv := newTestFeed(t)
	core.Emit(server, core.Event{Kind: core.EventTaskState, RequestID: "live-1", State: "discovered"})

	resp, err := srv.Client().Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `href="runs/live-1"`) {
		t.Errorf("index does not link the running run:\n%s", body)
	}
}
