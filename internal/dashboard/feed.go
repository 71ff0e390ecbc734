package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

var errTooSlow = errors.New("client too slow")

// subscriber is one feed client. A client that names a request only
// receives that run's messages.
type subscriber struct {
	request string
	outbox  chan []byte

	dropOnce sync.Once
	dropped  chan struct{}
}

func newSubscriber(request string) *subscriber {
	return &subscriber{
		request: request,
		outbox:  make(chan []byte, outboxSize),
		dropped: make(chan struct{}),
	}
}

func (c *subscriber) wants(requestID string) bool {
	return c.request == "" || c.request == requestID
}

// offer queues data without blocking. A full outbox drops the client.
func (c *subscriber) offer(data []byte) {
	select {
	case c.outbox <- data:
	default:
		c.dropOnce.Do(func() { close(c.dropped) })
	}
}

// subscribers is the set of connected clients.
type subscribers struct {
	mu  sync.RWMutex
	set map[*subscriber]struct{}
}

func (s *subscribers) add(c *subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		s.set = make(map[*subscriber]struct{})
	}
	s.set[c] = struct{}{}
	return len(s.set)
}

func (s *subscribers) remove(c *subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, c)
	return len(s.set)
}

func (s *subscribers) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// fanOut offers data to every client interested in requestID.
func (s *subscribers) fanOut(requestID string, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.set {
		if c.wants(requestID) {
			c.offer(data)
		}
	}
}

// serveFeed upgrades the request and streams messages to the client until
// it leaves, falls behind, or the server stops. ?request=<id> narrows the
// stream to one run.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newSubscriber(r.URL.Query().Get("request"))
	if data, err := s.encode(s.welcome(c.request)); err == nil {
		c.offer(data)
	}
	s.logger.Printf("Client connected (request %q, total: %d)", c.request, s.clients.add(c))

	s.wg.Add(1)
	err = s.stream(conn.CloseRead(s.ctx), conn, c)
	s.wg.Done()

	n := s.clients.remove(c)
	switch {
	case errors.Is(err, errTooSlow):
		_ = conn.Close(websocket.StatusPolicyViolation, errTooSlow.Error())
	case s.ctx.Err() != nil:
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	s.logger.Printf("Client disconnected (total: %d): %v", n, err)
}

// stream writes queued messages until ctx ends or the client is dropped.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, c *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.dropped:
			return errTooSlow
		case data := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
