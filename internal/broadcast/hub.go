// Package broadcast pushes bus events to websocket clients.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-core/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Message is the envelope written to clients.
type Message struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Hub owns the set of websocket clients. Messages enter through a bounded
// channel and are dropped when it is full, so publishers never block.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	broadcast chan []byte
	clientBuf int
	quit      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
	dropped   atomic.Uint64
	wg        sync.WaitGroup
	running   atomic.Bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the hub queue and per-client queue sizes.
func WithBuffer(hub, perClient int) Option {
	return func(h *Hub) {
		if hub > 0 {
			h.broadcast = make(chan []byte, hub)
		}
		if perClient > 0 {
			h.clientBuf = perClient
		}
	}
}

// NewHub creates a hub; call Run to start delivering.
func NewHub(log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, 256),
		clientBuf: 64,
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run fans queued messages out to clients until ctx ends or Shutdown is called.
func (h *Hub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer h.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

func (h *Hub) fanout(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// slow consumer
			h.dropped.Add(1)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Broadcast queues a message of the given type. It reports false when the
// hub queue is full or the hub is shutting down.
func (h *Hub) Broadcast(kind string, data any) bool {
	if h.closing.Load() {
		return false
	}
	payload, err := json.Marshal(Message{Type: kind, Data: data, Time: time.Now().UTC()})
	if err != nil {
		h.log.Warn().Err(err).Str("type", kind).Msg("broadcast marshal failed")
		return false
	}
	select {
	case h.broadcast <- payload:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Forward relays the given bus events to clients. The returned function
// stops forwarding.
func (h *Hub) Forward(bus *events.Bus, evs ...events.Event) func() {
	stops := make([]func(), 0, len(evs))
	for _, e := range evs {
		ch, unsub := bus.Subscribe(e, 256)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for payload := range ch {
				h.Broadcast(string(e), payload)
			}
		}()
		stops = append(stops, func() {
			unsub()
			<-done
		})
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.clientBuf), done: make(chan struct{})}

	h.mu.Lock()
	if h.closing.Load() {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards client frames; it exists to process control frames
// and to notice disconnects.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer close(c.done)
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.wg.Done()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub dropped us: say goodbye and wait for the peer to answer
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
				if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err == nil {
					<-c.done
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Shutdown stops the loop and closes every client with a close frame. It
// waits for clients to acknowledge until ctx ends, then force-closes the
// remaining connections and returns ctx.Err().
func (h *Hub) Shutdown(ctx context.Context) error {
	h.closing.Store(true)
	h.closeOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, conn := range conns {
			conn.Close()
		}
		<-done
		return ctx.Err()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts messages lost to full queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
