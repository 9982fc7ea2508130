// Package hub fans frames out to connected clients: unicast, per-room groups, and everyone.
// Every send is a non-blocking enqueue; a client whose outbox is full is dropped.
package hub

import (
	"sync"

	"go.uber.org/zap"
)

const DefaultOutboxSize = 64

// Client is the hub side of one connection. The transport drains Outbox until it closes.
type Client struct {
	id string

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func (c *Client) ID() string { return c.id }

// Outbox is closed when the client is unregistered or dropped.
func (c *Client) Outbox() <-chan []byte { return c.out }

// offer reports false when the outbox is full. Closed clients swallow frames.
func (c *Client) offer(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.out)
	return true
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client

	outboxSize int
	log        *zap.Logger
}

type Option func(*Hub)

func WithOutboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.outboxSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]*Client),
		outboxSize: DefaultOutboxSize,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client. Registering an id twice replaces and closes the old client.
func (h *Hub) Register(connID string) *Client {
	c := &Client{id: connID, out: make(chan []byte, h.outboxSize)}
	h.mu.Lock()
	old := h.clients[connID]
	h.clients[connID] = c
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	return c
}

// Unregister removes the client from every group and closes its outbox.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c := h.clients[connID]
	delete(h.clients, connID)
	for name, members := range h.groups {
		if _, ok := members[connID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.groups, name)
			}
		}
	}
	h.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (h *Hub) Subscribe(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[connID] = c
}

func (h *Hub) Unsubscribe(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[group]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) Send(connID string, frame []byte) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c != nil {
		h.deliver(c, frame)
	}
}

// Publish sends frame to every member of group.
func (h *Hub) Publish(group string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[group] {
		h.deliver(c, frame)
	}
}

// Broadcast sends frame to every registered client.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, frame)
	}
}

func (h *Hub) deliver(c *Client, frame []byte) {
	if c.offer(frame) {
		return
	}
	if c.close() {
		h.log.Warn("hub_drop_slow_client", zap.String("conn_id", c.id), zap.Int("outbox", h.outboxSize))
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Members returns the connection ids subscribed to group.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		out = append(out, id)
	}
	return out
}
