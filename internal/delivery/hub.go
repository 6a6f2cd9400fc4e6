package delivery

import (
	"fmt"
	"log"
	"sync"

	"livechat-server/internal/domain"
	"livechat-server/internal/router"
)

// wsWriter is the slice of the websocket connection the hub needs. Satisfied
// by *websocket.Conn; tests plug in fakes.
type wsWriter interface {
	WriteJSON(v interface{}) error
}

// Connection is one live websocket tab. Writes are serialized through a
// mutex: fiber's websocket connection does not tolerate concurrent writers.
type Connection struct {
	ID       string
	writer   wsWriter
	writeMux sync.Mutex
}

func NewConnection(id string, w wsWriter) *Connection {
	return &Connection{ID: id, writer: w}
}

func (c *Connection) writeJSON(v interface{}) (err error) {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()

	// A write to a torn-down websocket can panic inside the library. Surface
	// it as a write error so the hub prunes the connection.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write to connection %s panicked: %v", c.ID, r)
		}
	}()

	return c.writer.WriteJSON(v)
}

// Send emits a single event to this connection only.
func (c *Connection) Send(event string, payload interface{}) error {
	return c.writeJSON(domain.WSResponse{Event: event, Data: payload})
}

// Hub owns the channel-membership table: which live connections are
// subscribed to which channel keys. It is mutated on connect/subscribe/
// disconnect and read on every fan-out. Membership is the hub's concern
// only; who is an admin lives in the presence registry.
type Hub struct {
	mu          sync.RWMutex
	channels    map[string]map[string]*Connection // channel -> connID -> conn
	memberships map[string]map[string]struct{}    // connID -> set of channels
	conns       map[string]*Connection
}

func NewHub() *Hub {
	return &Hub{
		channels:    make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
		conns:       make(map[string]*Connection),
	}
}

// Register adds a connection to the hub without any channel membership.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID] = conn
	h.memberships[conn.ID] = make(map[string]struct{})
}

// Subscribe joins a registered connection to a channel. Idempotent.
func (h *Hub) Subscribe(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]*Connection)
	}
	h.channels[channel][conn.ID] = conn
	h.memberships[conn.ID][channel] = struct{}{}
}

// Remove drops a connection from the hub and every channel it joined.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *Hub) removeLocked(connID string) {
	for channel := range h.memberships[connID] {
		delete(h.channels[channel], connID)
		if len(h.channels[channel]) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(h.memberships, connID)
	delete(h.conns, connID)
}

// Emit applies one fan-out decision: the event is written once per
// connection in the union of the delivery's channels, skipping the excluded
// connection. Connections that fail to accept the write are pruned from the
// hub; nothing is retried. Returns the number of successful writes.
func (h *Hub) Emit(d router.Delivery) int {
	h.mu.RLock()
	targets := make(map[string]*Connection)
	for _, channel := range d.Channels {
		for connID, conn := range h.channels[channel] {
			if connID == d.ExcludeConnection {
				continue
			}
			targets[connID] = conn
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	response := domain.WSResponse{Event: d.Event, Data: d.Payload}

	sent := 0
	for connID, conn := range targets {
		if err := conn.writeJSON(response); err != nil {
			log.Printf("Failed to send %s to connection %s: %v", d.Event, connID, err)
			h.mu.Lock()
			h.removeLocked(connID)
			h.mu.Unlock()
			continue
		}
		sent++
	}
	return sent
}

// ConnectionCount reports the number of live connections, for monitoring.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
