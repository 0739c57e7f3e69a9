package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the write side of a subscriber connection. *websocket.Conn
// satisfies it; tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// textMessage mirrors websocket.TextMessage without importing the
// websocket package here.
const textMessage = 1

type Client struct {
	id            string
	conn          Conn
	send          chan []byte
	hub           *Hub
	sessionFilter string
	groupFilter   string
	closeOnce     sync.Once
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(textMessage, msg); err != nil {
			// Dead connection: deregister, drain, move on.
			c.hub.RemoveClient(c)
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// GroupResolver maps a group id to its member session ids. Supplied by
// the lifecycle layer so the hub stays free of storage concerns.
type GroupResolver func(groupID string) []string

// Hub is the filtered publish/subscribe fan-out. Delivery is
// fire-and-forget: a slow or dead subscriber is dropped, never waited on.
type Hub struct {
	mu                sync.RWMutex
	clients           map[*Client]bool
	resolver          GroupResolver
	heartbeatInterval time.Duration
	heartbeatOn       bool
}

func NewHub(heartbeatInterval time.Duration) *Hub {
	return &Hub{
		clients:           make(map[*Client]bool),
		heartbeatInterval: heartbeatInterval,
	}
}

// SetGroupResolver must be called before the first group-filtered
// subscriber connects.
func (h *Hub) SetGroupResolver(r GroupResolver) {
	h.mu.Lock()
	h.resolver = r
	h.mu.Unlock()
}

// AddClient registers a subscriber with an optional session or group
// filter and sends it a synthetic connected message. The heartbeat loop
// starts with the first subscriber.
func (h *Hub) AddClient(conn Conn, sessionFilter, groupFilter string) *Client {
	c := &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, 64),
		hub:           h,
		sessionFilter: sessionFilter,
		groupFilter:   groupFilter,
	}
	// Queue the greeting before the client becomes visible to Broadcast,
	// so it is always the first frame on the wire. The fresh buffered
	// channel cannot be full here.
	greeting, _ := json.Marshal(StreamMessage{
		Type:    MsgConnected,
		Payload: ConnectedPayload{ClientID: c.id, Timestamp: time.Now().UTC()},
	})
	c.send <- greeting

	go c.writePump()

	h.mu.Lock()
	h.clients[c] = true
	if !h.heartbeatOn {
		h.heartbeatOn = true
		go h.heartbeatLoop()
	}
	h.mu.Unlock()

	return c
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers one message to every subscriber whose filter admits
// originSessionID. An empty origin reaches all subscribers.
func (h *Hub) Broadcast(msgType MessageType, payload any, originSessionID string) {
	data, err := json.Marshal(StreamMessage{Type: msgType, Payload: payload})
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	resolver := h.resolver
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !shouldDeliver(c, originSessionID, resolver) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Subscriber can't keep up; drop it rather than stall.
			log.Printf("stream client %s too slow, disconnecting", c.id)
			h.RemoveClient(c)
		}
	}
}

func shouldDeliver(c *Client, origin string, resolver GroupResolver) bool {
	if c.sessionFilter == "" && c.groupFilter == "" {
		return true
	}
	if origin == "" {
		return true
	}
	if c.sessionFilter != "" && c.sessionFilter == origin {
		return true
	}
	if c.groupFilter != "" && resolver != nil {
		for _, id := range resolver(c.groupFilter) {
			if id == origin {
				return true
			}
		}
	}
	return false
}

// heartbeatLoop emits heartbeat messages to every subscriber. It exits,
// disabling itself, when the subscriber count reaches zero; the next
// AddClient restarts it.
func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.Lock()
		if len(h.clients) == 0 {
			h.heartbeatOn = false
			h.mu.Unlock()
			return
		}
		count := len(h.clients)
		h.mu.Unlock()

		h.Broadcast(MsgHeartbeat, HeartbeatPayload{
			Timestamp:   time.Now().UTC(),
			Connections: count,
		}, "")
	}
}

// Shutdown closes every subscriber connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}
