// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/neochat/internal/store"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// sendBuffer is the per-connection queue of pending frames.
	sendBuffer = 256

	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = (wsPongWait * 9) / 10
	wsReadLimit    = 4096
)

// ============================================================================
// HUB
// ============================================================================

// Hub fans store events out to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

// wsClient is one websocket connection with its outbound queue.
type wsClient struct {
	id       string
	username string
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
}

// NewHub creates a hub. An empty allowedOrigins accepts only same-host
// upgrades.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{clients: make(map[string]*wsClient)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows requests without an Origin header, same-host origins,
// and anything in allowed. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Publish encodes ev and queues it for every client. Slow clients whose
// queue is full are dropped.
func (h *Hub) Publish(ev store.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("WS_ENCODE_FAILED | type=%s error=%v", ev.Type, err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	var slow []*wsClient

	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("WS_CLIENT_SLOW | id=%s user=%s", c.id, c.username)
		h.unregister(c)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and starts the client pumps.
// Authentication happens in middleware before this handler runs.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS_UPGRADE_FAILED | client_ip=%s error=%v", GetClientIP(r), err)
		return
	}

	c := &wsClient{
		id:       uuid.NewString(),
		username: usernameFrom(r.Context()),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	log.Printf("WS_CONNECTED | id=%s user=%s total=%d", c.id, c.username, len(h.clients))
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.once.Do(func() { close(c.send) })
	if ok {
		log.Printf("WS_DISCONNECTED | id=%s user=%s", c.id, c.username)
	}
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WS_READ_ERROR | id=%s error=%v", c.id, err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
