package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // thin terminal clients, no browser origin to check
	},
}

// Client is one live WebSocket session. The hub owns it from Register to
// Unregister; outbound frames go through the buffered send channel so a
// slow connection never blocks event fan-out.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex // protects closed and serializes close with Send
	closed bool
}

// Send queues a frame for delivery. Delivery is best effort: frames to a
// closed connection are silently dropped, and a connection whose buffer is
// full loses the frame rather than stalling the sender.
func (c *Client) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- frame:
		atomic.AddInt64(&metrics.Delivered, 1)
	default:
		atomic.AddInt64(&metrics.Dropped, 1)
	}
}

// close shuts the send path exactly once. Safe to call repeatedly.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump pumps queued frames to the connection and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds inbound frames to the hub until the connection dies, then
// deregisters it. A frame that fails to parse is logged and dropped; the
// connection itself stays up.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
		log.Printf("[WebSocket] connection %s closed", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WebSocket] read error on %s: %v", c.id, err)
			}
			return
		}
		if err := h.HandleClientMessage(context.Background(), c, payload); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[WebSocket] %s: dropping message: %v", c.id, err)
		}
	}
}

// Server hosts the WebSocket endpoint plus health and readiness checks.
type Server struct {
	hub        *Hub
	httpServer *http.Server
}

func NewServer(hub *Hub, addr string) *Server {
	s := &Server{hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves in the background; fatal unless shut down deliberately.
func (s *Server) Start() {
	go func() {
		log.Printf("[WebSocket] server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[WebSocket] server error: %v", err)
		}
	}()
}

// Shutdown stops accepting new connections and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] upgrade error from %s: %v", r.RemoteAddr, err)
		return
	}

	client := s.hub.Register(conn)
	log.Printf("[WebSocket] connection %s opened from %s. Total clients: %d",
		client.id, r.RemoteAddr, s.hub.ClientCount())

	go client.writePump()
	client.readPump(s.hub)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"service": "hub",
		"clients": s.hub.ClientCount(),
		"uptime":  time.Since(metrics.StartTime).String(),
	})
}

// ReadinessStatus is the /ready response body.
type ReadinessStatus struct {
	Ready      bool   `json:"ready"`
	KafkaReady bool   `json:"kafka_ready"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := ReadinessStatus{
		KafkaReady: atomic.LoadInt32(&kafkaReady) == 1,
	}
	status.Ready = status.KafkaReady
	if !status.Ready {
		status.Message = "waiting for kafka"
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
