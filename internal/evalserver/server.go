// Package evalserver hosts the per-run IPC endpoint. Each spawned host
// process attaches as one long-lived WebSocket client; task executors claim
// connections in arrival order and exchange typed protocol messages with
// the attached host.
package evalserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-eval-harness/internal/evalprotocol"
)

// Config configures the eval server
type Config struct {
	Host              string // defaults to 127.0.0.1
	Port              int    // 0 picks an ephemeral port
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Server is the per-run IPC transport: one listener, many host-process
// connections, a claim queue for executors and a broadcast hub for
// observers.
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	hub      *Hub

	mu        sync.Mutex
	clients   map[string]*Client
	unclaimed []*Client
	waiters   []chan *Client
}

// New creates a Server
func New(config Config) *Server {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 90 * time.Second
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub:     NewHub(),
		clients: make(map[string]*Client),
	}
}

// Hub returns the broadcast hub for relayed events
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and begins accepting connections. It returns
// once the listener is bound; serving continues until Stop or ctx cancel.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		return fmt.Errorf("binding eval server: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/events", s.hub.HandleSSE)
	s.server = &http.Server{Handler: mux}

	go s.hub.Run(ctx)
	go s.heartbeatLoop(ctx)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[evalserver] serve: %v", err)
		}
	}()

	log.Printf("[evalserver] listening on %s", ln.Addr())
	return nil
}

// Addr returns the WebSocket URL host processes should dial
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("ws://%s/ws", s.listener.Addr().String())
}

// Stop closes the listener and all connections
func (s *Server) Stop() error {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// HandleWebSocket handles an incoming host-process connection
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[evalserver] upgrade failed: %v", err)
		return
	}
	go s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	client := &Client{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		events:      make(chan evalprotocol.EnvelopeRaw, 256),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	if len(s.waiters) > 0 {
		waiter := s.waiters[0]
		s.waiters = s.waiters[1:]
		waiter <- client
	} else {
		s.unclaimed = append(s.unclaimed, client)
	}
	s.mu.Unlock()

	log.Printf("[evalserver] client %s connected", client.ID)

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, client.ID)
		for i, c := range s.unclaimed {
			if c.ID == client.ID {
				s.unclaimed = append(s.unclaimed[:i], s.unclaimed[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(client.events)
		log.Printf("[evalserver] client %s disconnected", client.ID)
	}()

	conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[evalserver] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))

		var env evalprotocol.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("[evalserver] invalid message from %s: %v", client.ID, err)
			continue
		}

		select {
		case client.events <- env:
		default:
			// Receipt order must be preserved for the claimant, so an
			// overflowing consumer loses the oldest semantics anyway; drop
			// and log rather than block the read loop.
			log.Printf("[evalserver] client %s event buffer full, dropping %s", client.ID, env.Type)
		}
	}
}

// AwaitClient blocks until an unclaimed host connection is available, or
// ctx expires. Connections are handed out in arrival order, each to exactly
// one caller.
func (s *Server) AwaitClient(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	if len(s.unclaimed) > 0 {
		client := s.unclaimed[0]
		s.unclaimed = s.unclaimed[1:]
		s.mu.Unlock()
		return client, nil
	}
	waiter := make(chan *Client, 1)
	s.waiters = append(s.waiters, waiter)
	s.mu.Unlock()

	select {
	case client := <-waiter:
		return client, nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == waiter {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		// The connection may have been handed to us while we were giving up
		select {
		case client := <-waiter:
			return client, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// Send delivers a client-issued command to one host connection. Each send
// is at-most-once; there are no retries.
func (s *Server) Send(clientID, msgType string, data interface{}) error {
	s.mu.Lock()
	client, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %s not connected", clientID)
	}

	frame, err := evalprotocol.MarshalCommand(msgType, data)
	if err != nil {
		return err
	}
	return client.WriteMessage(websocket.TextMessage, frame)
}

// ClientCount returns the number of attached host processes
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendHeartbeats()
		}
	}
}

func (s *Server) sendHeartbeats() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.writeControl(websocket.PingMessage, time.Now().Add(10*time.Second)); err != nil {
			log.Printf("[evalserver] ping to %s failed: %v", c.ID, err)
			c.Close() // read loop handles cleanup
		}
	}
}
