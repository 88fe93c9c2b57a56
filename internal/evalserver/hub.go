package evalserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hochfrequenz/claude-eval-harness/internal/evalprotocol"
)

// Hub fans relayed task events out to observers. Executors publish the
// lifecycle events worth observing (high-frequency deltas are excluded at
// the relay); subscribers are in-process channels or SSE connections.
type Hub struct {
	subscribers map[chan evalprotocol.Envelope]bool
	broadcast   chan evalprotocol.Envelope
	register    chan chan evalprotocol.Envelope
	unregister  chan chan evalprotocol.Envelope
	mu          sync.RWMutex
}

// NewHub creates a new event hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan evalprotocol.Envelope]bool),
		broadcast:   make(chan evalprotocol.Envelope, 64),
		register:    make(chan chan evalprotocol.Envelope),
		unregister:  make(chan chan evalprotocol.Envelope),
	}
}

// Run starts the hub loop; returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers {
				select {
				case sub <- event:
				default:
					// Slow observer; skip rather than stall the relay
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Subscribe registers an observer channel
func (h *Hub) Subscribe() chan evalprotocol.Envelope {
	sub := make(chan evalprotocol.Envelope, 64)
	h.register <- sub
	return sub
}

// Unsubscribe removes an observer channel and closes it
func (h *Hub) Unsubscribe(sub chan evalprotocol.Envelope) {
	h.unregister <- sub
}

// Broadcast publishes an event to all observers
func (h *Hub) Broadcast(event evalprotocol.Envelope) {
	h.broadcast <- event
}

// HandleSSE streams broadcast events to an HTTP client as server-sent events
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.Subscribe()
	defer func() {
		// The hub may already be shut down; drain-safe unregister
		select {
		case h.unregister <- sub:
		case <-r.Context().Done():
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
