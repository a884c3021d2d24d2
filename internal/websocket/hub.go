package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/xelth-com/mixstationgo/internal/models"
)

// Hub maintains the set of connected status listeners (operator panels)
// and pushes a session snapshot to all of them after every committed
// update, replacing UI status polling.
type Hub struct {
	clients map[string]*Client // ClientID -> Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// A panel reconnecting replaces its old connection
			if old, ok := h.clients[client.ID]; ok {
				close(old.send)
				delete(h.clients, client.ID)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("🖥️ Status listener connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Status listener disconnected: %s", client.ID)
			}
			h.mu.Unlock()
		}
	}
}

// statusMessage is the broadcast envelope.
type statusMessage struct {
	Type    string          `json:"type"`
	Session *models.Session `json:"session"`
}

// BroadcastSession pushes a session snapshot to every listener. Slow or
// dead clients are skipped rather than blocking the store update path.
func (h *Hub) BroadcastSession(s *models.Session) {
	raw, err := json.Marshal(statusMessage{Type: "session_status", Session: s})
	if err != nil {
		log.Printf("Error marshaling status broadcast: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- raw:
		default:
			// Buffer full or client dead
		}
	}
}
