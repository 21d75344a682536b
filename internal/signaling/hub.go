package signaling

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks every currently connected Client, independent of whether it
// has completed join-room yet. It exists for introspection and orderly
// shutdown; peer/room lifecycle is owned by the Dispatcher, not the Hub.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log.Named("hub"), clients: make(map[string]*Client)}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ID())
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll closes every tracked connection, used during graceful shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
