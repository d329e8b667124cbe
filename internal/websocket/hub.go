package websocket

import (
	"context"
	"sync"

	"github.com/apex/log"
)

// Hub maintains active WebSocket connections and fans asset events out to
// the subscribers of each project.
type Hub struct {
	// Registered clients by project
	clients map[uint]map[*Client]bool

	// Events waiting to be delivered
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed once Run has returned
	done chan struct{}

	mu sync.RWMutex
}

// Message is one asset event.
type Message struct {
	ProjectID uint        `json:"projectId"`
	Type      string      `json:"type"` // module.moved, case.status_changed, steps.changed, ...
	Payload   interface{} `json:"payload"`
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.projectID] == nil {
				h.clients[client.projectID] = make(map[*Client]bool)
			}
			h.clients[client.projectID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[message.ProjectID] {
				select {
				case client.send <- message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client and closes its queue. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.projectID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.projectID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Publish queues an event for the subscribers of projectID. It never blocks;
// when the queue is full the event is dropped.
func (h *Hub) Publish(projectID uint, eventType string, payload interface{}) {
	select {
	case h.broadcast <- &Message{ProjectID: projectID, Type: eventType, Payload: payload}:
	default:
		log.WithFields(log.Fields{
			"project": projectID,
			"type":    eventType,
		}).Warn("event queue full, dropping event")
	}
}

// Subscribers returns the number of clients watching projectID.
func (h *Hub) Subscribers(projectID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// Register registers a new client connection. After the hub has stopped the
// client's queue is closed right away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister unregisters a client connection
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
