package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub tracks results-page subscribers. Each client watches a single
// question; tally updates are fanned out only to that question's watchers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastRequest
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type broadcastRequest struct {
	questionID uint
	data       []byte
}

// Message is the envelope sent to subscribers.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastRequest),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register, unregister and broadcast requests. It loops
// forever and is meant to run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Results watcher connected for question %d (total: %d)", client.questionID, h.clientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("Results watcher disconnected for question %d (total: %d)", client.questionID, h.clientCount())

		case req := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.questionID != req.questionID {
					continue
				}
				select {
				case client.send <- req.data:
				default:
					// Slow consumer; drop it rather than block the hub.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToQuestion sends a typed message to every watcher of a question.
func (h *Hub) BroadcastToQuestion(questionID uint, messageType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: messageType, Data: payload})
	if err != nil {
		log.Printf("Error marshalling ws message: %v", err)
		return
	}
	h.broadcast <- broadcastRequest{questionID: questionID, data: data}
}
