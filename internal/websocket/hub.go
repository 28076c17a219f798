package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/drumscribe/api/internal/bus"
	"github.com/drumscribe/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans progress events out to the WebSocket connections watching each
// job. Events arrive from the cross-process bus; the hub only handles
// in-process delivery. A connection that subscribes after an event was
// published never sees it, so clients reconcile by querying job status on
// connect.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu sync.RWMutex
}

type broadcastMessage struct {
	jobID   string
	payload []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.jobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.payload:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ConsumeBus subscribes to the all-jobs progress topic and forwards every
// event to the connections watching its job. It blocks until ctx is done.
func (h *Hub) ConsumeBus(ctx context.Context, b *bus.Bus) {
	events, cancel := b.SubscribeAll(ctx)
	defer cancel()

	for ev := range events {
		switch ev.Status {
		case model.JobStatusCompleted:
			h.send(ev.JobID, model.WSProgressMessage{
				Type:     model.WSMessageTypeProgress,
				JobID:    ev.JobID,
				Progress: ev.Progress,
				Status:   ev.Status,
				Stage:    ev.Stage,
			})
			h.send(ev.JobID, model.WSCompleteMessage{
				Type:   model.WSMessageTypeComplete,
				JobID:  ev.JobID,
				Result: ev.Summary,
			})
		case model.JobStatusError:
			h.send(ev.JobID, model.WSErrorMessage{
				Type:  model.WSMessageTypeError,
				JobID: ev.JobID,
				Error: model.WSError{
					Code:    "PROCESSING_FAILED",
					Message: ev.Message,
				},
			})
		default:
			h.send(ev.JobID, model.WSProgressMessage{
				Type:     model.WSMessageTypeProgress,
				JobID:    ev.JobID,
				Progress: ev.Progress,
				Status:   ev.Status,
				Stage:    ev.Stage,
				Message:  ev.Message,
			})
		}
	}
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}
	h.broadcast <- &broadcastMessage{jobID: jobID, payload: data}
}

// HandleConnection serves one WebSocket connection watching a job. The
// reader loop answers ping control messages with pong.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.register <- client
	defer func() { h.unregister <- client }()

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.Send <- pong
		}
	}
}
