package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/matchpoint-server/internal/registry"
)

// Message types
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	RoomCode  string      `json:"room_code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and fans match events out to the
// clients subscribed to each room. A connection is subscribed to at most one
// room at a time: subscribing to a new room leaves the previous one.
type Hub struct {
	// Subscribed clients by room code
	rooms map[string]map[*Client]bool

	// Current room per client (the single-room invariant)
	clientRooms map[*Client]string

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound events to room subscribers
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	roomCode string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		clientRooms: make(map[*Client]string),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				h.leaveRoomLocked(client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			h.subscribeLocked(req.client, req.roomCode)
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "room_code", req.roomCode)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if h.clientRooms[req.client] == req.roomCode {
				h.leaveRoomLocked(req.client)
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "room_code", req.roomCode)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// subscribeLocked adds a client to a room, leaving its previous room first.
// Re-subscribing to the same room is a no-op. Caller holds h.mu.
func (h *Hub) subscribeLocked(client *Client, roomCode string) {
	if h.clientRooms[client] == roomCode {
		return
	}
	h.leaveRoomLocked(client)

	if _, ok := h.rooms[roomCode]; !ok {
		h.rooms[roomCode] = make(map[*Client]bool)
	}
	h.rooms[roomCode][client] = true
	h.clientRooms[client] = roomCode
}

// leaveRoomLocked removes a client from its current room, pruning the room
// entry when it empties. Caller holds h.mu.
func (h *Hub) leaveRoomLocked(client *Client) {
	roomCode, ok := h.clientRooms[client]
	if !ok {
		return
	}
	delete(h.clientRooms, client)
	if clients, ok := h.rooms[roomCode]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomCode)
		}
	}
}

// broadcastMessage sends a message to every client subscribed to its room.
// Delivery is best-effort: a client with a full buffer is skipped, and
// receivers reconcile through the snapshot endpoint.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	clients, ok := h.rooms[message.RoomCode]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastEvent queues a match event for every subscriber of a room
func (h *Hub) BroadcastEvent(roomCode, eventType string, data interface{}) {
	message := &Message{
		Type:      eventType,
		RoomCode:  registry.Normalize(roomCode),
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", eventType, "room_code", roomCode)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a room subscription
func (h *Hub) Subscribe(client *Client, roomCode string) {
	h.subscribe <- &subscriptionRequest{
		client:   client,
		roomCode: roomCode,
	}
}

// Unsubscribe removes a client from a room subscription
func (h *Hub) Unsubscribe(client *Client, roomCode string) {
	h.unsubscribe <- &subscriptionRequest{
		client:   client,
		roomCode: roomCode,
	}
}

// GetSubscriberCount returns the number of subscribers for a room
func (h *Hub) GetSubscriberCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.rooms[roomCode]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
