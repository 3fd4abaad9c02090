package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Room groups the live connections viewing one map. Its version counter is a
// transport-level sequence for ordering broadcasts within the session; it is
// independent of the persisted map version and resets when the room is torn
// down and recreated.
type Room struct {
	MapID   uuid.UUID
	version int64
	clients map[uuid.UUID]*Client
}

// Hub is the room registry. All room and membership state is guarded by one
// mutex; sends happen outside it through each client's buffered channel.
type Hub struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]*Room
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]*Room),
		logger: logger,
	}
}

// Join adds a connection to the map's room, creating the room on first
// member with its broadcast counter mirroring the map's persisted version.
func (h *Hub) Join(mapID uuid.UUID, client *Client, initialVersion int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[mapID]
	if !ok {
		room = &Room{
			MapID:   mapID,
			version: initialVersion,
			clients: make(map[uuid.UUID]*Client),
		}
		h.rooms[mapID] = room
	}
	room.clients[client.ID] = client

	h.logger.Info("client joined room",
		zap.String("map_id", mapID.String()),
		zap.String("client_id", client.ID.String()),
		zap.Int("room_size", len(room.clients)))
}

// Leave removes a connection from the map's room, tearing down the room when
// it drains. Leaving twice, or leaving an unknown room, is a harmless no-op.
func (h *Hub) Leave(mapID, clientID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[mapID]
	if !ok {
		return false
	}
	if _, ok := room.clients[clientID]; !ok {
		return false
	}
	delete(room.clients, clientID)
	if len(room.clients) == 0 {
		delete(h.rooms, mapID)
	}

	h.logger.Info("client left room",
		zap.String("map_id", mapID.String()),
		zap.String("client_id", clientID.String()),
		zap.Int("room_size", len(room.clients)))
	return true
}

// NextVersion increments and returns the room's broadcast counter.
func (h *Hub) NextVersion(mapID uuid.UUID) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[mapID]
	if !ok {
		return 0
	}
	room.version++
	return room.version
}

// UserPresent reports whether the user still has any live connection in the
// map's room.
func (h *Hub) UserPresent(mapID, userID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[mapID]
	if !ok {
		return false
	}
	for _, c := range room.clients {
		if c.Actor.UserID == userID {
			return true
		}
	}
	return false
}

// RoomSize reports the number of live connections in a map's room.
func (h *Hub) RoomSize(mapID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[mapID]
	if !ok {
		return 0
	}
	return len(room.clients)
}

// Broadcast sends a message to every connection in the room except exclude
// (uuid.Nil excludes nobody). A peer whose send buffer is gone or full is
// silently dropped from the room; the failure is never surfaced to the
// sender.
func (h *Hub) Broadcast(mapID uuid.UUID, message any, exclude uuid.UUID) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[mapID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*Client, 0, len(room.clients))
	for id, c := range room.clients {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Warn("dropping unresponsive client",
				zap.String("map_id", mapID.String()),
				zap.String("client_id", c.ID.String()))
			h.Leave(mapID, c.ID)
			c.Close()
		}
	}
}

// Send delivers a message to one connection.
func (h *Hub) Send(client *Client, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if !client.enqueue(data) {
		h.logger.Warn("failed to send to client", zap.String("client_id", client.ID.String()))
	}
}
