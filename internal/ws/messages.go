package ws

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rpattn/mapsync/internal/domain"
)

// Inbound message kinds. The set is closed; anything else produces an
// "unknown message type" error back to the sender.
const (
	MsgNodeCreate = "node:create"
	MsgNodeUpdate = "node:update"
	MsgNodeDelete = "node:delete"
	MsgNodeMove   = "node:move"
	MsgNodeLock   = "node:lock"
	MsgNodeUnlock = "node:unlock"
)

// Outbound-only message kinds.
const (
	MsgConnected      = "connected"
	MsgAck            = "ack"
	MsgError          = "error"
	MsgPeerDisconnect = "peer:disconnect"
)

// Close codes sent before any message exchange when the socket cannot join.
const (
	CloseAuthMissing  = 4401
	CloseAccessDenied = 4403
)

// Envelope is the wire frame for every inbound message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CreatePayload is the body of a node:create message.
type CreatePayload struct {
	ParentID uuid.UUID       `json:"parent_id"`
	Content  string          `json:"content"`
	Position int             `json:"position"`
	Style    json.RawMessage `json:"style,omitempty"`
	ID       *uuid.UUID      `json:"id,omitempty"`
}

// UpdatePayload is the body of a node:update message; Changes is validated
// against the field allow-list before any write.
type UpdatePayload struct {
	ID      uuid.UUID       `json:"id"`
	Changes json.RawMessage `json:"changes"`
}

// DeletePayload is the body of a node:delete message.
type DeletePayload struct {
	ID uuid.UUID `json:"id"`
}

// MovePayload is the body of a node:move message.
type MovePayload struct {
	ID       uuid.UUID `json:"id"`
	ParentID uuid.UUID `json:"parent_id"`
	Position int       `json:"position"`
}

// LockPayload is the body of node:lock and node:unlock messages.
type LockPayload struct {
	ID uuid.UUID `json:"id"`
}

type connectedMessage struct {
	Type     string            `json:"type"`
	ClientID uuid.UUID         `json:"client_id"`
	Version  int64             `json:"version"`
	UserID   uuid.UUID         `json:"user_id"`
	Locks    []domain.NodeLock `json:"locks"`
}

type ackMessage struct {
	Type         string `json:"type"`
	OriginalType string `json:"original_type"`
	Data         any    `json:"data"`
	Version      int64  `json:"version"`
}

type broadcastMessage struct {
	Type     string    `json:"type"`
	Data     any       `json:"data"`
	Version  int64     `json:"version"`
	ClientID uuid.UUID `json:"client_id"`
}

type lockBroadcastMessage struct {
	Type     string    `json:"type"`
	Data     any       `json:"data"`
	ClientID uuid.UUID `json:"client_id"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type peerDisconnectMessage struct {
	Type     string    `json:"type"`
	ClientID uuid.UUID `json:"client_id"`
}

type unlockData struct {
	NodeID uuid.UUID `json:"node_id"`
	UserID uuid.UUID `json:"user_id"`
}
