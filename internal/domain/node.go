package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Node is one tree element within a map. ParentID is nil only for the map's
// single root node; every other node's parent lives in the same map.
type Node struct {
	ID               uuid.UUID       `json:"id"`
	MapID            uuid.UUID       `json:"map_id"`
	ParentID         *uuid.UUID      `json:"parent_id"`
	Content          string          `json:"content"`
	Position         int             `json:"position"`
	Style            json.RawMessage `json:"style"`
	Collapsed        bool            `json:"collapsed"`
	Version          int64           `json:"version"`
	LastEditedBy     *uuid.UUID      `json:"last_edited_by,omitempty"`
	LastEditedByName string          `json:"last_edited_by_name"`
	LastEditedAt     *time.Time      `json:"last_edited_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DefaultStyle is the opaque style blob assigned when a node is created
// without one.
var DefaultStyle = json.RawMessage(`{}`)
