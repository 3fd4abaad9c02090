package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeLock is a soft, TTL-bound edit lock on a single node. It is advisory
// only: losing one degrades collision prevention, never correctness.
type NodeLock struct {
	NodeID   uuid.UUID `json:"node_id"`
	MapID    uuid.UUID `json:"map_id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	LockedAt time.Time `json:"locked_at"`
}
