package domain

import "github.com/google/uuid"

// SyncDelta is the answer to "what changed since version N": the current map
// version, full rows for nodes that changed and still exist, ids of nodes
// that ended up deleted, and the live lock snapshot.
type SyncDelta struct {
	Version int64       `json:"version"`
	Changed []Node      `json:"changed"`
	Deleted []uuid.UUID `json:"deleted"`
	Locks   []NodeLock  `json:"locks"`
}
