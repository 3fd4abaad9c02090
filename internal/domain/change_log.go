package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeAction enumerates the mutation kinds recorded in the change log.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// ChangeLogEntry is one append-only row recording which node changed at which
// map version. A cascading delete emits one row per removed node, all carrying
// the same version.
type ChangeLogEntry struct {
	ID        int64        `json:"id"`
	MapID     uuid.UUID    `json:"map_id"`
	Version   int64        `json:"version"`
	Action    ChangeAction `json:"action"`
	NodeID    uuid.UUID    `json:"node_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReduceChanges folds an ordered run of change log entries into the set of
// nodes that still exist and changed, and the set that ended up deleted.
// Later entries override earlier ones, so a node created and deleted within
// the window appears only in the deleted set. Both slices preserve the order
// in which node ids first reached their final state.
func ReduceChanges(entries []ChangeLogEntry) (changed []uuid.UUID, deleted []uuid.UUID) {
	changedSet := make(map[uuid.UUID]bool)
	deletedSet := make(map[uuid.UUID]bool)

	for _, e := range entries {
		if e.Action == ActionDelete {
			deletedSet[e.NodeID] = true
			delete(changedSet, e.NodeID)
		} else {
			changedSet[e.NodeID] = true
			delete(deletedSet, e.NodeID)
		}
	}

	changed = make([]uuid.UUID, 0, len(changedSet))
	deleted = make([]uuid.UUID, 0, len(deletedSet))
	seenChanged := make(map[uuid.UUID]bool, len(changedSet))
	seenDeleted := make(map[uuid.UUID]bool, len(deletedSet))
	for _, e := range entries {
		if changedSet[e.NodeID] && !seenChanged[e.NodeID] {
			seenChanged[e.NodeID] = true
			changed = append(changed, e.NodeID)
		}
		if deletedSet[e.NodeID] && !seenDeleted[e.NodeID] {
			seenDeleted[e.NodeID] = true
			deleted = append(deleted, e.NodeID)
		}
	}
	return changed, deleted
}
