package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeHistoryEntry is one immutable audit row recording a single mutation.
// For a cascading delete there is one entry, keyed on the deleted subtree
// root, whose Snapshot carries every removed node in root-first order;
// descendant deletions appear only in the change log.
type NodeHistoryEntry struct {
	ID          int64        `json:"id"`
	NodeID      uuid.UUID    `json:"node_id"`
	MapID       uuid.UUID    `json:"map_id"`
	UserID      *uuid.UUID   `json:"user_id,omitempty"`
	Username    string       `json:"username"`
	Action      ChangeAction `json:"action"`
	OldContent  *string      `json:"old_content,omitempty"`
	NewContent  *string      `json:"new_content,omitempty"`
	OldParentID *uuid.UUID   `json:"old_parent_id,omitempty"`
	NewParentID *uuid.UUID   `json:"new_parent_id,omitempty"`
	OldPosition *int         `json:"old_position,omitempty"`
	NewPosition *int         `json:"new_position,omitempty"`
	Snapshot    []Node       `json:"snapshot,omitempty"`
	MapVersion  int64        `json:"map_version"`
	CreatedAt   time.Time    `json:"created_at"`
}

// InverseChanges builds the field update that reverts an update entry,
// carrying only the fields whose old value was captured.
func (e NodeHistoryEntry) InverseChanges() NodeChanges {
	var changes NodeChanges
	if e.OldContent != nil {
		changes.Content = e.OldContent
	}
	if e.OldParentID != nil {
		changes.ParentID = e.OldParentID
	}
	if e.OldPosition != nil {
		changes.Position = e.OldPosition
	}
	return changes
}
