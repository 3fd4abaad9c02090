package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rpattn/mapsync/internal/domain"
)

// CreateNodeParams carries everything needed to create one node. NodeID is
// optional; when set (rollback restores, client-chosen ids) the node keeps
// that identity. ParentID is nil only for root nodes, which are created by
// map creation and snapshot restores.
type CreateNodeParams struct {
	MapID     uuid.UUID
	ParentID  *uuid.UUID
	Content   string
	Position  int
	Style     json.RawMessage
	Collapsed bool
	NodeID    *uuid.UUID
	Actor     *domain.Actor
}

// DeleteResult reports a subtree deletion: every removed node id in
// collection order (root first) and the single map version the whole
// cascade was stamped with.
type DeleteResult struct {
	MapID      uuid.UUID   `json:"map_id"`
	DeletedIDs []uuid.UUID `json:"deleted_ids"`
	NewVersion int64       `json:"version"`
}

// MapRepository defines the interface for map level operations, including the
// change log reads the sync resolver depends on.
type MapRepository interface {
	Create(ctx context.Context, name string, ownerID, teamID *uuid.UUID) (domain.Map, domain.Node, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Map, error)
	GetWithNodes(ctx context.Context, id uuid.UUID) (domain.Map, []domain.Node, error)
	List(ctx context.Context) ([]domain.Map, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CurrentVersion(ctx context.Context, id uuid.UUID) (int64, error)
	ChangesSince(ctx context.Context, mapID uuid.UUID, sinceVersion int64) ([]domain.ChangeLogEntry, error)
}

// NodeRepository is the node store. Every mutating operation runs as one
// transaction: version bump, row mutation(s), change log append(s) and
// history append commit together or not at all.
type NodeRepository interface {
	Create(ctx context.Context, params CreateNodeParams) (domain.Node, error)
	Update(ctx context.Context, mapID, nodeID uuid.UUID, changes domain.NodeChanges, actor *domain.Actor) (domain.Node, error)
	Delete(ctx context.Context, mapID, nodeID uuid.UUID, actor *domain.Actor) (DeleteResult, error)
	GetByID(ctx context.Context, mapID, nodeID uuid.UUID) (domain.Node, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Node, error)
}

// HistoryRepository reads the append-only audit trail. Rows are written by
// the node store inside its mutation transactions and never updated.
type HistoryRepository interface {
	GetByID(ctx context.Context, id int64) (domain.NodeHistoryEntry, error)
	ListByNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]domain.NodeHistoryEntry, error)
	ListByMap(ctx context.Context, mapID uuid.UUID, limit int) ([]domain.NodeHistoryEntry, error)
}
