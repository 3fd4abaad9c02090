// Package history implements rollback of audited mutations. Every rollback
// replays the inverse of the recorded action through the normal node store,
// so the reversal is itself versioned, logged and auditable.
package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/domain"
	"github.com/rpattn/mapsync/internal/repository"
)

// RollbackResult reports a completed rollback. Exactly one of Node, Deleted
// or Restored is populated depending on the reversed action.
type RollbackResult struct {
	Status   string                   `json:"status"`
	Action   string                   `json:"action"`
	Version  int64                    `json:"version"`
	Node     *domain.Node             `json:"node,omitempty"`
	Deleted  *repository.DeleteResult `json:"deleted,omitempty"`
	Restored []domain.Node            `json:"restored,omitempty"`
}

// Service applies inverse operations for history entries.
type Service struct {
	nodes   repository.NodeRepository
	entries repository.HistoryRepository
	logger  *zap.Logger
}

// NewService creates a rollback service.
func NewService(nodes repository.NodeRepository, entries repository.HistoryRepository, logger *zap.Logger) *Service {
	return &Service{nodes: nodes, entries: entries, logger: logger}
}

// Rollback reverses one history entry scoped to mapID. When expectNodeID is
// set the entry must also belong to that node. Failures are surfaced as a
// typed RollbackError, never a partial silent success.
func (s *Service) Rollback(ctx context.Context, historyID int64, mapID uuid.UUID, actor domain.Actor, expectNodeID *uuid.UUID) (RollbackResult, error) {
	entry, err := s.entries.GetByID(ctx, historyID)
	if err != nil {
		return RollbackResult{}, &domain.RollbackError{HistoryID: historyID, Reason: "entry lookup failed", Err: err}
	}
	if entry.MapID != mapID {
		return RollbackResult{}, &domain.RollbackError{HistoryID: historyID, Reason: fmt.Sprintf("entry belongs to map %s", entry.MapID)}
	}
	if expectNodeID != nil && entry.NodeID != *expectNodeID {
		return RollbackResult{}, &domain.RollbackError{HistoryID: historyID, Reason: fmt.Sprintf("entry belongs to node %s", entry.NodeID)}
	}

	switch entry.Action {
	case domain.ActionUpdate:
		return s.reverseUpdate(ctx, entry, actor)
	case domain.ActionCreate:
		return s.reverseCreate(ctx, entry, actor)
	case domain.ActionDelete:
		return s.reverseDelete(ctx, entry, actor)
	default:
		return RollbackResult{}, &domain.RollbackError{HistoryID: historyID, Reason: fmt.Sprintf("unknown action %q", entry.Action)}
	}
}

// reverseUpdate re-applies only the fields whose old value was captured.
func (s *Service) reverseUpdate(ctx context.Context, entry domain.NodeHistoryEntry, actor domain.Actor) (RollbackResult, error) {
	changes := entry.InverseChanges()
	if changes.IsEmpty() {
		return RollbackResult{}, &domain.RollbackError{HistoryID: entry.ID, Reason: "entry captured no reversible fields"}
	}

	node, err := s.nodes.Update(ctx, entry.MapID, entry.NodeID, changes, &actor)
	if err != nil {
		return RollbackResult{}, &domain.RollbackError{HistoryID: entry.ID, Reason: "reverse update failed", Err: err}
	}

	s.logger.Info("rolled back update",
		zap.Int64("history_id", entry.ID),
		zap.String("node_id", entry.NodeID.String()),
		zap.Int64("version", node.Version))
	return RollbackResult{Status: "ok", Action: "update_reversed", Version: node.Version, Node: &node}, nil
}

// reverseCreate deletes the created node; per store semantics this cascades
// to any children it has grown since.
func (s *Service) reverseCreate(ctx context.Context, entry domain.NodeHistoryEntry, actor domain.Actor) (RollbackResult, error) {
	result, err := s.nodes.Delete(ctx, entry.MapID, entry.NodeID, &actor)
	if err != nil {
		return RollbackResult{}, &domain.RollbackError{HistoryID: entry.ID, Reason: "reverse create failed", Err: err}
	}

	s.logger.Info("rolled back create",
		zap.Int64("history_id", entry.ID),
		zap.String("node_id", entry.NodeID.String()),
		zap.Int("deleted", len(result.DeletedIDs)))
	return RollbackResult{Status: "ok", Action: "create_reversed", Version: result.NewVersion, Deleted: &result}, nil
}

// reverseDelete recreates every node in the captured snapshot with its
// original id, root first, so parents exist before their children.
func (s *Service) reverseDelete(ctx context.Context, entry domain.NodeHistoryEntry, actor domain.Actor) (RollbackResult, error) {
	if len(entry.Snapshot) == 0 {
		return RollbackResult{}, &domain.RollbackError{HistoryID: entry.ID, Reason: "snapshot missing", Err: domain.ErrSnapshotMissing}
	}

	restored := make([]domain.Node, 0, len(entry.Snapshot))
	var version int64
	for _, snap := range entry.Snapshot {
		id := snap.ID
		node, err := s.nodes.Create(ctx, repository.CreateNodeParams{
			MapID:     snap.MapID,
			ParentID:  snap.ParentID,
			Content:   snap.Content,
			Position:  snap.Position,
			Style:     snap.Style,
			Collapsed: snap.Collapsed,
			NodeID:    &id,
			Actor:     &actor,
		})
		if err != nil {
			return RollbackResult{}, &domain.RollbackError{
				HistoryID: entry.ID,
				Reason:    fmt.Sprintf("restore of node %s failed", snap.ID),
				Err:       err,
			}
		}
		restored = append(restored, node)
		version = node.Version
	}

	s.logger.Info("rolled back delete",
		zap.Int64("history_id", entry.ID),
		zap.String("node_id", entry.NodeID.String()),
		zap.Int("restored", len(restored)))
	return RollbackResult{Status: "ok", Action: "delete_reversed", Version: version, Restored: restored}, nil
}
