package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/mapsync/internal/db"
	"github.com/rpattn/mapsync/internal/domain"
)

const nodeColumns = `id, map_id, parent_id, content, position, style, collapsed, version,
	last_edited_by, last_edited_by_name, last_edited_at, created_at, updated_at`

// nodeRepository implements NodeRepository. It owns the version ledger: every
// mutation starts by bumping the map version inside the transaction, and the
// row lock that update takes serializes all concurrent mutations on the map.
type nodeRepository struct {
	conn *db.Connection
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(conn *db.Connection) NodeRepository {
	return &nodeRepository{conn: conn}
}

// Create creates a new node and stamps it with the freshly bumped map version.
func (r *nodeRepository) Create(ctx context.Context, params CreateNodeParams) (domain.Node, error) {
	var node domain.Node
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		version, err := bumpVersion(ctx, tx, params.MapID)
		if err != nil {
			return err
		}

		if params.ParentID != nil {
			if err := ensureParentInMap(ctx, tx, params.MapID, *params.ParentID); err != nil {
				return err
			}
		}

		id := uuid.New()
		if params.NodeID != nil {
			id = *params.NodeID
		}
		style := params.Style
		if len(style) == 0 {
			style = domain.DefaultStyle
		}

		var editedBy *uuid.UUID
		var editedAt *time.Time
		editedName := ""
		if params.Actor != nil {
			now := time.Now().UTC()
			editedBy = &params.Actor.UserID
			editedName = params.Actor.DisplayName
			editedAt = &now
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO nodes (id, map_id, parent_id, content, position, style, collapsed,
				version, last_edited_by, last_edited_by_name, last_edited_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING `+nodeColumns,
			id, params.MapID, params.ParentID, params.Content, params.Position, style,
			params.Collapsed, version, editedBy, editedName, editedAt,
		)
		node, err = scanNode(row)
		if err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}

		if err := appendChangeLog(ctx, tx, params.MapID, version, domain.ActionCreate, id); err != nil {
			return err
		}

		return insertHistory(ctx, tx, domain.NodeHistoryEntry{
			NodeID:      id,
			MapID:       params.MapID,
			Action:      domain.ActionCreate,
			NewContent:  &params.Content,
			NewParentID: params.ParentID,
			NewPosition: &params.Position,
			MapVersion:  version,
		}, params.Actor)
	})
	if err != nil {
		return domain.Node{}, err
	}
	return node, nil
}

// Update applies an allow-listed change set to one node. Empty change sets
// are rejected before any transaction is opened, so no version is consumed.
func (r *nodeRepository) Update(ctx context.Context, mapID, nodeID uuid.UUID, changes domain.NodeChanges, actor *domain.Actor) (domain.Node, error) {
	if changes.IsEmpty() {
		return domain.Node{}, domain.ErrEmptyChanges
	}

	var node domain.Node
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		version, err := bumpVersion(ctx, tx, mapID)
		if err != nil {
			return err
		}

		old, err := getNodeInMap(ctx, tx, mapID, nodeID)
		if err != nil {
			return err
		}

		if changes.ParentID != nil {
			if err := ensureParentInMap(ctx, tx, mapID, *changes.ParentID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		var sets []string
		var args []any
		set := func(column string, value any) {
			args = append(args, value)
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		}

		if changes.Content != nil {
			set("content", *changes.Content)
		}
		if changes.Position != nil {
			set("position", *changes.Position)
		}
		if len(changes.Style) > 0 && string(changes.Style) != "null" {
			set("style", changes.Style)
		}
		if changes.Collapsed != nil {
			set("collapsed", *changes.Collapsed)
		}
		if changes.ParentID != nil {
			set("parent_id", *changes.ParentID)
		}
		set("version", version)
		set("updated_at", now)
		if actor != nil {
			set("last_edited_by", actor.UserID)
			set("last_edited_by_name", actor.DisplayName)
			set("last_edited_at", now)
		}

		args = append(args, nodeID, mapID)
		query := fmt.Sprintf(
			"UPDATE nodes SET %s WHERE id = $%d AND map_id = $%d RETURNING %s",
			strings.Join(sets, ", "), len(args)-1, len(args), nodeColumns,
		)
		node, err = scanNode(tx.QueryRow(ctx, query, args...))
		if err != nil {
			return fmt.Errorf("failed to update node: %w", err)
		}

		if err := appendChangeLog(ctx, tx, mapID, version, domain.ActionUpdate, nodeID); err != nil {
			return err
		}

		entry := domain.NodeHistoryEntry{
			NodeID:      nodeID,
			MapID:       mapID,
			Action:      domain.ActionUpdate,
			OldContent:  &old.Content,
			NewContent:  &node.Content,
			OldParentID: old.ParentID,
			NewParentID: node.ParentID,
			OldPosition: &old.Position,
			NewPosition: &node.Position,
			MapVersion:  version,
		}
		return insertHistory(ctx, tx, entry, actor)
	})
	if err != nil {
		return domain.Node{}, err
	}
	return node, nil
}

// Delete removes a node and its whole descendant subtree. The subtree is
// collected breadth first with an explicit worklist, snapshotted in full for
// the history record, logged one change row per removed id at the same
// version, and removed children before parents.
func (r *nodeRepository) Delete(ctx context.Context, mapID, nodeID uuid.UUID, actor *domain.Actor) (DeleteResult, error) {
	var result DeleteResult
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		version, err := bumpVersion(ctx, tx, mapID)
		if err != nil {
			return err
		}

		root, err := getNodeInMap(ctx, tx, mapID, nodeID)
		if err != nil {
			return err
		}

		ids, err := collectSubtree(ctx, tx, nodeID)
		if err != nil {
			return err
		}

		snapshot, err := fetchNodesOrdered(ctx, tx, ids)
		if err != nil {
			return err
		}

		for _, id := range ids {
			if err := appendChangeLog(ctx, tx, mapID, version, domain.ActionDelete, id); err != nil {
				return err
			}
		}

		entry := domain.NodeHistoryEntry{
			NodeID:      nodeID,
			MapID:       mapID,
			Action:      domain.ActionDelete,
			OldContent:  &root.Content,
			OldParentID: root.ParentID,
			OldPosition: &root.Position,
			Snapshot:    snapshot,
			MapVersion:  version,
		}
		if err := insertHistory(ctx, tx, entry, actor); err != nil {
			return err
		}

		// Children before parents, to satisfy the self-referencing FK.
		for i := len(ids) - 1; i >= 0; i-- {
			if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, ids[i]); err != nil {
				return fmt.Errorf("failed to delete node %s: %w", ids[i], err)
			}
		}

		result = DeleteResult{MapID: mapID, DeletedIDs: ids, NewVersion: version}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// GetByID retrieves one node scoped to a map.
func (r *nodeRepository) GetByID(ctx context.Context, mapID, nodeID uuid.UUID) (domain.Node, error) {
	row := r.conn.Pool.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1 AND map_id = $2`, nodeID, mapID)
	node, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Node{}, domain.ErrNodeNotFound
	}
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// GetByIDs retrieves the current rows for the given ids. Ids that no longer
// exist are silently absent from the result.
func (r *nodeRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Node, error) {
	if len(ids) == 0 {
		return []domain.Node{}, nil
	}
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ANY($1) ORDER BY position`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes by ids: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// bumpVersion increments the map version and returns the new value. The
// UPDATE takes the map row lock, which serializes every concurrent mutation
// on the same map for the remainder of the transaction.
func bumpVersion(ctx context.Context, tx pgx.Tx, mapID uuid.UUID) (int64, error) {
	var version int64
	err := tx.QueryRow(ctx,
		`UPDATE maps SET version = version + 1, updated_at = now() WHERE id = $1 RETURNING version`,
		mapID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrMapNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump map version: %w", err)
	}
	return version, nil
}

func ensureParentInMap(ctx context.Context, tx pgx.Tx, mapID, parentID uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM nodes WHERE id = $1 AND map_id = $2)`,
		parentID, mapID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check parent node: %w", err)
	}
	if !exists {
		return domain.ErrParentNotFound
	}
	return nil
}

func getNodeInMap(ctx context.Context, tx pgx.Tx, mapID, nodeID uuid.UUID) (domain.Node, error) {
	node, err := scanNode(tx.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1 AND map_id = $2`, nodeID, mapID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Node{}, domain.ErrNodeNotFound
	}
	if err != nil {
		return domain.Node{}, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// collectSubtree walks the descendant set level by level with an explicit
// worklist, returning ids in collection order, root first.
func collectSubtree(ctx context.Context, tx pgx.Tx, rootID uuid.UUID) ([]uuid.UUID, error) {
	ids := []uuid.UUID{rootID}
	frontier := []uuid.UUID{rootID}
	for len(frontier) > 0 {
		rows, err := tx.Query(ctx, `SELECT id FROM nodes WHERE parent_id = ANY($1)`, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to collect subtree: %w", err)
		}
		var next []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan subtree id: %w", err)
			}
			next = append(next, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to collect subtree: %w", err)
		}
		ids = append(ids, next...)
		frontier = next
	}
	return ids, nil
}

// fetchNodesOrdered loads full rows for ids and returns them in the given
// order, so delete snapshots keep the root-first collection order.
func fetchNodesOrdered(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]domain.Node, error) {
	rows, err := tx.Query(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot subtree: %w", err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	ordered := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			ordered = append(ordered, n)
		}
	}
	return ordered, nil
}

func appendChangeLog(ctx context.Context, tx pgx.Tx, mapID uuid.UUID, version int64, action domain.ChangeAction, nodeID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO change_log (map_id, version, action, node_id) VALUES ($1, $2, $3, $4)`,
		mapID, version, action, nodeID)
	if err != nil {
		return fmt.Errorf("failed to append change log: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, entry domain.NodeHistoryEntry, actor *domain.Actor) error {
	var userID *uuid.UUID
	username := ""
	if actor != nil {
		userID = &actor.UserID
		username = actor.DisplayName
	}

	var snapshot []byte
	if len(entry.Snapshot) > 0 {
		data, err := json.Marshal(entry.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal history snapshot: %w", err)
		}
		snapshot = data
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO node_history (node_id, map_id, user_id, username, action,
			old_content, new_content, old_parent_id, new_parent_id,
			old_position, new_position, snapshot, map_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.NodeID, entry.MapID, userID, username, entry.Action,
		entry.OldContent, entry.NewContent, entry.OldParentID, entry.NewParentID,
		entry.OldPosition, entry.NewPosition, snapshot, entry.MapVersion)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (domain.Node, error) {
	var n domain.Node
	err := row.Scan(&n.ID, &n.MapID, &n.ParentID, &n.Content, &n.Position, &n.Style,
		&n.Collapsed, &n.Version, &n.LastEditedBy, &n.LastEditedByName, &n.LastEditedAt,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	return n, nil
}

func scanNodes(rows pgx.Rows) ([]domain.Node, error) {
	nodes := []domain.Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	return nodes, nil
}
