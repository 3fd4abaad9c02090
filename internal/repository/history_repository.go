package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/mapsync/internal/db"
	"github.com/rpattn/mapsync/internal/domain"
)

const historyColumns = `id, node_id, map_id, user_id, username, action,
	old_content, new_content, old_parent_id, new_parent_id,
	old_position, new_position, snapshot, map_version, created_at`

// historyRepository implements HistoryRepository
type historyRepository struct {
	conn *db.Connection
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(conn *db.Connection) HistoryRepository {
	return &historyRepository{conn: conn}
}

// GetByID retrieves a single history entry.
func (r *historyRepository) GetByID(ctx context.Context, id int64) (domain.NodeHistoryEntry, error) {
	entry, err := scanHistoryEntry(r.conn.Pool.QueryRow(ctx,
		`SELECT `+historyColumns+` FROM node_history WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NodeHistoryEntry{}, domain.ErrHistoryNotFound
	}
	if err != nil {
		return domain.NodeHistoryEntry{}, fmt.Errorf("failed to get history entry: %w", err)
	}
	return entry, nil
}

// ListByNode retrieves the newest history entries for one node.
func (r *historyRepository) ListByNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]domain.NodeHistoryEntry, error) {
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT `+historyColumns+` FROM node_history WHERE node_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list node history: %w", err)
	}
	defer rows.Close()
	return scanHistoryEntries(rows)
}

// ListByMap retrieves the newest history entries across a whole map.
func (r *historyRepository) ListByMap(ctx context.Context, mapID uuid.UUID, limit int) ([]domain.NodeHistoryEntry, error) {
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT `+historyColumns+` FROM node_history WHERE map_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		mapID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list map history: %w", err)
	}
	defer rows.Close()
	return scanHistoryEntries(rows)
}

func scanHistoryEntry(row rowScanner) (domain.NodeHistoryEntry, error) {
	var e domain.NodeHistoryEntry
	var snapshot []byte
	err := row.Scan(&e.ID, &e.NodeID, &e.MapID, &e.UserID, &e.Username, &e.Action,
		&e.OldContent, &e.NewContent, &e.OldParentID, &e.NewParentID,
		&e.OldPosition, &e.NewPosition, &snapshot, &e.MapVersion, &e.CreatedAt)
	if err != nil {
		return domain.NodeHistoryEntry{}, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
			return domain.NodeHistoryEntry{}, fmt.Errorf("failed to decode history snapshot: %w", err)
		}
	}
	return e, nil
}

func scanHistoryEntries(rows pgx.Rows) ([]domain.NodeHistoryEntry, error) {
	entries := []domain.NodeHistoryEntry{}
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history entries: %w", err)
	}
	return entries, nil
}
