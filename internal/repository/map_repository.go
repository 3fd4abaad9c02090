package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/mapsync/internal/db"
	"github.com/rpattn/mapsync/internal/domain"
)

const mapColumns = `id, name, version, owner_id, team_id, created_at, updated_at`

// mapRepository implements MapRepository
type mapRepository struct {
	conn *db.Connection
}

// NewMapRepository creates a new map repository
func NewMapRepository(conn *db.Connection) MapRepository {
	return &mapRepository{conn: conn}
}

// Create creates a map at version 0 together with its root node, whose
// content is the map name, in one transaction.
func (r *mapRepository) Create(ctx context.Context, name string, ownerID, teamID *uuid.UUID) (domain.Map, domain.Node, error) {
	var m domain.Map
	var root domain.Node
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		mapID := uuid.New()
		row := tx.QueryRow(ctx, `
			INSERT INTO maps (id, name, version, owner_id, team_id)
			VALUES ($1, $2, 0, $3, $4)
			RETURNING `+mapColumns, mapID, name, ownerID, teamID)
		var err error
		m, err = scanMap(row)
		if err != nil {
			return fmt.Errorf("failed to insert map: %w", err)
		}

		rootRow := tx.QueryRow(ctx, `
			INSERT INTO nodes (id, map_id, parent_id, content, position, version)
			VALUES ($1, $2, NULL, $3, 0, 0)
			RETURNING `+nodeColumns, uuid.New(), mapID, name)
		root, err = scanNode(rootRow)
		if err != nil {
			return fmt.Errorf("failed to insert root node: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Map{}, domain.Node{}, err
	}
	return m, root, nil
}

// GetByID retrieves a map by ID
func (r *mapRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Map, error) {
	m, err := scanMap(r.conn.Pool.QueryRow(ctx,
		`SELECT `+mapColumns+` FROM maps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Map{}, domain.ErrMapNotFound
	}
	if err != nil {
		return domain.Map{}, fmt.Errorf("failed to get map: %w", err)
	}
	return m, nil
}

// GetWithNodes retrieves a map together with all of its nodes ordered by
// position, so clients render siblings in a stable order.
func (r *mapRepository) GetWithNodes(ctx context.Context, id uuid.UUID) (domain.Map, []domain.Node, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Map{}, nil, err
	}

	rows, err := r.conn.Pool.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE map_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.Map{}, nil, fmt.Errorf("failed to list map nodes: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return domain.Map{}, nil, err
	}
	return m, nodes, nil
}

// List retrieves all maps, most recently updated first.
func (r *mapRepository) List(ctx context.Context) ([]domain.Map, error) {
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT `+mapColumns+` FROM maps ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	defer rows.Close()

	maps := []domain.Map{}
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map: %w", err)
		}
		maps = append(maps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}
	return maps, nil
}

// Delete removes a map together with its nodes, change log and history.
func (r *mapRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM change_log WHERE map_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete change log: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM node_history WHERE map_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete node history: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM maps WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete map: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrMapNotFound
		}
		return nil
	})
}

// CurrentVersion reads the map's persisted version counter.
func (r *mapRepository) CurrentVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := r.conn.Pool.QueryRow(ctx, `SELECT version FROM maps WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrMapNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get map version: %w", err)
	}
	return version, nil
}

// ChangesSince returns every change log entry with a version greater than
// sinceVersion, in version order.
func (r *mapRepository) ChangesSince(ctx context.Context, mapID uuid.UUID, sinceVersion int64) ([]domain.ChangeLogEntry, error) {
	rows, err := r.conn.Pool.Query(ctx, `
		SELECT id, map_id, version, action, node_id, created_at
		FROM change_log
		WHERE map_id = $1 AND version > $2
		ORDER BY version, id`, mapID, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	defer rows.Close()

	entries := []domain.ChangeLogEntry{}
	for rows.Next() {
		var e domain.ChangeLogEntry
		if err := rows.Scan(&e.ID, &e.MapID, &e.Version, &e.Action, &e.NodeID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	return entries, nil
}

func scanMap(row rowScanner) (domain.Map, error) {
	var m domain.Map
	err := row.Scan(&m.ID, &m.Name, &m.Version, &m.OwnerID, &m.TeamID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Map{}, err
	}
	return m, nil
}
