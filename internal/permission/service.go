// Package permission decides whether a user may view or edit a map. The
// mutation and sync engine only consumes the Checker interface; this
// implementation backs it with the same Postgres store.
package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/mapsync/internal/domain"
)

// Level is a required access level for an operation.
type Level int

const (
	LevelView  Level = 1
	LevelEdit  Level = 2
	LevelAdmin Level = 3
	LevelOwner Level = 4
)

// roleLevels ranks team roles: owner > admin > editor > viewer.
var roleLevels = map[string]Level{
	"owner":  LevelOwner,
	"admin":  LevelAdmin,
	"editor": LevelEdit,
	"viewer": LevelView,
}

// Checker is the access check consumed by the handlers and the websocket
// message loop. A map that does not exist reports domain.ErrMapNotFound, so
// callers can distinguish "gone" from "forbidden".
type Checker interface {
	CanAccess(ctx context.Context, userID, mapID uuid.UUID, level Level) (bool, error)
}

// Service implements Checker against the maps and team_members tables.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a permission service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// CanAccess applies the map access rules: maps without an owner are open to
// any authenticated user, personal maps only to their owner, and team maps
// according to the member's role.
func (s *Service) CanAccess(ctx context.Context, userID, mapID uuid.UUID, level Level) (bool, error) {
	var ownerID, teamID *uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, team_id FROM maps WHERE id = $1`, mapID).Scan(&ownerID, &teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrMapNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to load map ownership: %w", err)
	}

	if ownerID == nil {
		return true, nil
	}
	if *ownerID == userID && teamID == nil {
		return true, nil
	}
	if teamID != nil {
		role, err := s.teamRole(ctx, userID, *teamID)
		if err != nil {
			return false, err
		}
		if role == "" {
			return false, nil
		}
		return roleLevels[role] >= level, nil
	}
	return false, nil
}

func (s *Service) teamRole(ctx context.Context, userID, teamID uuid.UUID) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load team role: %w", err)
	}
	return role, nil
}
