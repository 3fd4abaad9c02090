package domain

import (
	"time"

	"github.com/google/uuid"
)

// Map is one collaboratively edited tree document. Version increases by
// exactly one for every successful mutation that touches any of its nodes.
type Map struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Version   int64      `json:"version"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	TeamID    *uuid.UUID `json:"team_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Actor identifies the user performing a mutation, for audit stamping.
type Actor struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}
