package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Not-found failures. ErrParentNotFound also covers a parent id that resolves
// to a node in a different map, which would otherwise attach a cross-map edge.
var (
	ErrMapNotFound     = errors.New("map not found")
	ErrNodeNotFound    = errors.New("node not found")
	ErrParentNotFound  = errors.New("parent node not found in map")
	ErrHistoryNotFound = errors.New("history entry not found")
)

// Validation failures on change payloads.
var (
	ErrEmptyChanges   = errors.New("change set contains no recognized fields")
	ErrInvalidChanges = errors.New("malformed change set")
)

// ErrSnapshotMissing marks a delete history entry that carries no subtree
// snapshot and therefore cannot be reversed.
var ErrSnapshotMissing = errors.New("history entry has no snapshot")

// IsNotFound reports whether err is any of the not-found failures.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMapNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrHistoryNotFound)
}

// IsValidation reports whether err is a change payload validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyChanges) || errors.Is(err, ErrInvalidChanges)
}

// LockConflictError is returned when a live lock is held by another user.
// HolderName carries the current holder's display name so the caller can
// render "X is editing this".
type LockConflictError struct {
	NodeID     uuid.UUID
	HolderID   uuid.UUID
	HolderName string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("node %s is locked by %s", e.NodeID, e.HolderName)
}

// RollbackError wraps any failure while reversing a history entry, keeping
// the underlying cause distinguishable via errors.Is/As.
type RollbackError struct {
	HistoryID int64
	Reason    string
	Err       error
}

func (e *RollbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rollback of history entry %d failed: %s: %v", e.HistoryID, e.Reason, e.Err)
	}
	return fmt.Sprintf("rollback of history entry %d failed: %s", e.HistoryID, e.Reason)
}

func (e *RollbackError) Unwrap() error { return e.Err }
