package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NodeChanges is the allow-listed field update applied by updateNode. Each
// field is optional; only fields that are present are written. Keys outside
// the allow-list {content, position, style, collapsed, parent_id} are
// ignored during parsing.
type NodeChanges struct {
	Content   *string         `json:"content,omitempty"`
	Position  *int            `json:"position,omitempty"`
	Style     json.RawMessage `json:"style,omitempty"`
	Collapsed *bool           `json:"collapsed,omitempty"`
	ParentID  *uuid.UUID      `json:"parent_id,omitempty"`
}

// IsEmpty reports whether no recognized field is present.
func (c NodeChanges) IsEmpty() bool {
	return c.Content == nil && c.Position == nil && len(c.Style) == 0 &&
		c.Collapsed == nil && c.ParentID == nil
}

// ParseNodeChanges decodes a raw change payload against the allow-list.
// An empty or fully unrecognized change set is a validation error, never a
// version bump.
func ParseNodeChanges(raw json.RawMessage) (NodeChanges, error) {
	var changes NodeChanges
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &changes); err != nil {
			return NodeChanges{}, fmt.Errorf("%w: %v", ErrInvalidChanges, err)
		}
	}
	// A literal null style is not a write; the column never goes NULL.
	if string(changes.Style) == "null" {
		changes.Style = nil
	}
	if changes.IsEmpty() {
		return NodeChanges{}, ErrEmptyChanges
	}
	return changes, nil
}
