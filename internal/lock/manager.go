// Package lock provides the advisory per-node edit locks. Locks are soft:
// they reduce edit collisions but are never required for storage-level
// correctness, so they live in process memory only.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/mapsync/internal/domain"
)

// DefaultTTL is how long a lock survives without a refresh.
const DefaultTTL = 5 * time.Minute

// Manager owns the lock table. All access goes through one mutex so that
// acquire, refresh, expiry and list are atomic with respect to each other.
type Manager struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	locks map[uuid.UUID]domain.NodeLock
}

// NewManager creates a manager with the given TTL; zero means DefaultTTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[uuid.UUID]domain.NodeLock),
	}
}

// Acquire takes or refreshes the lock on a node. Re-acquiring by the current
// holder refreshes the timestamp. A live lock held by someone else fails with
// a LockConflictError carrying the holder's display name; conflicts are not
// retried here.
func (m *Manager) Acquire(nodeID, mapID uuid.UUID, actor domain.Actor) (domain.NodeLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.locks[nodeID]; ok && !m.expired(existing, now) {
		if existing.UserID != actor.UserID {
			return domain.NodeLock{}, &domain.LockConflictError{
				NodeID:     nodeID,
				HolderID:   existing.UserID,
				HolderName: existing.Username,
			}
		}
	}

	lock := domain.NodeLock{
		NodeID:   nodeID,
		MapID:    mapID,
		UserID:   actor.UserID,
		Username: actor.DisplayName,
		LockedAt: now,
	}
	m.locks[nodeID] = lock
	return lock, nil
}

// Release drops the lock if userID holds it. Releasing a lock you do not
// hold is a no-op and returns false.
func (m *Manager) Release(nodeID, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[nodeID]
	if !ok || existing.UserID != userID {
		return false
	}
	delete(m.locks, nodeID)
	return true
}

// Holder returns the live lock on a node, if any, evicting it when expired.
func (m *Manager) Holder(nodeID uuid.UUID) (domain.NodeLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[nodeID]
	if !ok {
		return domain.NodeLock{}, false
	}
	if m.expired(existing, m.now()) {
		delete(m.locks, nodeID)
		return domain.NodeLock{}, false
	}
	return existing, true
}

// ListForMap returns every live lock in a map, lazily evicting expired
// entries as a side effect.
func (m *Manager) ListForMap(mapID uuid.UUID) []domain.NodeLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	locks := []domain.NodeLock{}
	for nodeID, l := range m.locks {
		if m.expired(l, now) {
			delete(m.locks, nodeID)
			continue
		}
		if l.MapID == mapID {
			locks = append(locks, l)
		}
	}
	return locks
}

// ReleaseAllHeldBy drops every lock a user holds in a map, returning the
// affected node ids. Used when a connection goes away.
func (m *Manager) ReleaseAllHeldBy(mapID, userID uuid.UUID) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []uuid.UUID
	for nodeID, l := range m.locks {
		if l.MapID == mapID && l.UserID == userID {
			delete(m.locks, nodeID)
			released = append(released, nodeID)
		}
	}
	return released
}

func (m *Manager) expired(l domain.NodeLock, now time.Time) bool {
	return now.Sub(l.LockedAt) >= m.ttl
}
