package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/domain"
	"github.com/rpattn/mapsync/internal/lock"
	"github.com/rpattn/mapsync/internal/permission"
	"github.com/rpattn/mapsync/internal/repository"
)

type allowAll struct{}

func (allowAll) CanAccess(context.Context, uuid.UUID, uuid.UUID, permission.Level) (bool, error) {
	return true, nil
}

// fakeNodeStore records mutations and stamps them with an increasing version.
type fakeNodeStore struct {
	version int64
	updates []domain.NodeChanges
}

func (f *fakeNodeStore) Create(_ context.Context, params repository.CreateNodeParams) (domain.Node, error) {
	f.version++
	return domain.Node{ID: uuid.New(), MapID: params.MapID, Content: params.Content, Version: f.version}, nil
}

func (f *fakeNodeStore) Update(_ context.Context, mapID, nodeID uuid.UUID, changes domain.NodeChanges, _ *domain.Actor) (domain.Node, error) {
	f.version++
	f.updates = append(f.updates, changes)
	node := domain.Node{ID: nodeID, MapID: mapID, Version: f.version}
	if changes.ParentID != nil {
		node.ParentID = changes.ParentID
	}
	if changes.Position != nil {
		node.Position = *changes.Position
	}
	return node, nil
}

func (f *fakeNodeStore) Delete(_ context.Context, mapID, nodeID uuid.UUID, _ *domain.Actor) (repository.DeleteResult, error) {
	f.version++
	return repository.DeleteResult{MapID: mapID, DeletedIDs: []uuid.UUID{nodeID}, NewVersion: f.version}, nil
}

func (f *fakeNodeStore) GetByID(context.Context, uuid.UUID, uuid.UUID) (domain.Node, error) {
	return domain.Node{}, domain.ErrNodeNotFound
}

func (f *fakeNodeStore) GetByIDs(context.Context, []uuid.UUID) ([]domain.Node, error) {
	return nil, nil
}

func newTestHandler() (*Handler, *Hub) {
	hub := NewHub(zap.NewNop())
	h := &Handler{
		hub:    hub,
		nodes:  &fakeNodeStore{},
		perms:  allowAll{},
		locks:  lock.NewManager(0),
		logger: zap.NewNop(),
	}
	return h, hub
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		return msg
	default:
		t.Fatalf("expected a message")
		return nil
	}
}

func TestMoveAcksSenderAndBroadcastsToPeers(t *testing.T) {
	h, hub := newTestHandler()
	mapID, nodeID, parentID := uuid.New(), uuid.New(), uuid.New()
	sender, peer := testClient("alice"), testClient("bob")
	hub.Join(mapID, sender, 5)
	hub.Join(mapID, peer, 5)

	payload, _ := json.Marshal(MovePayload{ID: nodeID, ParentID: parentID, Position: 2})
	h.dispatch(context.Background(), sender, mapID, Envelope{Type: MsgNodeMove, Data: payload})

	ack := receive(t, sender)
	if ack["type"] != MsgAck || ack["original_type"] != MsgNodeMove {
		t.Fatalf("expected move ack, got %v", ack)
	}
	if ack["version"] != float64(6) {
		t.Fatalf("expected ack at version 6, got %v", ack["version"])
	}

	broadcast := receive(t, peer)
	if broadcast["type"] != MsgNodeMove {
		t.Fatalf("expected move broadcast, got %v", broadcast)
	}
	if broadcast["version"] != ack["version"] {
		t.Fatalf("ack and broadcast must carry the same version: %v vs %v", ack["version"], broadcast["version"])
	}
	if broadcast["client_id"] != sender.ID.String() {
		t.Fatalf("broadcast should name the originating client, got %v", broadcast["client_id"])
	}

	// Exactly one message each way.
	select {
	case data := <-sender.send:
		t.Fatalf("sender got a second message: %s", data)
	default:
	}
	select {
	case data := <-peer.send:
		t.Fatalf("peer got a second message: %s", data)
	default:
	}

	store := h.nodes.(*fakeNodeStore)
	if len(store.updates) != 1 {
		t.Fatalf("expected one store update, got %d", len(store.updates))
	}
	changes := store.updates[0]
	if changes.ParentID == nil || *changes.ParentID != parentID {
		t.Fatalf("move should reparent to %s, got %+v", parentID, changes)
	}
	if changes.Position == nil || *changes.Position != 2 {
		t.Fatalf("move should set position 2, got %+v", changes)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	h, hub := newTestHandler()
	mapID := uuid.New()
	client := testClient("alice")
	hub.Join(mapID, client, 0)

	h.dispatch(context.Background(), client, mapID, Envelope{Type: "node:explode"})

	msg := receive(t, client)
	if msg["type"] != MsgError {
		t.Fatalf("expected error message, got %v", msg)
	}
}

func TestLockUnlockBroadcastsToEveryone(t *testing.T) {
	h, hub := newTestHandler()
	mapID, nodeID := uuid.New(), uuid.New()
	sender, peer := testClient("alice"), testClient("bob")
	hub.Join(mapID, sender, 0)
	hub.Join(mapID, peer, 0)

	payload, _ := json.Marshal(LockPayload{ID: nodeID})
	h.handleLock(sender, mapID, Envelope{Type: MsgNodeLock, Data: payload})

	// Lock state mirrors to the sender too.
	for _, c := range []*Client{sender, peer} {
		msg := receive(t, c)
		if msg["type"] != MsgNodeLock {
			t.Fatalf("expected lock broadcast, got %v", msg)
		}
	}
	if _, ok := h.locks.Holder(nodeID); !ok {
		t.Fatalf("lock should be held after node:lock")
	}

	h.handleUnlock(sender, mapID, Envelope{Type: MsgNodeUnlock, Data: payload})
	for _, c := range []*Client{sender, peer} {
		msg := receive(t, c)
		if msg["type"] != MsgNodeUnlock {
			t.Fatalf("expected unlock broadcast, got %v", msg)
		}
	}
	if _, ok := h.locks.Holder(nodeID); ok {
		t.Fatalf("lock should be gone after node:unlock")
	}
}

func TestLockConflictReportsHolder(t *testing.T) {
	h, hub := newTestHandler()
	mapID, nodeID := uuid.New(), uuid.New()
	holder, intruder := testClient("alice"), testClient("bob")
	hub.Join(mapID, holder, 0)
	hub.Join(mapID, intruder, 0)

	payload, _ := json.Marshal(LockPayload{ID: nodeID})
	h.handleLock(holder, mapID, Envelope{Type: MsgNodeLock, Data: payload})
	receive(t, holder)
	receive(t, intruder)

	h.handleLock(intruder, mapID, Envelope{Type: MsgNodeLock, Data: payload})
	msg := receive(t, intruder)
	if msg["type"] != MsgError {
		t.Fatalf("expected error for conflicting lock, got %v", msg)
	}
}

func TestUnlockNotHeldIsSilent(t *testing.T) {
	h, hub := newTestHandler()
	mapID := uuid.New()
	client := testClient("alice")
	hub.Join(mapID, client, 0)

	payload, _ := json.Marshal(LockPayload{ID: uuid.New()})
	h.handleUnlock(client, mapID, Envelope{Type: MsgNodeUnlock, Data: payload})

	select {
	case data := <-client.send:
		t.Fatalf("expected silence, got %s", data)
	default:
	}
}

func TestDisconnectReleasesLocksAndNotifiesPeers(t *testing.T) {
	h, hub := newTestHandler()
	mapID, nodeID := uuid.New(), uuid.New()
	leaver, peer := testClient("alice"), testClient("bob")
	hub.Join(mapID, leaver, 0)
	hub.Join(mapID, peer, 0)

	if _, err := h.locks.Acquire(nodeID, mapID, leaver.Actor); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	h.disconnect(leaver, mapID)

	unlock := receive(t, peer)
	if unlock["type"] != MsgNodeUnlock {
		t.Fatalf("expected unlock broadcast first, got %v", unlock)
	}
	gone := receive(t, peer)
	if gone["type"] != MsgPeerDisconnect {
		t.Fatalf("expected peer disconnect, got %v", gone)
	}
	if _, ok := h.locks.Holder(nodeID); ok {
		t.Fatalf("disconnect should release held locks")
	}

	// A second disconnect must not re-broadcast.
	h.disconnect(leaver, mapID)
	select {
	case data := <-peer.send:
		t.Fatalf("expected no message on double disconnect, got %s", data)
	default:
	}
}

func TestDisconnectKeepsLocksWhileUserStillConnected(t *testing.T) {
	h, hub := newTestHandler()
	mapID, nodeID := uuid.New(), uuid.New()
	actor := domain.Actor{UserID: uuid.New(), DisplayName: "alice"}
	first, second := NewClient(nil, actor, zap.NewNop()), NewClient(nil, actor, zap.NewNop())
	peer := testClient("bob")
	hub.Join(mapID, first, 0)
	hub.Join(mapID, second, 0)
	hub.Join(mapID, peer, 0)

	if _, err := h.locks.Acquire(nodeID, mapID, actor); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// The user's other tab is still in the room; its locks must survive.
	h.disconnect(first, mapID)
	if _, ok := h.locks.Holder(nodeID); !ok {
		t.Fatalf("lock must survive while the user has another connection")
	}
	msg := receive(t, peer)
	if msg["type"] != MsgPeerDisconnect {
		t.Fatalf("expected only a peer disconnect, got %v", msg)
	}
	select {
	case data := <-peer.send:
		t.Fatalf("expected no unlock broadcast, got %s", data)
	default:
	}

	// Last connection gone: now the locks go too.
	h.disconnect(second, mapID)
	if _, ok := h.locks.Holder(nodeID); ok {
		t.Fatalf("lock should be released with the user's last connection")
	}
	unlock := receive(t, peer)
	if unlock["type"] != MsgNodeUnlock {
		t.Fatalf("expected unlock broadcast, got %v", unlock)
	}
}
