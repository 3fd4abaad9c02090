package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/auth"
	"github.com/rpattn/mapsync/internal/domain"
	"github.com/rpattn/mapsync/internal/lock"
	"github.com/rpattn/mapsync/internal/permission"
	"github.com/rpattn/mapsync/internal/repository"
)

// Handler upgrades connections, joins them to their map's room and runs the
// per-connection message loop. One goroutine runs the loop, a second runs
// the write pump; mutation handlers block the loop while awaiting storage.
type Handler struct {
	hub      *Hub
	maps     repository.MapRepository
	nodes    repository.NodeRepository
	locks    *lock.Manager
	perms    permission.Checker
	tokens   auth.TokenResolver
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(
	hub *Hub,
	maps repository.MapRepository,
	nodes repository.NodeRepository,
	locks *lock.Manager,
	perms permission.Checker,
	tokens auth.TokenResolver,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		hub:    hub,
		maps:   maps,
		nodes:  nodes,
		locks:  locks,
		perms:  perms,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /ws/{mapID}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mapID, err := uuid.Parse(chi.URLParam(r, "mapID"))
	if err != nil {
		http.Error(w, "invalid map id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	// Authentication and access are settled before any message exchange;
	// a refused socket is closed with a distinguishing code.
	actor, err := h.tokens.Resolve(auth.TokenFromRequest(r))
	if err != nil {
		h.refuse(conn, CloseAuthMissing, "authentication required")
		return
	}

	ctx := r.Context()
	allowed, err := h.perms.CanAccess(ctx, actor.UserID, mapID, permission.LevelView)
	if err != nil {
		if !domain.IsNotFound(err) {
			h.logger.Error("permission check failed", zap.Error(err))
		}
		h.refuse(conn, CloseAccessDenied, "access denied")
		return
	}
	if !allowed {
		h.refuse(conn, CloseAccessDenied, "access denied")
		return
	}

	version, err := h.maps.CurrentVersion(ctx, mapID)
	if err != nil {
		h.refuse(conn, CloseAccessDenied, "access denied")
		return
	}

	client := NewClient(conn, actor, h.logger)
	go client.WritePump()
	client.prepareRead()

	h.hub.Join(mapID, client, version)
	h.hub.Send(client, connectedMessage{
		Type:     MsgConnected,
		ClientID: client.ID,
		Version:  version,
		UserID:   actor.UserID,
		Locks:    h.locks.ListForMap(mapID),
	})

	h.readLoop(client, mapID)
}

// readLoop dispatches inbound messages until the connection drops, then
// removes the connection from its room and notifies the remaining peers.
func (h *Handler) readLoop(client *Client, mapID uuid.UUID) {
	defer h.disconnect(client, mapID)

	for {
		env, err := client.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				client.logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		// A bad message produces one error reply; the loop continues.
		h.dispatch(context.Background(), client, mapID, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, mapID uuid.UUID, env Envelope) {
	switch env.Type {
	case MsgNodeCreate, MsgNodeUpdate, MsgNodeDelete, MsgNodeMove:
		// Permission is re-checked per mutation; membership may have been
		// revoked since the connection joined.
		allowed, err := h.perms.CanAccess(ctx, client.Actor.UserID, mapID, permission.LevelEdit)
		if err != nil {
			h.sendError(client, mutationErrorText(err))
			return
		}
		if !allowed {
			h.sendError(client, "permission denied")
			return
		}
		h.handleMutation(ctx, client, mapID, env)
	case MsgNodeLock:
		h.handleLock(client, mapID, env)
	case MsgNodeUnlock:
		h.handleUnlock(client, mapID, env)
	default:
		h.sendError(client, fmt.Sprintf("unknown message type: %s", env.Type))
	}
}

func (h *Handler) handleMutation(ctx context.Context, client *Client, mapID uuid.UUID, env Envelope) {
	var result any
	var err error

	switch env.Type {
	case MsgNodeCreate:
		result, err = h.createNode(ctx, client, mapID, env)
	case MsgNodeUpdate:
		result, err = h.updateNode(ctx, client, mapID, env)
	case MsgNodeDelete:
		result, err = h.deleteNode(ctx, client, mapID, env)
	case MsgNodeMove:
		result, err = h.moveNode(ctx, client, mapID, env)
	}
	if err != nil {
		h.sendError(client, mutationErrorText(err))
		return
	}

	version := h.hub.NextVersion(mapID)
	h.hub.Send(client, ackMessage{
		Type:         MsgAck,
		OriginalType: env.Type,
		Data:         result,
		Version:      version,
	})
	h.hub.Broadcast(mapID, broadcastMessage{
		Type:     env.Type,
		Data:     result,
		Version:  version,
		ClientID: client.ID,
	}, client.ID)
}

func (h *Handler) createNode(ctx context.Context, client *Client, mapID uuid.UUID, env Envelope) (any, error) {
	var payload CreatePayload
	if err := decodePayload(env.Data, &payload); err != nil {
		return nil, err
	}
	if payload.ParentID == uuid.Nil {
		return nil, domain.ErrInvalidChanges
	}
	parentID := payload.ParentID
	return h.nodes.Create(ctx, repository.CreateNodeParams{
		MapID:    mapID,
		ParentID: &parentID,
		Content:  payload.Content,
		Position: payload.Position,
		Style:    payload.Style,
		NodeID:   payload.ID,
		Actor:    &client.Actor,
	})
}

func (h *Handler) updateNode(ctx context.Context, client *Client, mapID uuid.UUID, env Envelope) (any, error) {
	var payload UpdatePayload
	if err := decodePayload(env.Data, &payload); err != nil {
		return nil, err
	}
	changes, err := domain.ParseNodeChanges(payload.Changes)
	if err != nil {
		return nil, err
	}
	if err := h.checkLock(payload.ID, client.Actor.UserID); err != nil {
		return nil, err
	}
	return h.nodes.Update(ctx, mapID, payload.ID, changes, &client.Actor)
}

func (h *Handler) deleteNode(ctx context.Context, client *Client, mapID uuid.UUID, env Envelope) (any, error) {
	var payload DeletePayload
	if err := decodePayload(env.Data, &payload); err != nil {
		return nil, err
	}
	if err := h.checkLock(payload.ID, client.Actor.UserID); err != nil {
		return nil, err
	}
	return h.nodes.Delete(ctx, mapID, payload.ID, &client.Actor)
}

func (h *Handler) moveNode(ctx context.Context, client *Client, mapID uuid.UUID, env Envelope) (any, error) {
	var payload MovePayload
	if err := decodePayload(env.Data, &payload); err != nil {
		return nil, err
	}
	if err := h.checkLock(payload.ID, client.Actor.UserID); err != nil {
		return nil, err
	}
	parentID := payload.ParentID
	position := payload.Position
	return h.nodes.Update(ctx, mapID, payload.ID, domain.NodeChanges{
		ParentID: &parentID,
		Position: &position,
	}, &client.Actor)
}

// handleLock acquires the soft lock and mirrors it to every connection,
// sender included, so lock state is identical everywhere.
func (h *Handler) handleLock(client *Client, mapID uuid.UUID, env Envelope) {
	var payload LockPayload
	if err := decodePayload(env.Data, &payload); err != nil {
		h.sendError(client, "invalid lock payload")
		return
	}

	info, err := h.locks.Acquire(payload.ID, mapID, client.Actor)
	if err != nil {
		var conflict *domain.LockConflictError
		if errors.As(err, &conflict) {
			h.sendError(client, fmt.Sprintf("node is being edited by %s", conflict.HolderName))
			return
		}
		h.sendError(client, "lock failed")
		return
	}

	h.hub.Broadcast(mapID, lockBroadcastMessage{
		Type:     MsgNodeLock,
		Data:     info,
		ClientID: client.ID,
	}, uuid.Nil)
}

func (h *Handler) handleUnlock(client *Client, mapID uuid.UUID, env Envelope) {
	var payload LockPayload
	if err := decodePayload(env.Data, &payload); err != nil {
		h.sendError(client, "invalid unlock payload")
		return
	}

	// Releasing a lock you don't hold is a no-op, not an error.
	if !h.locks.Release(payload.ID, client.Actor.UserID) {
		return
	}

	h.hub.Broadcast(mapID, lockBroadcastMessage{
		Type:     MsgNodeUnlock,
		Data:     unlockData{NodeID: payload.ID, UserID: client.Actor.UserID},
		ClientID: client.ID,
	}, uuid.Nil)
}

// checkLock enforces the advisory lock before the store is touched; the
// store itself never blocks on locks.
func (h *Handler) checkLock(nodeID, userID uuid.UUID) error {
	holder, ok := h.locks.Holder(nodeID)
	if ok && holder.UserID != userID {
		return &domain.LockConflictError{NodeID: nodeID, HolderID: holder.UserID, HolderName: holder.Username}
	}
	return nil
}

// disconnect removes the connection from its room and tells the remaining
// peers. Safe against double invocation: once the hub no longer knows the
// connection, nothing is broadcast again.
func (h *Handler) disconnect(client *Client, mapID uuid.UUID) {
	removed := h.hub.Leave(mapID, client.ID)
	client.Close()
	if !removed {
		return
	}

	// Locks are keyed on the user, so they outlive this connection while the
	// user has another one open in the same room.
	if !h.hub.UserPresent(mapID, client.Actor.UserID) {
		released := h.locks.ReleaseAllHeldBy(mapID, client.Actor.UserID)
		for _, nodeID := range released {
			h.hub.Broadcast(mapID, lockBroadcastMessage{
				Type:     MsgNodeUnlock,
				Data:     unlockData{NodeID: nodeID, UserID: client.Actor.UserID},
				ClientID: client.ID,
			}, uuid.Nil)
		}
	}

	h.hub.Broadcast(mapID, peerDisconnectMessage{
		Type:     MsgPeerDisconnect,
		ClientID: client.ID,
	}, client.ID)
}

func (h *Handler) sendError(client *Client, message string) {
	h.hub.Send(client, errorMessage{Type: MsgError, Message: message})
}

func (h *Handler) refuse(conn *websocket.Conn, code int, reason string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}

func decodePayload(data []byte, dst any) error {
	if len(data) == 0 {
		return domain.ErrInvalidChanges
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidChanges, err)
	}
	return nil
}

func mutationErrorText(err error) string {
	var conflict *domain.LockConflictError
	switch {
	case errors.As(err, &conflict):
		return fmt.Sprintf("node is being edited by %s", conflict.HolderName)
	case domain.IsNotFound(err):
		return err.Error()
	case domain.IsValidation(err):
		return err.Error()
	default:
		return "operation failed"
	}
}
