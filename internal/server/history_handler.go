package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/auth"
	"github.com/rpattn/mapsync/internal/domain"
	"github.com/rpattn/mapsync/internal/history"
	"github.com/rpattn/mapsync/internal/permission"
	"github.com/rpattn/mapsync/internal/repository"
)

const (
	defaultNodeHistoryLimit = 50
	defaultMapHistoryLimit  = 100
)

// HistoryHandler serves the audit trail and rollback endpoints.
type HistoryHandler struct {
	entries  repository.HistoryRepository
	rollback *history.Service
	perms    permission.Checker
	logger   *zap.Logger
}

// NewHistoryHandler creates the history handler.
func NewHistoryHandler(entries repository.HistoryRepository, rollback *history.Service, perms permission.Checker, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{entries: entries, rollback: rollback, perms: perms, logger: logger}
}

// ListByNode handles GET /api/nodes/{nodeID}/history.
func (h *HistoryHandler) ListByNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		http.Error(w, "invalid node id", http.StatusBadRequest)
		return
	}

	entries, err := h.entries.ListByNode(r.Context(), nodeID, limitParam(r, defaultNodeHistoryLimit))
	if err != nil {
		h.logger.Error("failed to list node history", zap.Error(err))
		writeError(w, err)
		return
	}
	// History rows carry the owning map; the caller needs view access to it
	// before any content is returned.
	if len(entries) > 0 && !h.checkAccess(w, r, entries[0].MapID, permission.LevelView) {
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListByMap handles GET /api/maps/{mapID}/history.
func (h *HistoryHandler) ListByMap(w http.ResponseWriter, r *http.Request) {
	mapID, err := uuid.Parse(chi.URLParam(r, "mapID"))
	if err != nil {
		http.Error(w, "invalid map id", http.StatusBadRequest)
		return
	}
	if !h.checkAccess(w, r, mapID, permission.LevelView) {
		return
	}

	entries, err := h.entries.ListByMap(r.Context(), mapID, limitParam(r, defaultMapHistoryLimit))
	if err != nil {
		h.logger.Error("failed to list map history", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type rollbackRequest struct {
	MapID  uuid.UUID  `json:"map_id"`
	NodeID *uuid.UUID `json:"node_id,omitempty"`
}

// Rollback handles POST /api/history/{historyID}/rollback. Failures come
// back as a structured {"error": ...} body so callers can distinguish the
// cause without parsing prose out of a 500.
func (h *HistoryHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	historyID, err := strconv.ParseInt(chi.URLParam(r, "historyID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid history id", http.StatusBadRequest)
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MapID == uuid.Nil {
		http.Error(w, "map_id is required", http.StatusBadRequest)
		return
	}
	if !h.checkAccess(w, r, req.MapID, permission.LevelEdit) {
		return
	}

	actor, _ := auth.IdentityFromContext(r.Context())
	result, err := h.rollback.Rollback(r.Context(), historyID, req.MapID, actor, req.NodeID)
	if err != nil {
		var rollbackErr *domain.RollbackError
		if errors.As(err, &rollbackErr) {
			status := http.StatusConflict
			if domain.IsNotFound(rollbackErr.Err) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": rollbackErr.Reason})
			return
		}
		h.logger.Error("rollback failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HistoryHandler) checkAccess(w http.ResponseWriter, r *http.Request, mapID uuid.UUID, level permission.Level) bool {
	actor, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	allowed, err := h.perms.CanAccess(r.Context(), actor.UserID, mapID, level)
	if err != nil {
		if domain.IsNotFound(err) {
			writeError(w, err)
			return false
		}
		h.logger.Error("permission check failed", zap.Error(err))
		http.Error(w, "permission check failed", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
