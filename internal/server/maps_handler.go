package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/auth"
	"github.com/rpattn/mapsync/internal/domain"
	"github.com/rpattn/mapsync/internal/permission"
	"github.com/rpattn/mapsync/internal/repository"
	"github.com/rpattn/mapsync/internal/syncer"
)

// MapsHandler serves the map CRUD and sync endpoints.
type MapsHandler struct {
	maps     repository.MapRepository
	resolver *syncer.Resolver
	perms    permission.Checker
	logger   *zap.Logger
}

// NewMapsHandler creates the maps handler.
func NewMapsHandler(maps repository.MapRepository, resolver *syncer.Resolver, perms permission.Checker, logger *zap.Logger) *MapsHandler {
	return &MapsHandler{maps: maps, resolver: resolver, perms: perms, logger: logger}
}

type createMapRequest struct {
	Name string `json:"name"`
}

type mapResponse struct {
	domain.Map
	RootID uuid.UUID `json:"root_id"`
}

type mapWithNodesResponse struct {
	domain.Map
	Nodes []domain.Node `json:"nodes"`
}

// List handles GET /api/maps.
func (h *MapsHandler) List(w http.ResponseWriter, r *http.Request) {
	maps, err := h.maps.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list maps", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maps)
}

// Create handles POST /api/maps.
func (h *MapsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	actor, _ := auth.IdentityFromContext(r.Context())
	ownerID := actor.UserID

	m, root, err := h.maps.Create(r.Context(), req.Name, &ownerID, nil)
	if err != nil {
		h.logger.Error("failed to create map", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapResponse{Map: m, RootID: root.ID})
}

// Get handles GET /api/maps/{mapID}.
func (h *MapsHandler) Get(w http.ResponseWriter, r *http.Request) {
	mapID, ok := h.authorize(w, r, permission.LevelView)
	if !ok {
		return
	}

	m, nodes, err := h.maps.GetWithNodes(r.Context(), mapID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapWithNodesResponse{Map: m, Nodes: nodes})
}

// Delete handles DELETE /api/maps/{mapID}.
func (h *MapsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	mapID, ok := h.authorize(w, r, permission.LevelOwner)
	if !ok {
		return
	}

	if err := h.maps.Delete(r.Context(), mapID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles GET /api/maps/{mapID}/sync?since=N, the catch-up interface
// for clients that reconnect or poll instead of holding the live stream.
func (h *MapsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	mapID, ok := h.authorize(w, r, permission.LevelView)
	if !ok {
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	delta, err := h.resolver.Since(r.Context(), mapID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

// authorize parses the map id and checks the caller's access level.
func (h *MapsHandler) authorize(w http.ResponseWriter, r *http.Request, level permission.Level) (uuid.UUID, bool) {
	mapID, err := uuid.Parse(chi.URLParam(r, "mapID"))
	if err != nil {
		http.Error(w, "invalid map id", http.StatusBadRequest)
		return uuid.Nil, false
	}

	actor, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}

	allowed, err := h.perms.CanAccess(r.Context(), actor.UserID, mapID, level)
	if err != nil {
		// A missing map is 404, not 403: the caller asked about a map that
		// no longer exists.
		if domain.IsNotFound(err) {
			writeError(w, err)
			return uuid.Nil, false
		}
		h.logger.Error("permission check failed", zap.Error(err))
		http.Error(w, "permission check failed", http.StatusInternalServerError)
		return uuid.Nil, false
	}
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return uuid.Nil, false
	}
	return mapID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
