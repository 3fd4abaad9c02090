package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/auth"
	"github.com/rpattn/mapsync/internal/domain"
)

type emptyMaps struct{}

func (emptyMaps) Create(context.Context, string, *uuid.UUID, *uuid.UUID) (domain.Map, domain.Node, error) {
	return domain.Map{}, domain.Node{}, nil
}

func (emptyMaps) GetByID(context.Context, uuid.UUID) (domain.Map, error) {
	return domain.Map{}, domain.ErrMapNotFound
}

func (emptyMaps) GetWithNodes(context.Context, uuid.UUID) (domain.Map, []domain.Node, error) {
	return domain.Map{}, nil, domain.ErrMapNotFound
}

func (emptyMaps) List(context.Context) ([]domain.Map, error) { return nil, nil }

func (emptyMaps) Delete(context.Context, uuid.UUID) error { return domain.ErrMapNotFound }

func (emptyMaps) CurrentVersion(context.Context, uuid.UUID) (int64, error) {
	return 0, domain.ErrMapNotFound
}

func (emptyMaps) ChangesSince(context.Context, uuid.UUID, int64) ([]domain.ChangeLogEntry, error) {
	return nil, nil
}

func mapRequest(t *testing.T, h *MapsHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/maps/{mapID}", h.Get)
	r.Get("/api/maps/{mapID}/sync", h.Sync)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	actor := domain.Actor{UserID: uuid.New(), DisplayName: "caller"}
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), actor))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthorizeMissingMapIsNotFound(t *testing.T) {
	h := NewMapsHandler(emptyMaps{}, nil, fakeChecker{err: domain.ErrMapNotFound}, zap.NewNop())

	for _, path := range []string{
		"/api/maps/" + uuid.New().String(),
		"/api/maps/" + uuid.New().String() + "/sync?since=0",
	} {
		w := mapRequest(t, h, path)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for a missing map, got %d", path, w.Code)
		}
	}
}

func TestAuthorizeDeniedIsForbidden(t *testing.T) {
	h := NewMapsHandler(emptyMaps{}, nil, fakeChecker{allow: false}, zap.NewNop())
	w := mapRequest(t, h, "/api/maps/"+uuid.New().String())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a denied caller, got %d", w.Code)
	}
}
