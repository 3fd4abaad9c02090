// Package server wires the HTTP surface: REST handlers for maps, history
// and sync, plus the websocket upgrade endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/auth"
)

// RouterDeps holds everything the router needs.
type RouterDeps struct {
	Maps    *MapsHandler
	History *HistoryHandler
	WS      http.Handler
	Tokens  auth.TokenResolver
	Origins []string
	Logger  *zap.Logger
}

// NewRouter builds the chi router. REST routes under /api require a bearer
// token; the websocket endpoint authenticates after the upgrade so it can
// report failures with a close code instead of a plain 401.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(deps.Logger))

	c := cors.New(cors.Options{
		AllowedOrigins:   deps.Origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireIdentity(deps.Tokens))

		r.Get("/maps", deps.Maps.List)
		r.Post("/maps", deps.Maps.Create)
		r.Get("/maps/{mapID}", deps.Maps.Get)
		r.Delete("/maps/{mapID}", deps.Maps.Delete)
		r.Get("/maps/{mapID}/sync", deps.Maps.Sync)
		r.Get("/maps/{mapID}/history", deps.History.ListByMap)

		r.Get("/nodes/{nodeID}/history", deps.History.ListByNode)
		r.Post("/history/{historyID}/rollback", deps.History.Rollback)
	})

	r.Get("/ws/{mapID}", deps.WS.ServeHTTP)

	return r
}
