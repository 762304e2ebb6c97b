package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"planningpoker/internal/metrics"
	"planningpoker/internal/registry"
	"planningpoker/internal/store"
	"planningpoker/internal/ws"
)

func SetupRoutes(gw *ws.Gateway, st *store.Store, reg *registry.Registry, m *metrics.Metrics, origins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	r.Use(c.Handler)

	r.Post("/rooms", CreateRoom(st, m, log))
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(reg, m))
	r.Get("/ws", gw.Handler())
	return r
}
