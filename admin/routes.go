package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API. Paths are relative to the /admin mount point.
func NewRouter(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Get("/stats", handlers.handleStats)
	r.Get("/tables", handlers.handleListTables)
	r.Get("/cluster/members", handlers.membership.HandleMembers)

	r.Get("/toppartitions/{keyspace}/{table}", handlers.handleTopPartitions)

	r.Route("/data/{keyspace}/{table}", func(r chi.Router) {
		r.Get("/", handlers.handleScan)
		r.Put("/", handlers.handleWrite)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", handlers.handleListSessions)
		r.Delete("/{sessionID}", handlers.handleCancelSession)
	})

	log.Info().Msg("Admin endpoints enabled at /admin/toppartitions/{keyspace}/{table}")
	return r
}
