package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the v1 API and the health endpoint using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Post("/fetch", handlers.handleFetch)
	r.Post("/execute", handlers.handleExecute)
	r.Post("/raw", handlers.handleRaw)
	r.Get("/subscribe", handlers.handleSubscribe)
	r.Delete("/subscriptions/{table}/{id}", handlers.handleUnsubscribe)

	mux.Handle("/v1", http.RedirectHandler("/v1/", http.StatusMovedPermanently))
	mux.Handle("/v1/", http.StripPrefix("/v1", r))
	mux.HandleFunc("/healthz", handlers.handleHealth)

	log.Info().Msg("API endpoints enabled at /v1/*")
}
