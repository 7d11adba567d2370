package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sevigo/pr-warden/internal/server/handler"
)

// NewRouter creates and configures the HTTP router with middleware and API
// routes.
func NewRouter(runner handler.ReviewRunner, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Review runs can outlive any sane request timeout, so the run
		// endpoint responds immediately and the run proceeds in the
		// background. No timeout middleware on this subtree.
		runHandler := handler.NewRunHandler(runner, logger)
		r.Post("/run", runHandler.Handle)
		r.Get("/run/last", runHandler.Last)
	})

	return r
}
