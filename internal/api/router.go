package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/personasim/internal/api/middleware"
	"github.com/phrazzld/personasim/internal/api/shared"
	"github.com/phrazzld/personasim/internal/service/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterDeps are the collaborators NewRouter wires into handlers.
type RouterDeps struct {
	Submitter  Submitter
	JWTService auth.JWTService
	Health     HealthCheck
	Logger     *slog.Logger
}

// NewRouter builds the HTTP handler: the authenticated /api routes plus
// unauthenticated /health and /metrics.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(apiMiddleware.Metrics)
	r.Use(apiMiddleware.Trace(log))

	handler := NewSubmissionHandler(deps.Submitter, log)
	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWTService)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/personas", handler.CreatePersonas)
		r.Post("/personas/batch", handler.CreatePersonaBatch)
		r.Get("/personas/{id}", handler.GetPersona)

		r.Post("/products", handler.CreateProduct)
		r.Get("/products/{id}", handler.GetProduct)

		r.Post("/sessions", handler.CreateSession)
		r.Get("/sessions/{id}", handler.GetSession)
	})

	r.Get("/health", healthHandler(deps.Health))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Unavailable", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}
