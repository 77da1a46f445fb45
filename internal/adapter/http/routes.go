package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/user"
	"github.com/Strob0t/feedbacksync/internal/middleware"
)

// FeatureIntegrations gates the manual sync trigger.
const FeatureIntegrations = "integrations"

// NewRouter builds the root router with the global middleware stack and
// every route mounted.
func NewRouter(h *Handlers, tokens middleware.TokenValidator, srv config.Server, auth config.Auth) chi.Router {
	r := chi.NewRouter()

	r.Use(CORS(srv.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(middleware.Auth(tokens, auth.Enabled))

	MountRoutes(r, h)
	return r
}

// MountRoutes registers all routes on the given chi router. Authentication
// is expected to run earlier in the chain.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	if h.WS != nil {
		r.Get("/ws", h.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Route("/integrations/{id}", func(r chi.Router) {
			r.With(
				middleware.RequireRole(user.RoleAdmin),
				middleware.RequireFeature(FeatureIntegrations, h.featureEnabled),
			).Post("/sync", h.TriggerSync)

			r.Get("/sync-logs", h.ListSyncLogs)
			r.Get("/mappings", h.ListMappings)
		})
	})
}

func (h *Handlers) featureEnabled() bool {
	return h.FeatureEnabled == nil || h.FeatureEnabled()
}
