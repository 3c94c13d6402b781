package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/middleware"
)

// NewRouter constructs the HTTP handler serving the credential API.
//
// Routes:
//
//	PUT    /api/credentials/{service}/{user}           → Put
//	GET    /api/credentials/{service}/{user}           → Get
//	DELETE /api/credentials/{service}/{user}           → Delete
//	GET    /api/credentials/{service}/{user}/snapshot  → Snapshot
//
// Request bodies must be JSON. Every request is logged with a request id.
func NewRouter(credentialHandler *CredentialHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	r.Route("/api/credentials/{service}/{user}", func(r chi.Router) {
		r.Put("/", credentialHandler.Put)
		r.Get("/", credentialHandler.Get)
		r.Delete("/", credentialHandler.Delete)
		r.Get("/snapshot", credentialHandler.Snapshot)
	})

	return r
}
