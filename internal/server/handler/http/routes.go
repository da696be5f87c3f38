// Package http provides HTTP routing and handlers for the bot's status
// endpoint.
package http

import (
	"net/http"

	"github.com/MardaOneli/WaBot/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the status API.
//
// Routes:
//
//	GET /healthz → statusHandler.Health (always public)
//	GET /status  → statusHandler.Status (bearer token when configured)
//
// Middleware chain (applied in order):
//  1. Recoverer                      turns handler panics into 500
//  2. WithRequestLogging(logger)     logs incoming requests
//  3. BearerAuth(token, "/healthz")  guards everything but the health check
func NewRouter(statusHandler *StatusHandler, logger *zap.Logger, token string) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.BearerAuth(token, "/healthz"))

	r.Get("/healthz", statusHandler.Health)
	r.Get("/status", statusHandler.Status)

	return r
}
