// Package web exposes the identity engine over HTTP for the enrollment
// and administration front-ends.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/panopticon-door/panopticon/internal/embedder"
	"github.com/panopticon-door/panopticon/internal/engine"
	"github.com/panopticon-door/panopticon/internal/thumbs"
)

// Server represents the web server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server around the engine. embedClient and
// thumbStore are optional; without them the image-based enrollment
// endpoints respond 503.
func NewServer(eng *engine.Engine, embedClient *embedder.Client, thumbStore *thumbs.Store, host string, port int) *Server {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	h := &Handler{
		engine:   eng,
		embedder: embedClient,
		thumbs:   thumbStore,
	}

	r.Get("/healthz", HealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/enroll", h.Enroll)
		r.Post("/enroll/image", h.EnrollImage)
		r.Post("/verify", h.Verify)
		r.Get("/identities", h.ListIdentities)
		r.Get("/identities/count", h.IdentityCount)
		r.Post("/identities/{id}/thumbnail", h.SetThumbnail)
		r.Get("/centroids", h.Centroids)
		r.Get("/events", h.Events)
	})

	return &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
