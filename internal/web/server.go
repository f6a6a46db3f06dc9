// Package web provides the HTTP server for browsing and editing a table.
//
// EDUCATIONAL NOTES:
// ------------------
// This package sets up an HTTP server using the chi router, which is a
// lightweight, idiomatic Go router. Key concepts:
//
// 1. Middleware: Functions that wrap handlers to add cross-cutting concerns
//    like logging, recovery from panics, and request timeouts.
//
// 2. Graceful shutdown: When the context passed to Run is cancelled, the
//    server stops accepting new connections but finishes in-flight requests.
//
// 3. Dependency injection: The Table is passed into the server and placed in
//    each request's context so handlers never reach for globals.

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/cabewaldrop/pagedb/internal/logging"
	"github.com/cabewaldrop/pagedb/internal/table"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// Server is the HTTP front end for one table.
type Server struct {
	router *chi.Mux
	addr   string
	table  *table.Table
	log    *slog.Logger
}

// NewServer creates a server that will listen on addr.
// If tbl is nil, every table route answers 503.
func NewServer(addr string, tbl *table.Table) *Server {
	r := chi.NewRouter()

	// RequestID: Adds a unique ID to each request for tracing
	r.Use(middleware.RequestID)
	// RealIP: Extracts the real client IP from X-Forwarded-For headers
	r.Use(middleware.RealIP)
	// Logger: Logs each request (method, path, duration)
	r.Use(middleware.Logger)
	// Recoverer: Catches panics in handlers, logs stack trace, returns 500
	r.Use(middleware.Recoverer)
	// Timeout: Cancels request context after 30 seconds
	r.Use(middleware.Timeout(30 * time.Second))

	s := &Server{
		router: r,
		addr:   addr,
		table:  tbl,
		log:    logging.WithComponent("web"),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.table != nil {
			r.Use(WithTable(s.table))
		}
		r.Use(RequireTable)

		r.Get("/", s.handleIndex)

		r.Route("/api", func(r chi.Router) {
			r.Get("/rows", s.handleAPIRows)
			r.Post("/rows", s.handleAPIInsert)
			r.Get("/rows/{id}", s.handleAPIRow)
			r.Get("/tree", s.handleAPITree)
			r.Get("/constants", s.handleAPIConstants)
		})
	})
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully. A cancelled context is a clean exit and returns nil.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("starting server", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("server stopped")
	return nil
}
