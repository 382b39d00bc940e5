// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects services, handlers and
// middleware, and it owns the listen/shutdown lifecycle. Keeping it apart
// from main makes the whole API testable through httptest without opening
// a port.
//
// DEPENDENCY INJECTION FLOW:
//
//	cmd/rideboard builds:   sqlite.DB, queue.Client, auth.TokenService, providers
//	server.New builds:      RosterService, EventService, UserService, AuthService
//	                        → CarHandler, EventHandler, UserHandler, AuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/rideboard/internal/auth"
	"github.com/sakif/rideboard/internal/handler"
	"github.com/sakif/rideboard/internal/middleware"
	sqliteRepo "github.com/sakif/rideboard/internal/repository/sqlite"
	"github.com/sakif/rideboard/internal/service"
)

// Config holds server configuration.
type Config struct {
	Addr string
	Auth handler.AuthConfig
	// ShutdownTimeout bounds how long in-flight requests may take to finish.
	ShutdownTimeout time.Duration
}

// Deps are the long-lived resources the caller opened. The server uses
// them but does not close them.
type Deps struct {
	Store     *sqliteRepo.DB
	Jobs      service.JobQueue
	Tokens    *auth.TokenService
	Providers []handler.OAuthProvider
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New wires services and handlers onto a fresh router.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(deps)
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /api/v1/auth/                          → current user
//	POST   /api/v1/auth/logout                    → clear session
//	GET    /api/v1/auth/{provider}/               → redirect to csh|google
//	GET    /api/v1/auth/{provider}/redirect       → OAuth callback
//	GET    /api/v1/user?query=                    → directory search
//	GET    /api/v1/event?past=                    → list events
//	POST   /api/v1/event                          → create event
//	GET    /api/v1/event/{eventID}                → get event
//	PUT    /api/v1/event/{eventID}                → update event (creator only)
//	DELETE /api/v1/event/{eventID}                → delete event (creator only)
//	GET    /api/v1/event/{eventID}/car            → list cars
//	POST   /api/v1/event/{eventID}/car            → create car (caller drives)
//	GET    /api/v1/event/{eventID}/car/{carID}    → get car
//	PUT    /api/v1/event/{eventID}/car/{carID}    → replace car + roster (driver only)
//	DELETE /api/v1/event/{eventID}/car/{carID}    → delete car (driver only)
//	POST   /api/v1/event/{eventID}/car/{carID}/rider → join as rider
//	DELETE /api/v1/event/{eventID}/car/{carID}/rider → leave
//
// MIDDLEWARE ORDER MATTERS:
// RequestID must run before Logger so the access log carries the id.
func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	rosterService := service.NewRosterService(deps.Store, deps.Jobs, s.logger)
	eventService := service.NewEventService(deps.Store, s.logger)
	userService := service.NewUserService(deps.Store)
	authService := service.NewAuthService(deps.Store, deps.Tokens, s.logger)

	carHandler := handler.NewCarHandler(rosterService, s.logger)
	eventHandler := handler.NewEventHandler(eventService, s.logger)
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(authService, deps.Providers, s.config.Auth, s.logger)

	requireAuth := auth.RequireAuth(deps.Tokens)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(requireAuth).Get("/", authHandler.HandleMe)
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/{provider}/", authHandler.HandleLogin)
			r.Get("/{provider}/redirect", authHandler.HandleCallback)
		})

		// Everything below acts on behalf of a logged-in user.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/user", userHandler.HandleSearch)

			r.Route("/event", func(r chi.Router) {
				r.Get("/", eventHandler.HandleList)
				r.Post("/", eventHandler.HandleCreate)

				r.Route("/{eventID}", func(r chi.Router) {
					r.Get("/", eventHandler.HandleGet)
					r.Put("/", eventHandler.HandleUpdate)
					r.Delete("/", eventHandler.HandleDelete)

					r.Route("/car", func(r chi.Router) {
						r.Get("/", carHandler.HandleList)
						r.Post("/", carHandler.HandleCreate)
						r.Get("/{carID}", carHandler.HandleGet)
						r.Put("/{carID}", carHandler.HandleUpdate)
						r.Delete("/{carID}", carHandler.HandleDelete)
						r.Post("/{carID}/rider", carHandler.HandleJoin)
						r.Delete("/{carID}/rider", carHandler.HandleLeave)
					})
				})
			})
		})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests (bounded by ShutdownTimeout)
//
// The caller closes the database and Redis after Start returns, so no
// request can touch a closed store.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}
