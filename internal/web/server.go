// Package web exposes the JSON API: login, token verification, manual
// sync, play-history queries, and the roll-up statistics endpoints.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	JWTSecret    string
	JWTTTL       time.Duration

	Users   UserStore
	Plays   PlayStore
	Syncer  SyncService
	Stats   StatsService
	Profile ProfileFetcher

	Log zerolog.Logger
}

// Server is the HTTP server for the API.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	jwt      *JWTManager
	log      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	jwt := NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	handlers := NewHandlers(cfg.Users, cfg.Plays, cfg.Syncer, cfg.Stats, cfg.Profile, jwt, cfg.Log)

	s := &Server{
		router:   chi.NewRouter(),
		handlers: handlers,
		jwt:      jwt,
		log:      cfg.Log,
	}

	s.setupMiddleware()
	s.setupRoutes()

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the API.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/spotify-login", s.handlers.Login)

		r.Group(func(r chi.Router) {
			r.Use(s.jwt.RequireAuth)

			r.Get("/verify", s.handlers.Verify)
			r.Post("/sync/manual", s.handlers.ManualSync)
			r.Get("/stats/weekly-top-3", s.handlers.WeeklyTop3)
			r.Get("/stats/history", s.handlers.StatsHistory)
			r.Post("/update-history", s.handlers.UpdateHistory)
			r.Get("/play-history", s.handlers.PlayHistory)
			r.Get("/play-history/top-tracks", s.handlers.TopTracks)
			r.Delete("/delete-users", s.handlers.DeleteUser)
		})
	})
}

// requestLogger emits one structured log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt
// signals. The optional onShutdown hooks run after the listener stops
// accepting requests.
func (s *Server) Run(onShutdown ...func()) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	for _, hook := range onShutdown {
		hook()
	}

	s.log.Info().Msg("server stopped")
	return nil
}
