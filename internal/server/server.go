// Package server is the composition root: it opens the database, builds
// the services and handlers, lays out the routes and runs the two
// listeners.
//
// LISTENERS:
//
//	PORT            → REST API, /healthz, /metrics
//	TRANSPORT_PORT  → /ws (real-time chat) and /healthz
//
// The socket listener has no write timeout because its connections are
// long-lived; the ping/pong loop in the transport package keeps them honest.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/reelhouse/internal/auth"
	"github.com/sakif/reelhouse/internal/config"
	"github.com/sakif/reelhouse/internal/handler"
	"github.com/sakif/reelhouse/internal/middleware"
	sqliteRepo "github.com/sakif/reelhouse/internal/repository/sqlite"
	"github.com/sakif/reelhouse/internal/service"
	"github.com/sakif/reelhouse/internal/tmdb"
	"github.com/sakif/reelhouse/internal/transport"
)

const shutdownTimeout = 30 * time.Second

// Server owns the database connection and the socket hub; both are closed
// when Start returns.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	hub    *transport.Hub

	api    chi.Router
	socket chi.Router
}

// New wires every dependency:
//
//	sqlite.DB ─┬─ AuthService ──── AuthHandler
//	           ├─ ChatService ─┬── ChatHandler
//	           │       ▲       └── transport.Handler
//	           │      Hub (Broadcaster)
//	           ├─ ActivityService ← MovieService ← tmdb.Client (optional)
//	           └─ FollowService ── FollowHandler
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		hub:    transport.NewHub(logger),
	}
	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.cfg.Auth.JWTSecret, s.cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// === Services ===
	var posters service.PosterLookup
	if s.cfg.TMDBEnabled() {
		client, err := tmdb.New(tmdb.Config{APIKey: s.cfg.TMDB.APIKey, BaseURL: s.cfg.TMDB.BaseURL}, s.logger)
		if err != nil {
			return fmt.Errorf("creating tmdb client: %w", err)
		}
		posters = client
	} else {
		s.logger.Warn("TMDB_API_KEY not set, movies are stored without posters")
	}

	authService := service.NewAuthService(s.db, tokens, auth.NewPasswordService(), s.logger)
	chatService := service.NewChatService(s.db, s.db, s.db, s.hub, s.logger)
	movieService := service.NewMovieService(s.db, posters, s.logger)
	activityService := service.NewActivityService(s.db, movieService, s.cfg.Location(), s.logger)
	followService := service.NewFollowService(s.db, s.db, s.logger)

	// === Handlers ===
	var github *auth.GitHubProvider
	if s.cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.cfg.Auth.GitHubClientID, s.cfg.Auth.GitHubClientSecret, s.cfg.Auth.GitHubCallbackURL)
	}
	authHandler := handler.NewAuthHandler(authService, github, handler.AuthHandlerConfig{
		TokenTTL:     tokens.TTL(),
		SecureCookie: s.cfg.Server.SecureCookie,
		RedirectURL:  s.cfg.Server.RedirectURL,
	}, s.logger)
	chatHandler := handler.NewChatHandler(chatService, s.logger)
	activityHandler := handler.NewActivityHandler(activityService, s.logger)
	followHandler := handler.NewFollowHandler(followService, s.logger)
	health := handler.HandleHealth(s.db, s.logger)

	// === API router ===
	// Order: request id first so every log line carries it, the logger
	// before Recoverer so a recovered panic is still logged as a 500.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", health)
	r.Handle("/metrics", promhttp.Handler())

	limit := httprate.Limit(
		s.cfg.RateLimit.Requests,
		s.cfg.RateLimit.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(handler.HandleRateLimited),
	)

	r.Route("/auth", func(r chi.Router) {
		r.Use(limit)
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/login", authHandler.HandleLogin)
		r.With(auth.OptionalAuth(tokens, authService)).Post("/logout", authHandler.HandleLogout)

		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		} else {
			s.logger.Warn("GitHub OAuth not configured, /auth/github routes are disabled")
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(limit)
		r.Use(auth.RequireAuth(tokens, authService))

		r.Get("/me", authHandler.HandleMe)
		r.Delete("/me", authHandler.HandleDeleteMe)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/conversations", chatHandler.HandleListConversations)
			r.Post("/conversations", chatHandler.HandleCreateConversation)
			r.Get("/conversations/{id}", chatHandler.HandleGetConversation)
			r.Get("/conversations/{id}/messages", chatHandler.HandleListMessages)
			r.Post("/messages", chatHandler.HandleSendMessage)
			r.Post("/messages/read", chatHandler.HandleMarkRead)
		})

		r.Route("/activity", func(r chi.Router) {
			r.Post("/log", activityHandler.HandleLog)
			r.Get("/stats", activityHandler.HandleStats)
			r.Get("/heatmap", activityHandler.HandleHeatmap)
		})

		r.Put("/users/{id}/follow", followHandler.HandleFollow)
		r.Delete("/users/{id}/follow", followHandler.HandleUnfollow)
		r.Get("/users/{id}/follows", followHandler.HandleCounts)
	})
	s.api = r

	// === Socket router ===
	ws := chi.NewRouter()
	ws.Use(chimiddleware.RequestID)
	ws.Use(chimiddleware.RealIP)
	ws.Use(middleware.Logger(s.logger))
	ws.Use(chimiddleware.Recoverer)
	ws.Get("/healthz", health)
	ws.Handle("/ws", transport.NewHandler(s.hub, chatService, tokens, authService, s.cfg.Server.CORSOrigins, s.logger))
	s.socket = ws

	return nil
}

// Handler returns the REST router.
func (s *Server) Handler() http.Handler { return s.api }

// TransportHandler returns the socket router.
func (s *Server) TransportHandler() http.Handler { return s.socket }

// Start runs both listeners until ctx is cancelled, SIGINT/SIGTERM arrives
// or a listener fails, then shuts everything down.
//
// SHUTDOWN ORDER:
//  1. Close the hub. Hijacked socket connections are not tracked by
//     http.Server, so they have to be closed by hand.
//  2. Shut down both HTTP servers, letting in-flight requests finish.
//  3. Close the database.
func (s *Server) Start(ctx context.Context) error {
	defer s.db.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.api,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	socketSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.TransportPort),
		Handler:           s.socket,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listen(apiSrv, "api") })
	g.Go(func() error { return s.listen(socketSrv, "transport") })
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.hub.Close()
		err := errors.Join(
			apiSrv.Shutdown(shutdownCtx),
			socketSrv.Shutdown(shutdownCtx),
		)
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func (s *Server) listen(srv *http.Server, name string) error {
	s.logger.Info("listener starting",
		slog.String("listener", name),
		slog.String("addr", srv.Addr),
		slog.String("database", s.cfg.Database.Path),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listener: %w", name, err)
	}
	return nil
}
