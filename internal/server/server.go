package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/folio-press/apiserver/config"
	"github.com/folio-press/apiserver/internal/auth"
	"github.com/folio-press/apiserver/internal/db"
	"github.com/folio-press/apiserver/internal/handlers"
	"github.com/folio-press/apiserver/internal/logging"
	"github.com/folio-press/apiserver/internal/mq"
	"github.com/folio-press/apiserver/internal/services"
	"github.com/folio-press/apiserver/internal/storage"
	"github.com/folio-press/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server, router and the background session sweeper.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	sweeper    *auth.Sweeper
	log        zerolog.Logger
	closers    []io.Closer
}

// New connects every configured backend and constructs a Server.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	srv, err := newServer(ctx, cfg, logger, store.NewAccountRepository(dbConn))
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	srv.closers = append(srv.closers, dbConn)
	return srv, nil
}

// newServer wires everything but the database around accounts.
func newServer(ctx context.Context, cfg config.Config, logger zerolog.Logger, accounts services.AccountRepository) (_ *Server, err error) {
	s := &Server{log: logger}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	registry, registryCloser, err := OpenRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if registryCloser != nil {
		s.closers = append(s.closers, registryCloser)
	}

	access, err := auth.NewCodec(auth.ClassAccess, cfg.Auth.AccessTokenSecret)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.NewCodec(auth.ClassRefresh, cfg.Auth.RefreshTokenSecret)
	if err != nil {
		return nil, err
	}

	deps := services.AuthDeps{
		Accounts:   accounts,
		Hasher:     auth.NewBcryptHasher(cfg.Auth.BcryptCost, cfg.Auth.MaxConcurrentHashes),
		Registry:   registry,
		Access:     access,
		Refresh:    refresh,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
		Logger:     logger,
	}

	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if broker != nil {
		s.closers = append(s.closers, broker)
		deps.Events = mq.NewAccountEvents(broker, cfg.MQ.AccountEventsChannel)
	}

	objects, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var avatars *services.AvatarService
	if objects != nil {
		if c, ok := objects.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
		deps.Avatars = objects
		avatars = services.NewAvatarService(accounts, objects, logger)
	}

	authService, err := services.NewAuthService(ctx, deps)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.Middleware(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, avatars)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.sweeper = auth.NewSweeper(registry, cfg.Auth.SweepInterval, logger)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info().
		Str("registry", cfg.Registry.Backend).
		Str("mq", cfg.MQ.Backend).
		Str("storage", cfg.Storage.Backend).
		Msg("server configured")
	return s, nil
}

// OpenRegistry builds the session registry selected by cfg.Registry.Backend.
// The returned closer is nil for the in-memory registry.
func OpenRegistry(ctx context.Context, cfg config.Config) (auth.Registry, io.Closer, error) {
	switch cfg.Registry.Backend {
	case "", "memory":
		return auth.NewMemoryRegistry(), nil, nil
	case "redis":
		client, err := auth.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return auth.NewRedisRegistry(client, cfg.Redis.KeyPrefix), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP and sweeps expired sessions until ctx is cancelled, then
// shuts down gracefully and releases every backend.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.log.Info().Msg("shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close backend")
		}
	}
	s.closers = nil
}
