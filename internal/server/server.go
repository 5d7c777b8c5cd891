package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/healwise/apiserver/config"
	"github.com/healwise/apiserver/internal/db"
	"github.com/healwise/apiserver/internal/events"
	"github.com/healwise/apiserver/internal/handlers"
	"github.com/healwise/apiserver/internal/mq"
	"github.com/healwise/apiserver/internal/profiles"
	"github.com/healwise/apiserver/internal/ratelimit"
	"github.com/healwise/apiserver/internal/services"
	"github.com/healwise/apiserver/internal/store"
	"github.com/healwise/apiserver/internal/token"
)

// DriverMemory keeps accounts in process memory; nothing survives a restart.
const DriverMemory = "memory"

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
	closers    []func() error
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (srv *Server, err error) {
	issuer, err := token.NewIssuer(cfg.JWT.Secret)
	if err != nil {
		return nil, errors.New("JWT_SECRET is required")
	}

	s := &Server{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	users, err := s.openUsers(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	dataset, err := profiles.LoadFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	slog.Info("profiles loaded", "source", cfg.Profiles.Source, "count", dataset.Len())

	var publisher events.Publisher = events.Discard{}
	s.broker, err = mq.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if s.broker != nil {
		publisher = events.NewBrokerPublisher(s.broker, cfg.MQ.Channel)
		slog.Info("account events enabled", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)
	}

	limiter, closeLimiter, err := ratelimit.Open(cfg.Limits)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeLimiter)

	authService := services.NewAuthService(services.NewUserService(users), issuer, dataset,
		services.WithEvents(publisher),
	)

	var provider services.OAuthProvider
	if cfg.Google.Enabled() {
		provider = services.NewGoogleProvider(cfg.Google)
	} else {
		slog.Info("google login disabled: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set")
	}
	authHandler := handlers.NewAuthHandler(authService, provider, handlers.AuthHandlerConfig{
		FrontendURL:     cfg.FrontendURL,
		FailureRedirect: cfg.FailureRedirect,
		SecureCookies:   !strings.EqualFold(cfg.Env, "dev"),
	})

	clientKey := ratelimit.SocketIP
	if cfg.Limits.TrustProxy {
		clientKey = ratelimit.ForwardedIP
	}

	router := chi.NewRouter()
	router.Use(
		ratelimit.CapturePeer,
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token"},
			MaxAge:         300,
		}),
	)
	router.Get("/", handlers.Banner)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, handlers.RequireAuth(issuer), ratelimit.Middleware(limiter, "auth", clientKey))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 5000
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) openUsers(ctx context.Context, cfg config.DatabaseConfig) (services.UserRepository, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), DriverMemory) {
		slog.Warn("using in-memory user store; accounts are lost on restart")
		return store.NewMemoryUserRepository(), nil
	}

	if cfg.AutoMigrate {
		if err := db.MigrateUp(ctx, cfg); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	conn, driver, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.db = conn
	return store.NewUserRepository(conn, driver), nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			slog.Warn("close", "error", err)
		}
	}
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			slog.Warn("close broker", "error", err)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
