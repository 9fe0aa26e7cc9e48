package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/userhub/apiserver/config"
	"github.com/userhub/apiserver/internal/db"
	"github.com/userhub/apiserver/internal/handlers"
	"github.com/userhub/apiserver/internal/observability"
	"github.com/userhub/apiserver/internal/services"
	"github.com/userhub/apiserver/internal/store"
	"github.com/userhub/apiserver/internal/token"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	logger     *slog.Logger
}

// New constructs a Server with its full dependency graph.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	codec, err := buildCodec(cfg.JWT)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	accountRepo := store.NewAccountRepository(dbConn)
	credentialRepo := store.NewCredentialRepository(dbConn)
	tokenRepo := store.NewTokenRepository(dbConn)

	guard := services.NewGuard(tokenRepo)
	validator := services.NewPasswordValidator()
	tokenService := services.NewTokenService(accountRepo, credentialRepo, tokenRepo, codec, guard)
	userService := services.NewUserService(accountRepo, credentialRepo, validator, guard)

	authHandler := handlers.NewAuthHandler(tokenService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		observability.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, tokenService, authHandler.RequireAuth, authHandler.OptionalAuth)
	})
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, tokenService)
	})
	router.Route("/tokens", func(r chi.Router) {
		handlers.TokenRouter(r, tokenService)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server configured",
		"port", port,
		"signing_method", cfg.JWT.SigningMethod,
		"token_duration_seconds", cfg.JWT.DurationSeconds,
	)

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		logger:     logger,
	}, nil
}

func buildCodec(cfg config.JWTConfig) (*token.Codec, error) {
	ttl := time.Duration(cfg.DurationSeconds) * time.Second

	switch cfg.SigningMethod {
	case "HS256":
		if cfg.Secret == "" {
			return nil, errors.New("JWT_SECRET is required for HS256")
		}
		return token.NewHMACCodec([]byte(cfg.Secret), ttl), nil
	case "RS512":
		if cfg.PrivateKey == "" {
			return nil, errors.New("JWT_PRIVATE_KEY is required for RS512")
		}
		key, err := token.ParseRSAPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		return token.NewRSACodec(key, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	observability.FlushSentry()
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
