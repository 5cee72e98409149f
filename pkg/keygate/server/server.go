// Package server wires the HTTP routes and runs the listener
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jimmicro/grace"
	"github.com/mikepea/keygate/pkg/keygate/auth"
	"github.com/mikepea/keygate/pkg/keygate/config"
	"github.com/mikepea/keygate/pkg/keygate/gate"
	"github.com/mikepea/keygate/pkg/keygate/keys"
	"github.com/mikepea/keygate/pkg/keygate/lifecycle"
	"github.com/mikepea/keygate/pkg/keygate/logging"
	"github.com/mikepea/keygate/pkg/keygate/store"
	"github.com/mikepea/keygate/pkg/keygate/verify"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var _ grace.Grace = (*Server)(nil)

// Server is the keygate HTTP server
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// New creates a server listening on cfg.Address
func New(db *gorm.DB, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    cfg.Address,
			Handler: NewRouter(db, cfg, logger),
		},
		logger: logger,
	}
}

// NewRouter creates a gin engine with all routes registered
func NewRouter(db *gorm.DB, cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger), corsMiddleware(cfg.CORSOrigins))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Key system server is running",
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	keyStore := store.NewKeyStore(db)
	sessions := auth.NewSessions(cfg.JWTSecret, cfg.SessionTTL)
	guard := auth.NewGuard(sessions, cfg.AdminToken)

	// Gate tokens are only ever handed out when gating is on
	var gateLinker verify.GateLinker
	if cfg.GateEnabled {
		tokens := gate.NewTokens(cfg.JWTSecret, cfg.GateTokenTTL, cfg.BaseURL)
		gateLinker = tokens
		gateHandler := gate.NewHandler(keyStore, tokens, cfg.GateProviderURL, logger)
		gateHandler.RegisterRoutes(r.Group("/gate"))
	}

	// Client verification (public)
	verifier := verify.NewVerifier(keyStore, lifecycle.Engine{GateEnabled: cfg.GateEnabled}, gateLinker, cfg.BindAttempts, logger)
	verify.NewHandler(verifier, logger).RegisterRoutes(r)

	keysHandler := keys.NewHandler(keyStore, keys.Options{
		KeyLength:   cfg.KeyLength,
		GateEnabled: cfg.GateEnabled,
	}, logger)

	// Legacy admin endpoint kept for existing tooling
	r.GET("/createKey", guard.RequireAdminOrQueryToken(), keysHandler.CreateLegacy)

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "keygate",
			})
		})

		authHandler := auth.NewHandler(db, sessions, guard, logger)
		authHandler.RegisterRoutes(api.Group("/auth"))

		adminGroup := api.Group("/admin")
		adminGroup.Use(guard.RequireAdmin())
		keysHandler.RegisterRoutes(adminGroup)
	}

	return r
}

// corsMiddleware allows cross-origin calls from origins. An empty list or "*"
// allows every origin without credentials.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", auth.AdminTokenHeader)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until Shutdown is called
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("address", s.server.Addr).Msg("starting keygate server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Name implements grace.Grace
func (s *Server) Name() string {
	return "keygate server"
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down keygate server")
	return s.server.Shutdown(ctx)
}
