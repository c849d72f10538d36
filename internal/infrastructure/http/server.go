package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	handlers "github.com/wekeepgrowing/entitlement-service/internal/adapter/handler/http"
	"github.com/wekeepgrowing/entitlement-service/internal/config"
	"github.com/wekeepgrowing/entitlement-service/internal/middleware/auth"
	pkgLogger "github.com/wekeepgrowing/entitlement-service/pkg/logger"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers mounted by the server.
type Handlers struct {
	Entitlement  *handlers.EntitlementHandler
	Subscription *handlers.SubscriptionHandler
	Webhook      *handlers.WebhookHandler
	Plans        *handlers.PlansHandler
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	echo       *echo.Echo
	handlers   Handlers
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRegistry collects and serves HTTP metrics from reg instead of the
// default registry.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registerer = reg
		s.gatherer = reg
	}
}

func NewServer(cfg *config.Config, logger *zap.Logger, h Handlers, opts ...ServerOption) *Server {
	s := &Server{
		config:     cfg,
		logger:     logger,
		handlers:   h,
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewRequestValidator()
	e.Server.ReadTimeout = cfg.Server.HTTP.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.HTTP.WriteTimeout

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.Webhook.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Service.ClientURL},
		AllowMethods: []string{echo.GET, echo.POST},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "entitlement_http",
		Registerer: s.registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))
	e.Use(pkgLogger.NewEchoRequestLogger(logger))
	pkgLogger.WithEchoLogger(e, logger)

	s.echo = e
	s.setupRoutes()
	return s
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	addr := s.config.Server.HTTP.Address()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
			"version": s.config.Service.Version,
		})
	})
	s.echo.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: s.gatherer}))

	// Webhook route (outside API versioning, authenticated by signature)
	s.echo.POST("/webhook", s.handlers.Webhook.HandleWebhook)

	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Logger: s.logger,
	}

	// API v1 routes
	v1 := s.echo.Group("/api/v1")

	// Public routes
	v1.GET("/plans", s.handlers.Plans.GetPlans)

	// Protected routes (require JWT authentication)
	protected := v1.Group("", auth.JWTMiddleware(jwtConfig))

	entitlements := protected.Group("/entitlements")
	entitlements.GET("/me", s.handlers.Entitlement.GetMine)
	entitlements.GET("/me/features/:feature", s.handlers.Entitlement.CheckFeature)

	subscriptions := protected.Group("/subscriptions")
	subscriptions.POST("/checkout", s.handlers.Subscription.Checkout)
	subscriptions.POST("/cancel", s.handlers.Subscription.Cancel)
	subscriptions.POST("/reactivate", s.handlers.Subscription.Reactivate)
	subscriptions.POST("/portal", s.handlers.Subscription.Portal)

	// Internal routes for other services
	internal := protected.Group("/internal", auth.RequireRole(s.config.JWT.ServiceRole, s.logger))
	internal.GET("/entitlements/:userId", s.handlers.Entitlement.GetForUser)
	internal.POST("/entitlements/:userId/reconcile", s.handlers.Entitlement.Reconcile)
}
