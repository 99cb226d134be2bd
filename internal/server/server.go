package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/a2a"
	"github.com/dagbolade/trust-proxy/internal/auth"
	"github.com/dagbolade/trust-proxy/internal/llm"
	"github.com/dagbolade/trust-proxy/internal/metrics"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/proxy"
	"github.com/dagbolade/trust-proxy/internal/routing"
	"github.com/dagbolade/trust-proxy/internal/store"
	"github.com/dagbolade/trust-proxy/internal/toolexec"
)

type Server struct {
	echo   *echo.Echo
	config Config
	hub    *Hub
}

// Deps are the long-lived components owned by main.
type Deps struct {
	Catalog policy.Reader
	Store   store.Store
	Auth    *auth.Manager
	Metrics *metrics.Metrics
}

func New(cfg Config, deps Deps) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		config: cfg,
		hub:    NewHub(),
	}

	s.setupMiddleware()
	if err := s.setupRoutes(deps); err != nil {
		s.hub.Shutdown()
		return nil, err
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Info().Int("port", s.config.Port).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	s.echo.Server.WriteTimeout = time.Duration(s.config.WriteTimeout) * time.Second

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")
	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization, proxy.HeaderChatID, proxy.HeaderAgentID},
		ExposeHeaders: []string{proxy.HeaderChatID},
	}))
}

func (s *Server) setupRoutes(deps Deps) error {
	if s.config.RequireAuth && s.config.AuthUsers == auth.DefaultUsers {
		return errors.New("AUTH_USERS must be set when REQUIRE_AUTH is enabled")
	}

	accounts, err := auth.ParseAccounts(s.config.AuthUsers)
	if err != nil {
		return fmt.Errorf("parse AUTH_USERS: %w", err)
	}

	st := newFeedStore(deps.Store, s.hub)
	factory := llm.NewFactory(s.config.FactoryConfig())
	resolver := routing.NewResolver(deps.Catalog, s.config.Defaults())
	forwarder := toolexec.NewForwarder(time.Duration(s.config.ToolTimeout) * time.Second)

	orchestrator := proxy.NewOrchestrator(deps.Catalog, st, factory, deps.Metrics)
	executor := a2a.NewExecutor(s.config.ExecutorConfig(), deps.Catalog, st, resolver, factory, forwarder, deps.Metrics)

	proxyHandler := proxy.NewHandler(s.config.ProxyConfig(), deps.Catalog, factory, orchestrator, deps.Metrics)
	a2aHandler := NewA2AHandler(executor)
	interactionsHandler := NewInteractionsHandler(st)
	wsHandler := NewWSHandler(s.hub, st, deps.Auth)
	authHandler := auth.NewHandler(deps.Auth, accounts)

	// Public endpoints
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	s.echo.POST("/login", authHandler.Login)

	// The Authorization header of proxied calls carries the provider key.
	s.echo.POST("/v1/:provider/chat/completions", proxyHandler.HandleChatCompletion)
	s.echo.POST("/v1/:provider/:agentId/chat/completions", proxyHandler.HandleChatCompletion)

	// websocket validates its own token from the query string
	s.echo.GET("/ws", wsHandler.HandleWebSocket)

	protected := s.echo.Group("")
	protected.Use(deps.Auth.Middleware())

	protected.GET("/me", authHandler.Me)
	protected.POST("/a2a/:agentId", a2aHandler.Execute, deps.Auth.RequireRole(auth.RoleAgent))
	protected.GET("/chats/:chatId/interactions", interactionsHandler.GetInteractions, deps.Auth.RequireRole(auth.RoleAuditor))

	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":            "healthy",
		"websocket_clients": s.hub.ClientCount(),
	})
}
