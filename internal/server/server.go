package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
)

// Server owns the HTTP listener and the gin router.
type Server struct {
	config   *config.Config
	router   *gin.Engine
	handlers *handlers.Handlers
	registry *prometheus.Registry
	logger   *logging.Logger
	http     *http.Server
}

// New builds the router and registers every route.
func New(h *handlers.Handlers, cfg *config.Config, registry *prometheus.Registry, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(logger))

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		registry: registry,
		logger:   logger,
	}

	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.Health)
	s.router.GET("/ready", s.handlers.Ready)
	s.router.GET("/live", s.handlers.Live)
	s.router.GET("/version", s.handlers.Version)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})))

	v2 := s.router.Group("/api/v2")
	{
		v2.GET("/users/:user_id/cart/preview", s.handlers.PreviewCart)
		v2.GET("/users/:user_id/orders", s.handlers.ListUserOrders)

		v2.POST("/checkout/calculate", s.handlers.Calculate)
		v2.POST("/checkout/coupon", s.handlers.ApplyCoupon)

		v2.POST("/orders", s.handlers.CreateOrder)
		v2.GET("/orders/:id", s.handlers.GetOrder)
		v2.GET("/orders/:id/invoice", s.handlers.GetInvoice)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.http.Addr})
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
