package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger("checkout-service")
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := repository.OpenPostgres(ctx, cfg.Database)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.Fields{"error": err.Error()})
	}
	defer db.Close()

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	store := repository.NewPostgresStore(db, logger.Named("postgres"))

	redisClient := repository.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	redisCache := repository.NewRedisCache(redisClient, cfg.Redis.TTL, logger.Named("redis"))

	var (
		readCatalog  repository.CatalogRepository = store
		catalogCache repository.CatalogCache
		orderCache   repository.OrderCache
	)
	if cfg.Features.EnableCatalogCaching {
		catalogCache = redisCache
		readCatalog = repository.NewCachedCatalog(store, redisCache, logger.Named("catalog_cache"))
	}
	if cfg.Features.EnableOrderCaching {
		orderCache = redisCache
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pricingMetrics := pricing.NewMetrics(registry)
	serviceMetrics := service.NewMetrics(registry)

	valuator := pricing.NewValuator(pricing.NewMoney(cfg.Pricing.FallbackPrice), logger.Named("valuator"), pricingMetrics)

	checkoutService := service.NewCheckoutService(
		store,
		readCatalog,
		store,
		valuator,
		pricingMetrics,
		cfg.Pricing,
		logger.Named("checkout"),
	)
	orderService := service.NewOrderService(store, orderCache, logger.Named("orders"))

	// Commit revalidation reads the database, never the cache.
	finalizer := service.NewFinalizer(store, store, store, store, valuator, cfg.Pricing, logger.Named("finalizer")).
		WithCaches(catalogCache, orderCache).
		WithMetrics(serviceMetrics)

	if cfg.Features.EnableOrderEvents {
		publisher := events.NewKafkaPublisher(cfg.Kafka, logger.Named("publisher"))
		defer publisher.Close()
		finalizer.WithEvents(publisher)
	}

	h := handlers.NewHandlers(checkoutService, finalizer, orderService, logger.Named("handlers")).
		WithReadinessCheck("postgres", store).
		WithReadinessCheck("redis", redisCache)

	srv := server.New(h, cfg, registry, logger.Named("http"))

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                   cfg.Server.Port,
			"enable_catalog_caching": cfg.Features.EnableCatalogCaching,
			"enable_order_events":    cfg.Features.EnableOrderEvents,
		})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	var consumer *events.KafkaConsumer
	if cfg.Features.EnableCatalogEvents && catalogCache != nil {
		consumer = events.NewKafkaConsumer(cfg.Kafka, catalogCache, logger.Named("consumer"))
		go func() {
			if err := consumer.Start(context.Background()); err != nil {
				logger.Error("Event consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if consumer != nil {
		consumer.Stop()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
}
