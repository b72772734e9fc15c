package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	api "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/order"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/internal/store/memstore"
	"github.com/fjod/storefront/internal/store/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const maxRequestBodySize = 1 << 20 // 1MB

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedDemoData {
		n, err := seedCatalog(ctx, s.Catalog())
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		log.Info("demo catalog seeded", "products", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var cartCache cache.CartCache = cache.NopCache{}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer redisClient.Close()
		cartCache = cache.NewRedisCache(redisClient, 30*time.Minute)
		log.Info("cart cache enabled", "addr", cfg.Redis.Addr)
	}

	carts := cart.NewService(s, cartCache, log)
	engine := checkout.NewEngine(s,
		checkout.WithCartInvalidator(carts),
		checkout.WithOrderNumberAttempts(cfg.Checkout.OrderNumberAttempts),
		checkout.WithMetrics(m),
		checkout.WithLogger(log),
	)
	lifecycle := order.NewLifecycle(s, order.WithMetrics(m), order.WithLogger(log))

	handler := api.NewRouter(api.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: maxRequestBodySize,
		CheckoutLimiter:    rate.NewLimiter(rate.Limit(cfg.Checkout.RateLimit), cfg.Checkout.RateBurst),
		Metrics:            m,
	},
		api.NewCartHandler(carts, cfg.RequestTimeout, log),
		api.NewOrdersHandler(engine, lifecycle, cfg.RequestTimeout, log),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("storefront starting", "port", cfg.HTTPPort, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OrderEventsTopic)
		publisher := outbox.NewPublisher(s.Events(), writer,
			outbox.WithPollInterval(cfg.Kafka.OutboxPollInterval),
			outbox.WithBatchSize(cfg.Kafka.OutboxBatchSize),
			outbox.WithMetrics(m),
			outbox.WithLogger(log),
		)
		g.Go(func() error {
			defer writer.Close()
			return publisher.Run(gctx)
		})
	} else {
		log.Warn("no kafka brokers configured, outbox publisher disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

func openStore(cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		return memstore.New(), func() {}, nil
	case config.DriverSQLite:
		s, err := sqlstore.OpenSQLite(cfg.Storage.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return migrated(s, log)
	case config.DriverPostgres:
		s, err := sqlstore.OpenPostgres(&sqlstore.Credentials{
			Host:     cfg.Storage.Host,
			Port:     cfg.Storage.Port,
			User:     cfg.Storage.User,
			Password: cfg.Storage.Password,
			DBName:   cfg.Storage.Name,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return migrated(s, log)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func migrated(s *sqlstore.Store, log *slog.Logger) (store.Store, func(), error) {
	if err := s.RunMigrations(); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return s, func() {
		if err := s.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}, nil
}
