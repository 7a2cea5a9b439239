package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memory"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, messages, closeRepo := openRepository(ctx, cfg, logger)
	defer closeRepo()

	var deps service.Deps
	var ready []func(context.Context) error

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, running without stock mirror and settle lock", zap.Error(err))
	} else {
		defer redisClient.Close()
		deps.Cache = redisClient
		deps.Locker = redisClient
		ready = append(ready, redisClient.Ping)
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var messageWorker *worker.MessageWorker
	if len(cfg.Kafka.Brokers) > 0 {
		orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer orderProducer.Close()
		notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification)
		defer notificationProducer.Close()

		publisher := broker.NewEventPublisher(orderProducer, notificationProducer)
		deps.Publisher = publisher
		deps.Notifier = publisher

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification, cfg.Kafka.ConsumerGroup)
		messageWorker = worker.NewMessageWorker(consumer, messages)
		logger.Info("Kafka initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		logger.Warn("No Kafka brokers configured, events and notifications are dropped")
	}

	gateway, err := payment.NewAlipayGateway(cfg.Alipay)
	if err != nil {
		logger.Fatal("Failed to initialize payment gateway", zap.Error(err))
	}

	inventory := service.NewInventoryLedger(repo, deps, cfg.Business.LowStockThreshold)
	cart := service.NewCartService(repo, inventory)
	coupons := service.NewCouponService(repo)
	orders := service.NewOrderService(repo, coupons, deps)
	reconciler := service.NewReconciler(repo, orders, inventory, cart, deps, cfg.Business.SettleLockTTL)
	payments := service.NewPaymentService(repo, gateway, reconciler, cfg.Business.PaymentTimeout)

	if deps.Cache != nil {
		if err := inventory.SyncCache(ctx); err != nil {
			logger.Warn("Failed to sync stock mirror", zap.Error(err))
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Cart:      cart,
		Coupons:   coupons,
		Orders:    orders,
		Payments:  payments,
		Inventory: inventory,
		Messages:  messages,
		Ready: func(ctx context.Context) error {
			for _, check := range ready {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// scrapers can use a dedicated port; /metrics stays on the API port too
	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: mux,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("Starting metrics server", zap.String("port", cfg.Observ.PrometheusPort))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if messageWorker != nil {
		g.Go(func() error {
			err := messageWorker.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server forced to shutdown", zap.Error(err))
			}
		}
		if messageWorker != nil {
			if err := messageWorker.Stop(); err != nil {
				logger.Warn("Error stopping message worker", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

// openRepository picks the storage backend. The memory backend keeps
// everything in process and is meant for local runs.
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Repository, store.MessageRepository, func()) {
	if cfg.Database.Backend == config.BackendMemory {
		logger.Warn("Using in-memory store, data is lost on exit")
		repo := memory.NewStore()
		return repo, repo, func() {}
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Database connected")

	if cfg.Database.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}
	return db, db, func() { _ = db.Close() }
}
