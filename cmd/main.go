package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/cartstate/internal/cache"
	"github.com/fjod/cartstate/internal/config"
	h "github.com/fjod/cartstate/internal/http"
	"github.com/fjod/cartstate/internal/logger"
	"github.com/fjod/cartstate/internal/notify"
	"github.com/fjod/cartstate/internal/poller"
	"github.com/fjod/cartstate/internal/repository"
	"github.com/fjod/cartstate/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("cart state service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	sinks := []notify.Sink{notify.NewLogSink(log)}
	var snapshots cache.SnapshotCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		snapshots = cache.NewRedisCache(redisClient, cfg.CacheTTL)
		sinks = append(sinks, notify.NewRedisSink(redisClient, log))
		log.Info("redis enabled", zap.String("addr", cfg.RedisAddr))
	}

	dispatcher := notify.NewDispatcher(log, cfg.NotifyBuffer, sinks...)
	defer dispatcher.Close()

	carts := service.NewCartService(repo, snapshots, dispatcher, log, service.WithIdleTTL(cfg.SessionIdleTTL))
	defer carts.Close()

	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(carts, log, cfg.KafkaBrokers...)
		stopPoller := p.Start(ctx)
		// deferred after carts and dispatcher, so it returns before either closes
		defer stopPoller()
		log.Info("checkout poller started", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	cartHandler := h.NewCartHandler(carts, cfg.RequestTimeout, cfg.MaxRequestBodySize)
	router := h.NewRouter(cartHandler, log, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cart-state"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("cart state service starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.CartRepository, func(), error) {
	if cfg.MongoURI == "" {
		log.Info("MONGO_URI not set, keeping carts in memory")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.CreateIndexes(connectCtx, db); err != nil {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(disconnectCtx)
		return nil, nil, err
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(ctx); err != nil {
			log.Warn("mongo disconnect failed", zap.Error(err))
		}
	}

	log.Info("mongo repository enabled", zap.String("database", cfg.MongoDBName))
	return repository.NewMongoRepository(db), closeFn, nil
}
