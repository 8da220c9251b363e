package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/showgate/booking-engine/internal/adapters/crdb"
	mongoadapter "github.com/showgate/booking-engine/internal/adapters/mongo"
	redisadapter "github.com/showgate/booking-engine/internal/adapters/redis"
	stripeadapter "github.com/showgate/booking-engine/internal/adapters/stripe"
	"github.com/showgate/booking-engine/internal/booking"
	"github.com/showgate/booking-engine/internal/config"
	httphandler "github.com/showgate/booking-engine/internal/http"
	"github.com/showgate/booking-engine/internal/observability"
	"github.com/showgate/booking-engine/internal/ratelimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PGDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("bookingengine")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := redisadapter.NewIdempotency(redisClient, 24*time.Hour)
	rl := ratelimit.NewRateLimiter(cache)

	gateway := stripeadapter.NewGateway(
		cfg.StripeSecretKey,
		cfg.StripeWebhookSecret,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		cfg.SessionTTL,
	)

	cachedCatalog := booking.NewCachedCatalog(catalog, cache, 10*time.Second, logger)
	svc := booking.NewService(repo, cachedCatalog, gateway, cache, audit, logger, booking.Config{
		ReclaimDelay: cfg.ReclaimDelay,
		RefundRate:   cfg.RefundRate,
	})

	handlers := httphandler.NewHandlers(svc, gateway, idemp, logger)
	router := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.ListenAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("server exiting")
}
