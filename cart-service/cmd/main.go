package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "github.com/courtside/storefront/cart-service/internal/cache"
	carthttp "github.com/courtside/storefront/cart-service/internal/http"
	"github.com/courtside/storefront/cart-service/internal/poller"
	"github.com/courtside/storefront/cart-service/internal/repository"
	s "github.com/courtside/storefront/cart-service/internal/service"
	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/config"
	"github.com/courtside/storefront/pkg/events"
	"github.com/courtside/storefront/pkg/logger"
	"github.com/courtside/storefront/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	HTTPPort        string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	SessionTTL      time.Duration
	KafkaBrokers    string
	JWTSecret       string
	RequestTimeout  time.Duration
	DurableTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	config.Load()
	return &Config{
		HTTPPort:        config.GetEnv("CART_SERVICE_PORT", "8081"),
		MongoURI:        config.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     config.GetEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:       config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   config.GetEnv("REDIS_PASSWORD", ""),
		SessionTTL:      config.GetDuration("SESSION_CART_TTL", c.DefaultSessionTTL),
		KafkaBrokers:    config.GetEnv("KAFKA_BROKERS", "localhost:9092"),
		JWTSecret:       config.GetEnv("JWT_SECRET", "dev-secret"),
		RequestTimeout:  config.GetDuration("REQUEST_TIMEOUT", 10*time.Second),
		DurableTimeout:  config.GetDuration("DURABLE_TIMEOUT", 2*time.Second),
		ShutdownTimeout: 10 * time.Second,
	}
}

func main() {
	cfg := loadConfig()
	log := logger.New("cart-service")

	ctx := context.Background()
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	repo := repository.NewMongoRepository(mongoDB)
	if ic, ok := repo.(repository.IndexCreator); ok {
		if err := ic.CreateIndexes(ctx); err != nil {
			log.Error("failed to create indexes", "error", err)
			os.Exit(1)
		}
	}
	log.Info("connected to MongoDB", "database", cfg.MongoDBName)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	log.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	m := metrics.NewServerMetrics("cart")
	reporter := s.NewSyncReporter(log,
		m.Counter("durable_write_failures_total", "Durable cart writes that degraded a session.", "op"),
		m.Counter("durable_resyncs_total", "Degraded sessions that re-established durable sync."),
	)
	adapter := s.NewAdapter(repo, c.NewRedisSessionStore(redisClient, cfg.SessionTTL), reporter, log, cfg.DurableTimeout)

	pollCtx, stopPoller := context.WithCancel(ctx)
	kc := events.NewClient(cfg.KafkaBrokers)
	var cartPoller *poller.Poller
	if kc.Enabled() {
		cartPoller = poller.NewPoller(kc.NewReader(events.TopicOrderEvents, "cart-service-consumer"), adapter, log,
			m.Counter("carts_cleared_total", "Order events processed by outcome.", "outcome"))
		go cartPoller.Run(pollCtx)
	} else {
		log.Warn("kafka disabled, carts will not be cleared after orders")
	}

	handler := carthttp.NewCartHandler(adapter, cfg.RequestTimeout, log)
	router := carthttp.NewRouter(handler, auth.NewVerifier(cfg.JWTSecret), m, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cart-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cart service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	stopPoller()
	if cartPoller != nil {
		cartPoller.Close()
	}
	if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
		log.Error("mongo disconnect failed", "error", err)
	}
	log.Info("cart service stopped")
}
