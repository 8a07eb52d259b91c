package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courtside/storefront/checkout-service/internal/cartclient"
	"github.com/courtside/storefront/checkout-service/internal/catalog"
	checkouthttp "github.com/courtside/storefront/checkout-service/internal/http"
	"github.com/courtside/storefront/checkout-service/internal/publisher"
	"github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/checkout-service/internal/router"
	"github.com/courtside/storefront/checkout-service/internal/service"
	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/circuitbreaker"
	"github.com/courtside/storefront/pkg/config"
	"github.com/courtside/storefront/pkg/events"
	"github.com/courtside/storefront/pkg/logger"
	"github.com/courtside/storefront/pkg/metrics"
	"github.com/courtside/storefront/pkg/payment"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	HTTPPort            string
	DB                  repository.Credentials
	CartServiceURL      string
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	KafkaBrokers        string
	JWTSecret           string
	ProfileTimeout      time.Duration
	RequestTimeout      time.Duration
	StuckOrderAfter     time.Duration
	ShutdownTimeout     time.Duration
}

func loadConfig() *Config {
	config.Load()
	return &Config{
		HTTPPort: config.GetEnv("CHECKOUT_SERVICE_PORT", "8082"),
		DB: repository.Credentials{
			Host:              config.GetEnv("DB_HOST", "localhost"),
			Port:              config.GetInt("DB_PORT", 5432),
			User:              config.GetEnv("DB_USER", "postgres"),
			Password:          config.GetEnv("DB_PASSWORD", "postgres"),
			DBName:            config.GetEnv("DB_NAME", "storefront"),
			MigrationsDirPath: config.GetEnv("MIGRATIONS_PATH", "./checkout-service/internal/repository/migrations"),
		},
		CartServiceURL:      config.GetEnv("CART_SERVICE_URL", "http://localhost:8081"),
		StripeSecretKey:     config.GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            config.GetEnv("CHECKOUT_CURRENCY", "usd"),
		KafkaBrokers:        config.GetEnv("KAFKA_BROKERS", "localhost:9092"),
		JWTSecret:           config.GetEnv("JWT_SECRET", "dev-secret"),
		ProfileTimeout:      config.GetDuration("PROFILE_LOOKUP_TIMEOUT", 300*time.Millisecond),
		RequestTimeout:      config.GetDuration("REQUEST_TIMEOUT", 10*time.Second),
		StuckOrderAfter:     config.GetDuration("STUCK_ORDER_AFTER", time.Minute),
		ShutdownTimeout:     10 * time.Second,
	}
}

func main() {
	cfg := loadConfig()
	log := logger.New("checkout-service")

	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		log.Error("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required")
		os.Exit(1)
	}

	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.DB); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info("database migrations completed", "database", cfg.DB.DBName)

	m := metrics.NewServerMetrics("checkout")
	provider := payment.NewGuarded(
		payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		circuitbreaker.DefaultConfig("payment-provider"),
		log,
	)

	materializer := service.NewMaterializer(repo, provider,
		m.Counter("materializations_total", "Order materialization attempts by trigger and outcome.", "trigger", "outcome"), log)
	builder := service.NewBuilder(repo, catalog.NewPostgresCatalog(repo.DB()), provider, materializer, cfg.Currency, log)
	memberships := service.NewMembershipUpdater(repo, log)

	eventRouter := router.NewRouter(provider, materializer, memberships, repo,
		m.Counter("webhooks_total", "Provider notifications by type and outcome.", "type", "outcome"),
		m.Counter("payment_failures_total", "Payments reported as failed by the provider.").WithLabelValues(),
		log)

	ctx, stop := context.WithCancel(context.Background())
	kc := events.NewClient(cfg.KafkaBrokers)
	var outbox *publisher.OutboxPoller
	if kc.Enabled() {
		pcfg := publisher.DefaultConfig()
		pcfg.StuckAfter = cfg.StuckOrderAfter
		outbox = publisher.NewOutboxPoller(pcfg, repo, materializer, kc.NewWriter(events.TopicOrderEvents),
			m.Counter("outbox_published_total", "Outbox rows published by result.", "result"), log)
		go outbox.Run(ctx)
	} else {
		log.Warn("kafka disabled, order events stay in the outbox")
	}

	carts := cartclient.New(cfg.CartServiceURL, cfg.RequestTimeout, log)
	checkout := checkouthttp.NewCheckoutHandler(builder, materializer, repo, carts, cfg.RequestTimeout, log)
	webhooks := checkouthttp.NewWebhookHandler(eventRouter, cfg.RequestTimeout, log)
	enricher := auth.NewEnricher(memberships, cfg.ProfileTimeout, log)
	handler := checkouthttp.NewRouter(checkout, webhooks, auth.NewVerifier(cfg.JWTSecret), enricher, m, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(handler, "checkout-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("checkout service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down checkout service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	stop()
	if outbox != nil {
		outbox.Close()
	}
	log.Info("checkout service stopped")
}
