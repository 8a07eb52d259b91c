package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courtside/storefront/notification-service/internal/notifier"
	"github.com/courtside/storefront/pkg/config"
	"github.com/courtside/storefront/pkg/events"
	"github.com/courtside/storefront/pkg/logger"
	"github.com/courtside/storefront/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	HTTPPort            string
	EmailProvider       string
	EmailFrom           string
	EmailFromName       string
	PostmarkServerToken string
	PostmarkBaseURL     string
	SendGridAPIKey      string
	SendGridHost        string
	SendTimeout         time.Duration
	KafkaBrokers        string
	RedisAddr           string
	RedisPassword       string
	DedupeTTL           time.Duration
	ShutdownTimeout     time.Duration
}

func loadConfig() *Config {
	config.Load()
	return &Config{
		HTTPPort:            config.GetEnv("NOTIFICATION_SERVICE_PORT", "8083"),
		EmailProvider:       config.GetEnv("EMAIL_PROVIDER", "postmark"),
		EmailFrom:           config.GetEnv("EMAIL_FROM", "orders@courtside.example"),
		EmailFromName:       config.GetEnv("EMAIL_FROM_NAME", "Courtside"),
		PostmarkServerToken: config.GetEnv("POSTMARK_SERVER_TOKEN", ""),
		PostmarkBaseURL:     config.GetEnv("POSTMARK_BASE_URL", ""),
		SendGridAPIKey:      config.GetEnv("SENDGRID_API_KEY", ""),
		SendGridHost:        config.GetEnv("SENDGRID_HOST", ""),
		SendTimeout:         config.GetDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		KafkaBrokers:        config.GetEnv("KAFKA_BROKERS", "localhost:9092"),
		RedisAddr:           config.GetEnv("REDIS_ADDR", ""),
		RedisPassword:       config.GetEnv("REDIS_PASSWORD", ""),
		DedupeTTL:           config.GetDuration("NOTIFICATION_DEDUPE_TTL", notifier.DefaultDedupeTTL),
		ShutdownTimeout:     10 * time.Second,
	}
}

func newMailer(cfg *Config) (notifier.Mailer, error) {
	switch cfg.EmailProvider {
	case "postmark":
		if cfg.PostmarkServerToken == "" {
			return nil, errors.New("POSTMARK_SERVER_TOKEN is not set")
		}
		return notifier.NewPostmarkMailer(cfg.PostmarkServerToken, cfg.EmailFrom, cfg.PostmarkBaseURL, cfg.SendTimeout), nil
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, errors.New("SENDGRID_API_KEY is not set")
		}
		return notifier.NewSendGridMailer(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFrom, cfg.SendGridHost), nil
	default:
		return nil, errors.New("unknown EMAIL_PROVIDER " + cfg.EmailProvider)
	}
}

func newRouter(m *metrics.ServerMetrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", m.Handler())
	return r
}

func main() {
	cfg := loadConfig()
	log := logger.New("notification-service")

	mailer, err := newMailer(cfg)
	if err != nil {
		log.Error("failed to configure mailer", "error", err)
		os.Exit(1)
	}
	log.Info("email provider configured", "provider", cfg.EmailProvider)

	ctx := context.Background()
	var deduper notifier.Deduper
	if cfg.RedisAddr != "" {
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
		deduper = notifier.NewRedisDeduper(redisClient, cfg.DedupeTTL)
	} else {
		log.Warn("redis disabled, redelivered order events may send duplicate emails")
	}

	kc := events.NewClient(cfg.KafkaBrokers)
	if !kc.Enabled() {
		log.Error("KAFKA_BROKERS is empty, nothing to consume")
		os.Exit(1)
	}

	m := metrics.NewServerMetrics("notification")
	consumer := notifier.NewConsumer(kc.NewReader(events.TopicOrderEvents, "notification-service-consumer"), mailer, deduper, log,
		m.Counter("order_confirmations_total", "Order confirmation emails by outcome.", "outcome"))

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	go consumer.Run(consumeCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(newRouter(m), "notification-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("notification service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdown(srv, consumer, stopConsumer, cfg.ShutdownTimeout, log)
}

func shutdown(srv *http.Server, consumer *notifier.Consumer, stopConsumer context.CancelFunc, timeout time.Duration, log *slog.Logger) {
	log.Info("shutting down notification service")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	stopConsumer()
	consumer.Close()
	log.Info("notification service stopped")
}
