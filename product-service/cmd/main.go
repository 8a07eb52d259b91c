package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courtside/storefront/pkg/config"
	"github.com/courtside/storefront/pkg/logger"
	"github.com/courtside/storefront/pkg/metrics"
	producthttp "github.com/courtside/storefront/product-service/internal/http"
	"github.com/courtside/storefront/product-service/internal/repository"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	HTTPPort        string
	DB              repository.Credentials
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	config.Load()
	return &Config{
		HTTPPort: config.GetEnv("PRODUCT_SERVICE_PORT", "8084"),
		DB: repository.Credentials{
			Host:     config.GetEnv("DB_HOST", "localhost"),
			Port:     config.GetInt("DB_PORT", 5432),
			User:     config.GetEnv("DB_USER", "postgres"),
			Password: config.GetEnv("DB_PASSWORD", "postgres"),
			DBName:   config.GetEnv("DB_NAME", "storefront"),
		},
		RequestTimeout:  config.GetDuration("REQUEST_TIMEOUT", 5*time.Second),
		ShutdownTimeout: 10 * time.Second,
	}
}

func main() {
	cfg := loadConfig()
	log := logger.New("product-service")

	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	m := metrics.NewServerMetrics("product")
	handler := producthttp.NewProductHandler(repo, cfg.RequestTimeout, log)
	router := producthttp.NewRouter(handler, m, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "product-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("product service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down product service")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("product service stopped")
}
