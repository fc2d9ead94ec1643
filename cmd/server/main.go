// cmd/server/main.go
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

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/javajoker/marketstock/internal/cache"
	"github.com/javajoker/marketstock/internal/config"
	"github.com/javajoker/marketstock/internal/database"
	"github.com/javajoker/marketstock/internal/i18n"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/router"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/telemetry"
	"github.com/javajoker/marketstock/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	log := utils.NewLogger(cfg.Environment, cfg.LogLevel, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx := context.Background()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize telemetry")
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db, log)

	// Run database migrations
	if err := database.RunMigrations(db, log); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.LocalesPath, cfg.I18n.DefaultLocale); err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	var orderOpts []services.OrderOption
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to redis")
		}
		defer client.Close()
		ttl := time.Duration(cfg.Redis.ReservationTTL) * time.Hour
		orderOpts = append(orderOpts, services.WithNumberReserver(cache.NewOrderNumberReserver(client, ttl)))
		log.WithField("addr", cfg.Redis.Addr()).Info("Order number reservations enabled")
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(repository.NewPostgresRepository(db), cfg, log, orderOpts...)
	defer r.Close()

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      otelhttp.NewHandler(r.Engine, "marketstock"),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":       cfg.Server.Port,
			"stock_mode": cfg.Orders.StockMode,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to flush telemetry")
	}

	log.Info("Server exited")
}
