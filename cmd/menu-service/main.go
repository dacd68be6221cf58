package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"menulink/internal/config"
	"menulink/internal/events"
	"menulink/internal/lifecycle"
	"menulink/internal/menu"
	"menulink/internal/orders"
	"menulink/internal/ordersync"
	"menulink/internal/realtime"
	"menulink/internal/storage"
	"menulink/pkg/models"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := storage.Connect(cfg.DSN(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := storage.CreateTables(db); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	orderRepo := storage.NewPostgresOrderRepository(db)
	menuRepo := storage.NewPostgresMenuRepository(db)

	bus := realtime.NewBus(logger)
	defer bus.Close()

	hub := realtime.NewHub(bus, logger)
	views := ordersync.NewManager(orderRepo, bus, logger)
	defer views.Close()

	timers := lifecycle.NewRestoreTimers(models.RestoreWindow, nil, logger)
	defer timers.Close()

	menuService := menu.NewService(menuRepo, logger)
	orderService := orders.NewService(orderRepo, menuRepo, bus, producer, logger)
	transitions := lifecycle.NewController(orderRepo, views, bus, producer, timers, logger)

	handler := orders.NewHandler(orderService, menuService, views, transitions, hub, logger)

	router := mux.NewRouter()
	handler.Routes(router)
	router.Use(orders.LoggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.HTTPPort).Info("Starting menu service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}
