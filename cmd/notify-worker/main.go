package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"menulink/internal/config"
	"menulink/internal/events"
	"menulink/internal/notify"
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

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, logger)
		logger.WithField("webhook", cfg.NotifyWebhookURL).Info("Using webhook notifier")
	} else {
		notifier = notify.NewLogNotifier(logger)
		logger.Info("No webhook configured, notifications will be logged")
	}

	breaker := notify.NewBreaker(5, 30*time.Second, logger)
	handler := notify.NewHandler(notifier, breaker, logger)

	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, "notify-worker-group", handler, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("Starting notify worker")
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Consumer stopped with error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down notify worker...")
	cancel()

	metrics := consumer.GetMetrics()
	logger.WithFields(logrus.Fields{
		"processed": metrics.ProcessedCount,
		"succeeded": metrics.SuccessCount,
		"retried":   metrics.RetryCount,
		"dlq":       metrics.DLQCount,
	}).Info("Notify worker stopped")
}
