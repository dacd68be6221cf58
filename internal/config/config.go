package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"menulink"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"menulink"`
	DBName     string `envconfig:"DB_NAME" default:"menulink"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`

	// NotifyWebhookURL is where the notify worker posts order notifications.
	// Empty disables delivery (events are still consumed and logged).
	NotifyWebhookURL string `envconfig:"NOTIFY_WEBHOOK_URL" default:""`

	// DLQReplay switches the dlq-monitor from passive tailing to replaying
	// parked messages onto their original topic.
	DLQReplay bool `envconfig:"DLQ_REPLAY" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}
