package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/app"
	"github.com/acme/call-dispatch-engine/internal/telemetry"
	"github.com/acme/call-dispatch-engine/internal/worker/relay"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())
	logger := container.Logger.Component("eventrelay")

	if container.Kafka == nil || container.MQTT == nil {
		logger.Fatal("event relay needs both kafka and mqtt enabled")
	}

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "eventrelay")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to ensure kafka topics", zap.Error(err))
	}

	cfg := container.Config.Kafka
	reader := container.Kafka.NewReader(cfg.EventTopic, cfg.ConsumerGroupID)
	worker := relay.New(reader, container.MQTT, logger)

	logger.Info("relaying events", zap.String("topic", cfg.EventTopic), zap.String("group", cfg.ConsumerGroupID))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
