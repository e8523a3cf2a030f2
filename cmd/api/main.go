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

	"github.com/acme/call-dispatch-engine/internal/api"
	"github.com/acme/call-dispatch-engine/internal/app"
	"github.com/acme/call-dispatch-engine/internal/telemetry"
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
	logger := container.Logger.Component("api")

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "api")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), container.Config.Telemetry.ShutdownTimeout)
		defer scancel()
		_ = shutdown(sctx)
	}()

	if err := container.EnsureTopics(ctx); err != nil {
		logger.Warn("kafka topics not ensured", zap.Error(err))
	}

	handlerSet, err := container.HandlerSet()
	if err != nil {
		logger.Fatal("failed to build handlers", zap.Error(err))
	}
	if err := container.StartEngine(ctx); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	server := api.NewServer(container.Config.HTTP, handlerSet)
	logger.Info("starting server", zap.Int("port", container.Config.HTTP.Port))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
