package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"translator-backend/cmd"
	"translator-backend/internal/api"
	"translator-backend/internal/config"
	"translator-backend/internal/messaging"
)

func main() {
	log.Println("Starting translator...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	receiver, err := messaging.NewRequestReceiver(cfg.RabbitMQURL, cfg.RequestQueue, cfg.DeadLetterExchange, cfg.RequestPrefetch)
	if err != nil {
		log.Fatalf("Failed to connect request queue: %v", err)
	}

	events, err := messaging.NewEventPublisher(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		log.Fatalf("Failed to connect events exchange: %v", err)
	}

	runtime, err := cmd.NewRuntime(cfg, receiver, events, messaging.AMQPProtocol)
	if err != nil {
		log.Fatalf("Failed to initialize translator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.Start(ctx); err != nil {
		log.Fatalf("Failed to start translator: %v", err)
	}

	server := cmd.NewHTTPServer(cfg.HTTPPort, api.NewRouter(runtime.APIService(nil, nil), false))
	go func() {
		slog.Info("http server started", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not listen on %d: %v", cfg.HTTPPort, err)
		}
	}()

	slog.Info("translator started, waiting for requests",
		"request_queue", cfg.RequestQueue,
		"events_exchange", cfg.EventsExchange,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, draining in-flight work", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if err := runtime.Shutdown(shutdownCtx); err != nil {
		slog.Error("translator shutdown incomplete", "error", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
	}

	slog.Info("translator stopped")
}
