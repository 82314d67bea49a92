package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"translator-backend/cmd"
	"translator-backend/internal/api"
	"translator-backend/internal/config"
	"translator-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Root      string `env:"ROOT" envDefault:"./translator-local"`
	Port      int    `env:"PORT" envDefault:"3001"`
	QueueSize int    `env:"LOCAL_QUEUE_SIZE" envDefault:"1000"`
}

func main() {
	var localCfg Config
	if err := env.Parse(&localCfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(filepath.Join(localCfg.Root, "db"), os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(localCfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sqlite://" + filepath.Join(localCfg.Root, "db", "translator.db")
	}

	slog.Info("starting local translator", "root", localCfg.Root, "port", localCfg.Port, "database", cfg.DatabaseURL)

	requests := messaging.NewInMemoryQueue(localCfg.QueueSize)
	events := messaging.NewInMemoryBroadcaster()

	runtime, err := cmd.NewRuntime(cfg, requests, events, messaging.InMemoryProtocol)
	if err != nil {
		log.Fatalf("Failed to initialize translator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.Start(ctx); err != nil {
		log.Fatalf("Failed to start translator: %v", err)
	}

	server := cmd.NewHTTPServer(localCfg.Port, api.NewRouter(runtime.APIService(requests, events), true))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
		defer cancel()

		// event streams hold connections open until the broadcaster closes
		if err := runtime.Shutdown(ctx); err != nil {
			slog.Error("translator shutdown incomplete", "error", err)
		}

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", localCfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Could not listen on %d: %v", localCfg.Port, err)
	}

	slog.Info("server stopped")
}
