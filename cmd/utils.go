package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"translator-backend/internal/api"
	"translator-backend/internal/cache"
	"translator-backend/internal/config"
	"translator-backend/internal/core"
	"translator-backend/internal/database"
	"translator-backend/internal/inference"
	"translator-backend/internal/messaging"
	"translator-backend/internal/metrics"
	"translator-backend/internal/results"
	"translator-backend/internal/server"
	"translator-backend/internal/tracing"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// BuildEngines uses the remote inference server when one is configured and
// the stub engines otherwise.
func BuildEngines(cfg config.Config) (inference.Engines, error) {
	if cfg.InferenceURL != "" {
		slog.Info("using remote inference server", "url", cfg.InferenceURL)
		return inference.NewHTTPEngines(cfg.InferenceURL, cfg.InferenceTimeout, cfg.InferenceRetries), nil
	}

	stub := inference.StubConfig{}
	if cfg.StubDictionary != "" {
		dictionary, err := inference.LoadStubDictionary(cfg.StubDictionary)
		if err != nil {
			return inference.Engines{}, err
		}
		stub.Dictionary = dictionary
	}
	slog.Warn("no inference server configured, using stub engines", "dictionary", cfg.StubDictionary)
	return inference.NewStubEngines(stub), nil
}

// Runtime holds every long lived component of a translator process.
type Runtime struct {
	Config    config.Config
	Engines   inference.Engines
	Stats     *metrics.ServerStats
	Store     *cache.Store
	Database  *database.Service
	Sampler   *results.SystemSampler
	Publisher *results.Publisher
	Manager   *core.Manager
	Server    *server.Server

	receiver messaging.Receiver
	events   messaging.Publisher

	stopIngress    context.CancelFunc
	stopBackground context.CancelFunc
	background     sync.WaitGroup
	stopTracing    func(context.Context) error
	serverStopped  chan struct{}
}

// NewRuntime wires the dispatch core on top of the given transport.
func NewRuntime(cfg config.Config, receiver messaging.Receiver, events messaging.Publisher, protocolName string) (*Runtime, error) {
	engines, err := BuildEngines(cfg)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.RedisURL, cache.Options{
		MaxFailures:      cfg.RedisMaxFailures,
		OperationTimeout: cfg.RedisOperationTimeout,
		SweepInterval:    cfg.CacheSweepInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating cache: %w", err)
	}

	var db *database.Service
	if cfg.DatabaseURL != "" {
		db = database.NewService(cfg.DatabaseURL, database.ServiceOptions{})
	}

	stats := metrics.NewServerStats()
	sampler := results.NewSystemSampler(cfg.SystemSampleInterval)
	publisher := results.NewPublisher(events, sampler, stats, results.Config{
		Protocol:     protocolName,
		ModelVersion: engines.ModelVersion,
	})
	if db != nil {
		publisher.SetSink(db)
	}

	translations := cache.NewTranslationCache(store, cfg.TranslationCacheTTL)
	processor := core.NewTranslationProcessor(engines.Translator, translations, publisher, stats, engines.ModelName)
	manager := core.NewManager(core.OptionsFromConfig(cfg), processor, publisher, stats)

	var archive server.Archive
	if db != nil {
		archive = db
	}

	srv := server.New(server.Deps{
		Receiver:   receiver,
		Manager:    manager,
		Publisher:  publisher,
		Engines:    engines,
		AudioCache: cache.NewAudioCache(store, cfg.TranslationCacheTTL, cfg.VoiceProfileCacheTTL),
		Archive:    archive,
		Stats:      stats,
	}, server.Config{
		MaxTranslationLength: cfg.MaxTranslationLength,
		PortPub:              cfg.PortPub,
		PortPull:             cfg.PortPull,
		AudioWorkers:         cfg.AudioWorkers,
		RateLimit:            cfg.IngressRateLimit,
		RateBurst:            cfg.IngressRateBurst,
		ShutdownTimeout:      cfg.ShutdownTimeout,
	})

	return &Runtime{
		Config:        cfg,
		Engines:       engines,
		Stats:         stats,
		Store:         store,
		Database:      db,
		Sampler:       sampler,
		Publisher:     publisher,
		Manager:       manager,
		Server:        srv,
		receiver:      receiver,
		events:        events,
		serverStopped: make(chan struct{}),
	}, nil
}

// Start launches the background components and the ingress loop.
func (r *Runtime) Start(ctx context.Context) error {
	if r.Config.TracingEnabled {
		stop, err := tracing.InitTracer("translator", os.Stdout)
		if err != nil {
			return err
		}
		r.stopTracing = stop
	}

	backgroundCtx, stopBackground := context.WithCancel(ctx)
	ingressCtx, stopIngress := context.WithCancel(ctx)
	r.stopBackground = stopBackground
	r.stopIngress = stopIngress

	r.Store.Ping(ctx)
	if r.Database != nil {
		r.Database.Start(backgroundCtx)
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		r.Sampler.Run(backgroundCtx)
	}()

	// Workers outlive ingress so Stop can drain the lanes.
	r.Manager.Start(ctx)

	go func() {
		defer close(r.serverStopped)
		if err := r.Server.Run(ingressCtx); err != nil {
			slog.Error("ingress loop stopped with error", "error", err)
		}
	}()

	slog.Info("translator started",
		"audio_pipeline_available", r.Engines.AudioPipelineAvailable(),
		"cache_mode", r.Store.Mode(),
		"database", r.Database != nil,
	)
	return nil
}

// APIService exposes the runtime over HTTP. requests and events are only
// passed in local mode.
func (r *Runtime) APIService(requests messaging.Publisher, events api.Events) *api.BackendService {
	return api.NewBackendService(api.Options{
		Stats:                  r.Stats,
		Store:                  r.Store,
		Database:               r.Database,
		AudioPipelineAvailable: r.Engines.AudioPipelineAvailable(),
		Requests:               requests,
		Events:                 events,
	})
}

// Shutdown stops ingress first, lets in-flight work finish within ctx, then
// closes the transports and storage.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	r.receiver.Close()
	if r.stopIngress != nil {
		r.stopIngress()
		<-r.serverStopped
	}

	if err := r.Server.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("error waiting for tasks: %w", err))
	}
	if err := r.Manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("error stopping translation manager: %w", err))
	}

	if r.stopBackground != nil {
		r.stopBackground()
	}
	r.background.Wait()
	r.events.Close()
	if r.Database != nil {
		r.Database.Close()
	}
	r.Store.Close()

	if r.stopTracing != nil {
		if err := r.stopTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("error flushing traces: %w", err))
		}
	}
	return errors.Join(errs...)
}

func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
}
