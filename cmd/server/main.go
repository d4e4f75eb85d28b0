package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkden-lab/beacon/docs"
	"github.com/darkden-lab/beacon/internal/cache"
	"github.com/darkden-lab/beacon/internal/config"
	"github.com/darkden-lab/beacon/internal/control"
	"github.com/darkden-lab/beacon/internal/db"
	"github.com/darkden-lab/beacon/internal/deadletter"
	"github.com/darkden-lab/beacon/internal/events"
	"github.com/darkden-lab/beacon/internal/health"
	"github.com/darkden-lab/beacon/internal/hooks"
	"github.com/darkden-lab/beacon/internal/logging"
	mw "github.com/darkden-lab/beacon/internal/middleware"
	"github.com/darkden-lab/beacon/internal/queue"
	"github.com/darkden-lab/beacon/internal/subscriptions"
	"github.com/darkden-lab/beacon/internal/supervisor"
	"github.com/darkden-lab/beacon/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.Error().Err(err).Msg("beacon stopped")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Secrets
	vc, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		return err
	}
	if err := config.ApplyVaultSecrets(ctx, cfg, vc); err != nil {
		return err
	}
	if cfg.Security.EnvSecret == "" {
		logging.Warn().Msg("no environment secret configured, control messages will be rejected")
	}

	// Durable store
	var (
		database    *db.DB
		subStore    subscriptions.Store
		deadLetters deadletter.Store
	)
	if cfg.Database.URL != "" {
		database, err = db.New(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return err
		}
		subStore = subscriptions.NewPgStore(database.Pool)
		deadLetters = deadletter.NewPgStore(database.Pool)
	} else {
		logging.Warn().Msg("no database configured, using in-memory stores")
		subStore = subscriptions.NewMemoryStore()
		deadLetters = deadletter.NewMemoryStore()
	}

	// Cache
	cacheStore, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	// Queue
	q, err := queue.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	// Control plane
	bus := control.NewBus()
	defer bus.Close()
	flags := control.NewFlags()
	if err := flags.Attach(bus); err != nil {
		return err
	}

	// Pipeline
	registry := subscriptions.NewRegistry(subStore, cacheStore, cfg.Cache.SubscriptionsTTL)
	hub := ws.NewHub()
	registry.SetEmitter(hub)

	dispatcher := hooks.NewDispatcher(&http.Client{}, hooks.DispatcherConfig{
		Timeout:         cfg.Webhook.Timeout,
		MaxRetries:      cfg.Webhook.MaxRetries,
		InitialInterval: cfg.Webhook.InitialInterval,
	})
	scheduler := hooks.NewScheduler(cacheStore, dispatcher, cfg.Cache.HooksTTL, cfg.Location())

	router := events.NewRouter(registry, scheduler, bus, events.Secrets{
		Environment: cfg.Security.Environment,
		EnvSecret:   cfg.Security.EnvSecret,
	})
	consumer := queue.NewConsumer(q, router, deadLetters, queue.ConsumerConfig{
		BatchSize:            cfg.Queue.BatchSize,
		MaxConsecutiveErrors: cfg.Queue.MaxConsecutiveErrors,
	})
	producer := queue.NewProducer(q, queue.ProducerConfig{
		Source:  cfg.Queue.Source,
		FIFO:    cfg.Queue.FIFO,
		GroupID: cfg.Queue.GroupID,
	})

	// Health
	monitor := health.NewMonitor(cfg.Health.Interval, cfg.Health.Timeout, hub)
	monitor.Add("cache", cacheStore)
	monitor.Add("queue", q)
	if database != nil {
		monitor.Add("database", database)
	}

	wsServer := ws.NewServer(hub, registry, producer, ws.ParseOrigins(cfg.Server.AllowedOrigins))
	wsServer.SetReadiness(monitor)

	limiter := mw.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	defer limiter.Close()

	r := mux.NewRouter()
	r.Use(mw.Recover, mw.RequestLogger, mw.CORS(ws.ParseOrigins(cfg.Server.AllowedOrigins)), flags.Middleware)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.Handle("/readyz", monitor).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	wsServer.RegisterRoutes(r)
	docs.RegisterRoutes(r)

	// Rate-limited REST API
	api := r.NewRoute().Subrouter()
	api.Use(limiter.Middleware)
	api.Handle("/api/flags", flags).Methods(http.MethodGet)
	for _, h := range []interface{ RegisterRoutes(*mux.Router) }{
		queue.NewHandlers(producer),
		hooks.NewHandlers(scheduler),
		subscriptions.NewHandlers(registry),
		deadletter.NewHandlers(deadLetters),
	} {
		h.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Supervision
	var queueFault atomic.Bool
	treeCtx, halt := context.WithCancel(ctx)
	defer halt()
	tree := supervisor.NewTree(supervisor.TreeConfig{})
	tree.AddPipelineService(supervisor.NewService("consumer", func(ctx context.Context) error {
		err := consumer.Serve(ctx)
		if errors.Is(err, queue.ErrQueueFault) {
			queueFault.Store(true)
			halt()
		}
		return err
	}, queue.ErrQueueFault))
	tree.AddPipelineService(supervisor.NewService("health", monitor.Serve, nil))
	tree.AddEdgeService(supervisor.NewService("hub", hub.Run, nil))
	tree.AddEdgeService(supervisor.NewHTTPService(srv, 10*time.Second))

	logging.Info().
		Str("port", cfg.Server.Port).
		Str("queue", cfg.Queue.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("beacon starting")

	err = tree.Serve(treeCtx)
	if queueFault.Load() {
		return fmt.Errorf("consumer halted: %w", queue.ErrQueueFault)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("beacon stopped gracefully")
	return nil
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
