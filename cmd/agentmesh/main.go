package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	amhttp "github.com/Strob0t/AgentMesh/internal/adapter/http"
	"github.com/Strob0t/AgentMesh/internal/adapter/memory"
	amnats "github.com/Strob0t/AgentMesh/internal/adapter/nats"
	"github.com/Strob0t/AgentMesh/internal/adapter/otel"
	"github.com/Strob0t/AgentMesh/internal/adapter/postgres"
	"github.com/Strob0t/AgentMesh/internal/adapter/ristretto"
	"github.com/Strob0t/AgentMesh/internal/adapter/ws"
	"github.com/Strob0t/AgentMesh/internal/config"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/logger"
	"github.com/Strob0t/AgentMesh/internal/middleware"
	"github.com/Strob0t/AgentMesh/internal/port/brokerstore"
	"github.com/Strob0t/AgentMesh/internal/port/eventbus"
	"github.com/Strob0t/AgentMesh/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			if errors.Is(err, errInterrupted) {
				os.Exit(130)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"queue_capacity", cfg.Broker.QueueCapacity,
		"durable_queues", cfg.Broker.DurableQueues,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	var metrics *otel.Metrics
	if cfg.Telemetry.Endpoint != "" {
		shutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()

		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	store := postgres.NewStore(pool)

	var broker brokerstore.Store
	if cfg.Broker.DurableQueues {
		broker = postgres.NewBrokerStore(pool, cfg.Broker.QueueCapacity, log)
	} else {
		broker = memory.NewStore(cfg.Broker.QueueCapacity)
	}

	cache, err := ristretto.NewDecisionCache(1<<16, cfg.Broker.PermissionCacheTTL)
	if err != nil {
		return fmt.Errorf("decision cache: %w", err)
	}
	defer cache.Close()

	// --- Event fan-out ---

	hub := ws.NewHub()
	var bus eventbus.Bus = hub
	var queue *amnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = amnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		bus = amnats.NewMirror(hub, queue)
		log.Info("nats mirror enabled", "url", cfg.NATS.URL)
	}

	// --- Services ---

	policy := service.NewAdminPolicy(store, cache, log)
	registrySvc := service.NewRegistryService(store, broker, policy, log)
	protocolSvc := service.NewProtocolService(store, broker, log)
	sessionSvc := service.NewSessionService(store, broker, cfg.Broker, log)
	negotiatorSvc := service.NewNegotiatorService(broker, policy)
	routerSvc := service.NewRouterService(broker, metrics, log)
	crossSvc := service.NewCrossProjectService(routerSvc, policy, log)
	authSvc := service.NewAuthService(store, &cfg.Auth, log)
	agentSvc := service.NewAgentService(store, log)
	meetingSvc := service.NewMeetingService(store, metrics, log)
	coordinatorSvc := service.NewCoordinatorService(meetingSvc, bus, cfg.Coordinator, metrics, log)

	hub.SetInboundHandler(coordinatorSvc.HandleInbound)
	hub.SetReconnectHandler(coordinatorSvc.HandleReconnect)

	// --- Seeding and background work ---

	if err := seedProject(ctx, registrySvc, cfg.Broker.SeedProjectID, log); err != nil {
		return fmt.Errorf("seed project: %w", err)
	}
	if err := authSvc.SeedDefaultAdmin(ctx); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	go sessionSvc.RunGC(ctx)
	authSvc.StartTokenCleanup(ctx, time.Hour)

	if err := coordinatorSvc.Recover(ctx); err != nil {
		log.Error("meeting recovery failed", "error", err)
	}

	// --- HTTP ---

	handlers := &amhttp.Handlers{
		Registry:    registrySvc,
		Policy:      policy,
		Protocols:   protocolSvc,
		Sessions:    sessionSvc,
		Negotiator:  negotiatorSvc,
		Router:      routerSvc,
		Cross:       crossSvc,
		Auth:        authSvc,
		Agents:      agentSvc,
		Meetings:    meetingSvc,
		Coordinator: coordinatorSvc,
		Hub:         hub,
		Ready: func() error {
			if err := pool.Ping(context.Background()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if queue != nil {
				return queue.Healthy()
			}
			return nil
		},
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Endpoint != "" {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(limiter.Handler)
	r.Use(middleware.Auth(authSvc, registrySvc, agentSvc))

	amhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedProject creates the default project namespace on first boot so agents
// can register before any operator intervention. The minted keys are logged
// once at startup.
func seedProject(ctx context.Context, registry *service.RegistryService, projectID string, log *slog.Logger) error {
	if projectID == "" {
		return nil
	}
	if _, err := registry.Get(ctx, projectID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	result, err := registry.Create(ctx, &project.CreateRequest{
		ID:   projectID,
		Name: "Default Project",
	})
	if err != nil {
		return err
	}
	for keyID, plaintext := range result.Keys {
		log.Info("seed project key minted", "project_id", projectID, "key_id", keyID, "api_key", plaintext)
	}
	return nil
}
