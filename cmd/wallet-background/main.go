package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yakkl-background/internal/backend"
	"yakkl-background/internal/clock"
	"yakkl-background/internal/config"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/handler"
	"yakkl-background/internal/idle"
	"yakkl-background/internal/messaging"
	"yakkl-background/internal/middleware"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/port"
	"yakkl-background/internal/repository/postgres"
	"yakkl-background/internal/router"
	"yakkl-background/internal/security"
	"yakkl-background/internal/service"
	"yakkl-background/internal/session"
	"yakkl-background/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting wallet background",
		slog.String("environment", cfg.Environment),
		slog.String("runtime_context", cfg.RuntimeContext.String()))

	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	db, err := config.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.PingContext(connCtx); err != nil {
		slog.Error("database ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to postgresql")

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Redis is optional: the session token and blacklist fall back to memory
	var store domain.KeyValueStore = storage.NewMemoryStore()
	var redisCheck handler.Pinger
	if cfg.RedisURL != "" {
		client, err := config.NewRedisClient(connCtx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory session storage",
				slog.String("error", err.Error()))
		} else {
			defer client.Close()
			redisStore := storage.NewRedisStore(client)
			store = redisStore
			redisCheck = redisStore
			slog.Info("connected to redis")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// RabbitMQ is optional: activity events are dropped when it is not configured
	var publisher domain.ActivityPublisher = messaging.NoopPublisher{}
	var brokerCheck handler.BrokerStatus
	var rmq *messaging.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err = messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()
		publisher = rmq
		brokerCheck = rmq
		slog.Info("connected to rabbitmq")
	}

	if err := security.ValidateEndpoint(cfg.RPCURL, cfg.RPCBlockPrivate); err != nil {
		slog.Error("invalid rpc endpoint", slog.String("error", err.Error()))
		os.Exit(1)
	}
	httpClient := &http.Client{Timeout: cfg.RPCTimeout}
	if cfg.RPCBlockPrivate {
		httpClient = security.NewSafeClient(cfg.RPCTimeout)
	}
	rpcBackend := backend.WithRetry(
		backend.WithRateLimit(backend.NewClient(cfg.RPCURL, httpClient), cfg.RPCRateLimit, cfg.RPCBurst),
		200*time.Millisecond,
		cfg.RPCTimeout,
	)

	clk := clock.Real()
	registry := port.NewRegistry(clk)

	keys, err := session.NewDailyKeys(cfg.SessionSecret, clk)
	if err != nil {
		slog.Error("failed to derive session keys", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sessions := session.NewManager(store, keys, clk, cfg.SessionTTL)

	connectionService := service.NewConnectionService(postgres.NewConnectionRepository(db))

	requestRouter := router.New(router.Deps{
		Backend:     rpcBackend,
		Connections: connectionService,
		Sessions:    sessions,
		Approver:    service.NewPortApprover(registry),
		Tracker:     registry,
		Activity:    publisher,
		Clock:       clk,
	}, router.Config{
		ChainID:         cfg.ChainID,
		ApprovalTimeout: cfg.ApprovalTimeout,
		SimulationTTL:   cfg.SimulationTTL,
	})

	authService := service.NewAuthService(sessions, requestRouter, registry)
	authService.SetRefreshThreshold(cfg.RefreshThreshold)

	watchdog := session.NewWatchdog(sessions, clk, cfg.SessionGracePeriod, authService.Expire)
	authService.BindWatchdog(watchdog)

	platform := idle.NewReportedPlatform()
	idleMachine, err := idle.NewMachine(cfg.RuntimeContext, idle.Config{
		Threshold:    cfg.IdleThreshold,
		LockDelay:    cfg.IdleLockDelay,
		PollInterval: cfg.IdlePollInterval,
	}, clk, platform, service.NewPortNotifier(registry), authService)
	if err != nil {
		slog.Error("failed to create idle machine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// Idle detection starts with the first login
	authService.BindIdle(idleMachine)
	defer idleMachine.Stop()

	dispatcher := service.NewDispatcher(requestRouter, authService, idleMachine, platform)

	go runLoop(ctx, "port sweep", func(ctx context.Context) error {
		return registry.Run(ctx, cfg.PortSweep)
	})
	go runLoop(ctx, "blacklist sweep", func(ctx context.Context) error {
		return sessions.Run(ctx, cfg.BlacklistSweep)
	})
	go runLoop(ctx, "session watchdog", func(ctx context.Context) error {
		return watchdog.Run(ctx, cfg.SessionCheckEvery)
	})
	slog.Info("background loops started")

	if rmq != nil {
		feed := messaging.NewActivityConsumer(rmq, func(ctx context.Context, event *domain.ActivityEvent) {
			registry.Broadcast(domain.PortInternal, domain.Event{Event: domain.EventActivity, Data: event})
		})
		if err := feed.Start(ctx); err != nil {
			slog.Error("failed to start activity feed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)

	portHandler := handler.NewPortHandler(ctx, registry, dispatcher, requestRouter, origins)
	sessionHandler := handler.NewSessionHandler(authService)
	connectionHandler := handler.NewConnectionHandler(connectionService)
	activityHandler := handler.NewActivityHandler(postgres.NewActivityRepository(db))
	approvalHandler := handler.NewApprovalHandler(requestRouter)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(origins))
	r.Use(middleware.Metrics())
	r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig(cfg.OpenAPISpec, cfg.IsProduction())))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db, redisCheck, brokerCheck))
	r.Handle("/metrics", promhttp.Handler())

	// Ports authenticate by origin, not by session token
	r.Get("/ws/{kind}", portHandler.HandleConnection)

	r.Route("/api/v1", func(r chi.Router) {
		apiLimiter := middleware.NewRateLimiter(ctx, 20, 50)

		r.Use(apiLimiter.Middleware())
		r.Use(middleware.Auth(sessions))

		r.Get("/session", sessionHandler.Get)
		r.Post("/session/refresh", sessionHandler.Refresh)
		r.Post("/session/logout", sessionHandler.Logout)
		r.Post("/session/blacklist/clear", sessionHandler.ClearBlacklist)

		r.Get("/connections", connectionHandler.List)
		r.Delete("/connections/{domain}", connectionHandler.Revoke)
		r.Get("/connections/{domain}/activity", activityHandler.Recent)

		r.Get("/approvals", approvalHandler.List)
		r.Post("/approvals/{id}/approve", approvalHandler.Approve)
		r.Post("/approvals/{id}/reject", approvalHandler.Reject)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wallet background listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	requestRouter.RejectAll(shutdownCtx, domain.AuthError("Wallet background stopped"))
	registry.Shutdown()
	cancel()

	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped gracefully")
}

// runLoop runs a blocking background task and logs how it ended
func runLoop(ctx context.Context, name string, run func(ctx context.Context) error) {
	if err := run(ctx); err != nil && err != context.Canceled {
		slog.Error("background loop failed",
			slog.String("loop", name),
			slog.String("error", err.Error()))
	}
}
