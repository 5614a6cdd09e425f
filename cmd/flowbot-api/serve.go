package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"flowbot/internal/api"
	"flowbot/internal/auth"
	"flowbot/internal/config"
	"flowbot/internal/db"
	"flowbot/internal/engine"
	"flowbot/internal/graph"
	"flowbot/internal/jobs"
	"flowbot/internal/metrics"
	"flowbot/internal/pubsub"
	"flowbot/internal/schema"
	"flowbot/internal/session"
	"flowbot/internal/telemetry"
	"flowbot/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Start the HTTP API, WebSocket preview and idle-session worker",
		Action: runServe,
	}
}

func runServe(ctx context.Context, command *cli.Command) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer, err := telemetry.NewTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("Failed to shut down tracer", zap.Error(err))
		}
	}()

	// Database connection
	var dbPool *db.Pool
	if cfg.DatabaseURL != "" {
		dbPool, err = db.NewPool(ctx, cfg.DatabaseURL, 0, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()
	}

	// Redis connection
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	decoder := graph.NewDecoder(schema.NewCompilerWithCache(64))
	graphs, err := newGraphRepository(ctx, cfg, dbPool, decoder)
	if err != nil {
		return err
	}
	cache := graph.NewCache(graphs, cfg.Graph.CacheSize, cfg.Graph.CacheTTL, logger)

	store, err := newSessionStore(cfg, dbPool, rdb)
	if err != nil {
		return err
	}
	locker := newLocker(cfg, rdb, logger)

	m := metrics.New()
	eng := engine.New(cache, session.NewManager(store, cfg.Session.HistoryLimit), locker, logger, engine.Config{
		TurnTimeout: cfg.Engine.TurnTimeout,
		IdleTimeout: cfg.Engine.IdleTimeout,
	})
	eng.SetMetrics(m)
	eng.SetTracer(tracer)
	if dbPool != nil {
		eng.SetTranscript(engine.NewPostgresTranscript(dbPool.Queries))
	}

	// WebSocket hub
	hub := ws.NewHub(logger)
	hub.SetCommandHandler(ws.NewCommandHandler(eng, logger))
	go hub.Run()
	defer hub.Close()

	var bus *pubsub.Bus
	if rdb != nil {
		bus = pubsub.New(rdb, logger)
		bus.SetWSHub(hub)
		hub.SetStreamsProvider(&wsStreamsAdapter{streams: bus.GetStreams()})
		eng.SetEventBus(bus)

		if err := bus.SubscribeActivations(ctx, eng.OnActivated); err != nil {
			return err
		}

		// Background jobs
		jobClient := jobs.NewClient(cfg.RedisAddr)
		defer jobClient.Close()
		eng.SetScheduler(jobClient)

		jobServer := jobs.NewJobServer(cfg.RedisAddr, eng, logger)
		if err := jobServer.Start(); err != nil {
			return fmt.Errorf("failed to start job server: %w", err)
		}
		defer jobServer.Stop()
	} else {
		eng.SetEventBus(hubBus{hub: hub})
		logger.Warn("Redis not configured: idle expiry and activation fan-out are disabled")
	}

	jwtConfig := auth.NewJWTConfig(cfg.JWTSecret)
	jwtConfig.Required = cfg.AuthRequired

	deps := api.Dependencies{
		Engine:  eng,
		Decoder: decoder,
		Hub:     hub,
		Auth:    jwtConfig,
		Log:     logger,
	}
	if bus != nil {
		deps.Bus = bus
	}

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, req)
				return
			}
			middleware.Timeout(60*time.Second)(next).ServeHTTP(w, req)
		})
	})

	r.Mount("/v1", api.Routes(deps))
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting server",
		zap.String("addr", cfg.Addr),
		zap.String("session_store", cfg.Session.Store),
		zap.String("session_lock", cfg.Session.Lock),
		zap.String("graph_source", cfg.Graph.Source),
	)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

func newGraphRepository(ctx context.Context, cfg config.Config, dbPool *db.Pool, decoder *graph.Decoder) (graph.Repository, error) {
	switch cfg.Graph.Source {
	case config.SourceFile:
		repo, err := graph.NewFileRepository(ctx, cfg.Graph.Dir, decoder, cfg.Graph.ActiveWorkflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load graph directory: %w", err)
		}
		return repo, nil
	default:
		return graph.NewPostgresRepository(dbPool.Queries, decoder), nil
	}
}

func newSessionStore(cfg config.Config, dbPool *db.Pool, rdb *redis.Client) (session.Store, error) {
	switch cfg.Session.Store {
	case config.StoreMemory:
		return session.NewMemoryStore(), nil
	case config.StoreRedis:
		return session.NewRedisStore(rdb, cfg.Session.TTL), nil
	case config.StorePostgres:
		return session.NewPostgresStore(dbPool.Queries), nil
	}
	return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
}

func newLocker(cfg config.Config, rdb *redis.Client, log *zap.Logger) session.Locker {
	if cfg.Session.Lock == config.LockRedis {
		return session.NewRedisLocker(rdb, cfg.Session.LockLease, log)
	}
	return session.NewLocalLocker()
}

// hubBus delivers turn events straight to local WebSocket subscribers when
// no Redis bus is configured.
type hubBus struct {
	hub *ws.Hub
}

func (b hubBus) PublishUser(channelUserID string, event map[string]interface{}) error {
	b.hub.Publish(pubsub.UserChannel(channelUserID), event)
	return nil
}

// wsStreamsAdapter adapts pubsub.Streams to ws.StreamsProvider
type wsStreamsAdapter struct {
	streams *pubsub.Streams
}

func (a *wsStreamsAdapter) GetLastSequence(ctx context.Context, channel, connectionID string) (int64, error) {
	return a.streams.GetLastSequence(ctx, channel, connectionID)
}

func (a *wsStreamsAdapter) AcknowledgeSequence(ctx context.Context, channel, connectionID string, sequence int64) error {
	return a.streams.AcknowledgeSequence(ctx, channel, connectionID, sequence)
}

func (a *wsStreamsAdapter) ReplayEvents(ctx context.Context, channel string, sinceSeq int64, limit int64) ([]ws.StreamEvent, error) {
	events, err := a.streams.ReplayEvents(ctx, channel, sinceSeq, limit)
	if err != nil {
		return nil, err
	}

	wsEvents := make([]ws.StreamEvent, len(events))
	for i, e := range events {
		wsEvents[i] = ws.StreamEvent{
			Channel:   e.Channel,
			Sequence:  e.Sequence,
			Event:     e.Event,
			Timestamp: e.Timestamp,
		}
	}
	return wsEvents, nil
}
