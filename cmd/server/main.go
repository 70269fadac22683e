package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hubbridge/internal/actions"
	"hubbridge/internal/audit"
	"hubbridge/internal/hubspot"
	"hubbridge/internal/oauth"
	"hubbridge/internal/platform/config"
	"hubbridge/internal/platform/httpserver"
	"hubbridge/internal/platform/logger"
	"hubbridge/internal/platform/metrics"
	"hubbridge/internal/platform/postgres"
	"hubbridge/internal/platform/redis"
	"hubbridge/internal/session/service"
	"hubbridge/internal/session/store"
	"hubbridge/internal/token"
	transport "hubbridge/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]func() error{}

	// Session store backend: Postgres wins when configured, then Redis,
	// then in-memory for local development.
	var sessions store.Store
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Error("open postgres", "error", err)
		return err
	}
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		return err
	}

	switch {
	case db != nil:
		if err := store.EnsureSchema(ctx, db); err != nil {
			log.Error("ensure session schema", "error", err)
			return err
		}
		sessions = store.NewPostgres(db)
		checks["postgres"] = db.Ping
		defer db.Close()
		log.Info("session store: postgres")
	case redisClient != nil:
		sessions = store.NewRedis(redisClient.Client)
		checks["redis"] = func() error { return redisClient.Health(context.Background()) }
		defer redisClient.Close()
		log.Info("session store: redis")
	default:
		sessions = store.NewInMemory()
		log.Warn("session store: in-memory, sessions are lost on restart")
	}

	// Audit trail: durable store when Postgres is up, plus an optional
	// Kafka sink fed by a background worker.
	var auditStore audit.Store = audit.NewInMemoryStore()
	if db != nil {
		if err := audit.EnsureSchema(ctx, db); err != nil {
			log.Error("ensure audit schema", "error", err)
			return err
		}
		auditStore = audit.NewPostgresStore(db)
	}

	auditBuffer := 0
	if len(cfg.Kafka.Brokers) > 0 {
		auditBuffer = 256
	}
	publisher := audit.NewPublisher(auditStore, log, auditBuffer)

	workerDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.Kafka)
		if err != nil {
			log.Error("connect kafka audit sink", "error", err)
			return err
		}
		go func() {
			defer close(workerDone)
			if err := audit.NewWorker(sink, publisher.Events(), log).Run(ctx); err != nil {
				log.Error("audit worker stopped", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	exchanger := oauth.NewHubSpotExchanger(cfg.HubSpot)
	crm := hubspot.New(cfg.HubSpot, cfg.HubSpot.ActionURL)

	// Callback registry backend follows the session store choice: blocked
	// executions can wait days for a retry, so they must survive restarts.
	var callbacks actions.Registry
	switch {
	case db != nil:
		if err := actions.EnsureSchema(ctx, db); err != nil {
			log.Error("ensure callbacks schema", "error", err)
			return err
		}
		callbacks = actions.NewPostgresRegistry(db)
	case redisClient != nil:
		callbacks = actions.NewRedisRegistry(redisClient.Client)
	default:
		callbacks = actions.NewInMemoryRegistry()
		log.Warn("callback registry: in-memory, pending callbacks are lost on restart")
	}

	installs := service.New(sessions, exchanger, crm, exchanger, publisher, log, m, cfg.InstallTTL)
	resolver := token.NewResolver(sessions, exchanger, publisher, log, m)
	acts := actions.NewService(callbacks, crm, resolver, log)

	handler := transport.NewHandler(installs, resolver, crm, acts, log, cfg.InstallTTL)
	srv := httpserver.New(cfg.Addr, transport.NewRouter(handler, log, checks))

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
		return err
	}
	<-workerDone
	return nil
}
