package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/kbai/pkg/auth"
	"github.com/platinummonkey/kbai/pkg/config"
	"github.com/platinummonkey/kbai/pkg/extract"
	"github.com/platinummonkey/kbai/pkg/index"
	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/query"
	"github.com/platinummonkey/kbai/pkg/search"
	"github.com/platinummonkey/kbai/pkg/server"
	"github.com/platinummonkey/kbai/pkg/storage"
	"github.com/platinummonkey/kbai/pkg/tools"
	"github.com/platinummonkey/kbai/pkg/trace"
)

const version = "1.0.0"

const providerTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting kbai")

	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to initialize storage")
		os.Exit(2)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err != nil {
		logger.WithError(err).Error("storage health check failed")
		os.Exit(2)
	}
	logger.WithField("type", cfg.Storage.Type).Info("storage initialized")

	// Sessions back issued tokens; without SQLite they live in memory
	// and do not survive restarts.
	var sessions auth.SessionStore
	var sqliteSessions *storage.SQLiteSessionStore
	if cfg.Auth.SessionDB != "" {
		sqliteSessions, err = storage.NewSQLiteSessionStore(cfg.Auth.SessionDB)
		if err != nil {
			logger.WithError(err).Error("failed to open session database")
			os.Exit(2)
		}
		defer sqliteSessions.Close()
		sessions = sqliteSessions
	} else {
		logger.Warn("KBAI_SESSION_DB not set, sessions are in-memory only")
		sessions = auth.NewMemorySessionStore()
	}

	gate := auth.NewGate(auth.Config{
		SigningKey: []byte(cfg.Auth.SigningKey),
		APIKey:     cfg.Auth.APIKey,
		TokenTTL:   cfg.Auth.TokenTTL,
	}, sessions)

	embedder := index.NewHTTPEmbedder(cfg.Providers.EmbedderURL, cfg.Providers.EmbedderModel, providerTimeout)
	if embedder == nil {
		logger.Warn("no embedder configured, dense retrieval disabled")
	}

	builder := index.NewBuilder(store, embedderOrNil(embedder), logger)
	manager := index.NewManager(store, builder, logger)
	retriever := search.NewRetriever(manager, builder, embedderOrNil(embedder), logger)

	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewDatetimeTool()); err != nil {
		logger.WithError(err).Error("failed to register datetime tool")
		os.Exit(2)
	}
	if web := tools.NewWebSearchTool(cfg.Providers.SearxURL, providerTimeout); web != nil {
		if err := registry.Register(web); err != nil {
			logger.WithError(err).Error("failed to register web search tool")
			os.Exit(2)
		}
	} else {
		logger.Warn("no search provider configured, web search disabled")
	}

	completer := query.NewHTTPCompleter(cfg.Providers.CompleterURL, cfg.Providers.CompleterModel,
		cfg.Providers.CompleterKey, providerTimeout)
	if completer == nil {
		logger.Warn("no completer configured, answers use extractive fallback")
	}

	orchestrator := query.NewOrchestrator(store, retriever, registry, completerOrNil(completer), logger)
	ring := trace.NewRing(cfg.Trace.MaxRecords, cfg.Trace.MaxAge)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	var metaDB = sqliteDB(sqliteSessions)
	health := observability.NewHealthChecker(store, metaDB, version)

	srv := server.NewServer(cfg, server.Services{
		Storage:      store,
		Gate:         gate,
		Manager:      manager,
		Registry:     registry,
		Orchestrator: orchestrator,
		Extractor:    extract.New(),
		Ring:         ring,
		Health:       health,
		Metrics:      metrics,
		Logger:       logger,
	})

	// Periodic maintenance: trace aging, index retention, session expiry.
	scheduler := cron.New()
	_, err = scheduler.AddFunc("@every 5m", func() {
		defer observability.RecoverPanic(logger, "maintenance sweep")
		if removed := ring.Sweep(); removed > 0 {
			logger.WithField("removed", removed).Debug("swept aged traces")
		}
		if metrics != nil {
			metrics.TracesStored.Set(float64(ring.Len()))
		}
		manager.ReclaimAll(context.Background())
		if sqliteSessions != nil {
			if n, err := sqliteSessions.DeleteExpiredSessions(context.Background(), time.Now()); err != nil {
				logger.WithError(err).Warn("failed to delete expired sessions")
			} else if n > 0 {
				logger.WithField("deleted", n).Debug("deleted expired sessions")
			}
		}
	})
	if err != nil {
		logger.WithError(err).Error("failed to schedule maintenance")
		os.Exit(2)
	}
	scheduler.Start()
	defer scheduler.Stop()

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", addr).Info("HTTP server listening")
		if metrics != nil {
			metrics.Ready.Set(1)
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(2)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if metrics != nil {
			metrics.Ready.Set(0)
		}
		return nil
	})
	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
}

// embedderOrNil converts a typed nil into an untyped nil interface.
func embedderOrNil(e *index.HTTPEmbedder) index.Embedder {
	if e == nil {
		return nil
	}
	return e
}

// completerOrNil converts a typed nil into an untyped nil interface.
func completerOrNil(c *query.HTTPCompleter) query.Completer {
	if c == nil {
		return nil
	}
	return c
}

func sqliteDB(s *storage.SQLiteSessionStore) *sql.DB {
	if s == nil {
		return nil
	}
	return s.DB()
}
