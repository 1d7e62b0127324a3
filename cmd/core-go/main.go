package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/config"
	"beacongraph/core-go/internal/console"
	"beacongraph/core-go/internal/db"
	"beacongraph/core-go/internal/httpapi"
	"beacongraph/core-go/internal/ingest"
	"beacongraph/core-go/internal/metrics"
	"beacongraph/core-go/internal/store"
	"beacongraph/core-go/internal/taxonomy"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		bootLogger := httpapi.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)

	if err := taxonomy.Configure(cfg.Colors.Nodes, cfg.Colors.Edges); err != nil {
		logger.Fatal().Err(err).Msg("invalid colour overrides")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var graphStore store.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := pool.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare graph schema")
		}
		graphStore = store.NewPostgres(logger, pool, cfg.DatabaseUserLabel)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory graph store")
		graphStore = store.NewMemory()
	}

	ouis := capture.NewOUITable(logger, capture.OUIOptions{Path: cfg.OUIFile, URL: cfg.OUIURL})
	if err := ouis.Load(); err != nil {
		logger.Warn().Err(err).Msg("mac vendor table not loaded")
	}

	m := metrics.New()
	gateway := ingest.NewGateway(logger, capture.NewParser(ouis), graphStore, m)

	sessions := console.NewManager(logger, console.Deps{
		Store:         graphStore,
		Ingest:        gateway,
		MACs:          ouis,
		Metrics:       m,
		StoreTimeout:  cfg.StoreTimeout,
		IngestTimeout: cfg.IngestTimeout,
	}, console.ManagerOptions{IdleTTL: cfg.SessionIdleTTL})
	go sessions.Run(ctx)

	h := httpapi.NewHandler(logger, sessions, graphStore, m, httpapi.Options{
		UploadTimeout: cfg.IngestTimeout + 30*time.Second,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", graphStore.Identity().URI).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
