package cmd

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

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forsc/docsearch/internal/docstore"
	dochandler "github.com/forsc/docsearch/internal/docstore/handler"
	"github.com/forsc/docsearch/internal/docstore/validator"
	"github.com/forsc/docsearch/internal/history"
	"github.com/forsc/docsearch/internal/indexer"
	"github.com/forsc/docsearch/internal/indexer/notify"
	"github.com/forsc/docsearch/internal/indexer/source"
	"github.com/forsc/docsearch/internal/indexer/watcher"
	"github.com/forsc/docsearch/internal/rebuild"
	"github.com/forsc/docsearch/internal/searcher/cache"
	"github.com/forsc/docsearch/internal/searcher/executor"
	searchhandler "github.com/forsc/docsearch/internal/searcher/handler"
	"github.com/forsc/docsearch/pkg/config"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/health"
	"github.com/forsc/docsearch/pkg/kafka"
	"github.com/forsc/docsearch/pkg/metrics"
	"github.com/forsc/docsearch/pkg/middleware"
	"github.com/forsc/docsearch/pkg/postgres"
	pkgredis "github.com/forsc/docsearch/pkg/redis"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search and document HTTP API",
	Long: `Serve the search, upload and rebuild HTTP API. Redis caching, Kafka
rebuild notifications, the Postgres rebuild history and the directory
watcher are enabled from the config file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	slog.Info("starting docsearch", "port", cfg.Server.Port, "index_dir", cfg.Index.Dir, "docs_dir", cfg.Index.DocsDir)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			return err
		}
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	engineOpts := indexer.Options{
		IndexDir:    cfg.Index.Dir,
		ReadWorkers: cfg.Index.ReadWorkers,
		LockTimeout: cfg.Index.LockTimeout,
		FailOnEmpty: cfg.Index.FailOnEmpty,
		Metrics:     m,
	}

	var hist *history.Store
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, rebuild history disabled", "error", err)
		} else {
			defer pg.Close()
			hist = history.New(pg)
			if err := hist.Migrate(ctx); err != nil {
				return fmt.Errorf("migrating rebuild history: %w", err)
			}
			engineOpts.Recorder = hist
			checker.Register("postgres", health.PingCheck(pg.Ping))
			slog.Info("rebuild history enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		}
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		engineOpts.Notifier = notify.New(producer, m)
		slog.Info("rebuild notifications enabled", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	exec := executor.New(cfg.Index.Dir, cfg.Index.DefaultField, m)
	defer exec.Close()
	if _, err := exec.Reload(); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("loading index: %w", err)
		}
		slog.Warn("no index yet, search unavailable until the first rebuild", "index_dir", cfg.Index.Dir)
	}
	checker.Register("index", health.IndexCheck(exec.Ready, exec.Generation))

	var queryCache *cache.QueryCache
	var invalidator rebuild.Invalidator
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			invalidator = queryCache
			checker.Register("redis", health.PingCheck(redisClient.Ping))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	store, err := docstore.New(cfg.Index.DocsDir)
	if err != nil {
		return err
	}
	engine := indexer.NewEngine(engineOpts)
	src := &source.Directory{Root: cfg.Index.DocsDir, Recursive: cfg.Index.Recursive, Readers: source.DefaultReaders()}
	coord := rebuild.NewCoordinator(engine, src, exec, invalidator, cfg.Index.BuildTimeout)

	searchH := searchhandler.New(exec, queryCache, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)
	docH := dochandler.New(store, validator.Rules{
		MaxBytes:          cfg.Upload.MaxBytes,
		MaxFiles:          cfg.Upload.MaxFiles,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
	}, coord, m)
	var lister rebuild.HistoryLister
	if hist != nil {
		lister = hist
	}
	rebuildH := rebuild.NewHandler(coord, lister, cfg.Index.Dir)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", searchH.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", searchH.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", searchH.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/documents", docH.Upload)
	mux.HandleFunc("GET /api/v1/documents", docH.List)
	mux.HandleFunc("GET /download/{name}", docH.Download)
	mux.HandleFunc("POST /api/v1/index/rebuild", rebuildH.Rebuild)
	mux.HandleFunc("GET /api/v1/index/history", rebuildH.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	g, gctx := errgroup.WithContext(ctx)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Metrics(m),
	}
	if len(cfg.Server.AllowOrigins) > 0 {
		mws = append(mws, middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins)))
	}
	if cfg.Server.WriteRateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.WriteRateLimit, time.Minute)
		g.Go(func() error {
			limiter.Sweep(gctx, 5*time.Minute)
			return nil
		})
		mws = append(mws, middleware.RateLimit(limiter))
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Kafka.Enabled {
		startReloadConsumer(gctx, g, cfg, coord)
	}
	if cfg.Watch.Enabled {
		w, err := watcher.New(watcher.Options{
			Root:      cfg.Index.DocsDir,
			Recursive: cfg.Index.Recursive,
			Debounce:  cfg.Watch.Debounce,
		}, coord.Run)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
		slog.Info("watching document directory", "dir", cfg.Index.DocsDir, "debounce", cfg.Watch.Debounce)
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("docsearch listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("docsearch stopped")
	return nil
}

// startReloadConsumer reloads the searcher whenever any process reports a
// committed rebuild. Each process joins its own consumer group so every
// replica sees every event.
func startReloadConsumer(ctx context.Context, g *errgroup.Group, cfg *config.Config, coord *rebuild.Coordinator) {
	groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, groupID,
		func(ctx context.Context, key, value []byte) error {
			event, err := kafka.DecodeJSON[notify.IndexCompleteEvent](value)
			if err != nil {
				slog.Warn("dropping malformed index.complete event", "error", err)
				return nil
			}
			if event.IndexDir != cfg.Index.Dir {
				return nil
			}
			return coord.Refresh(ctx)
		})
	g.Go(func() error {
		defer consumer.Close()
		return consumer.Start(ctx)
	})
	slog.Info("consuming rebuild notifications", "topic", cfg.Kafka.Topics.IndexComplete, "group", groupID)
}
