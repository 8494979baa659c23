package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/metaui/internal/backend"
	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/config"
	"github.com/matthewbaird/metaui/internal/expr"
	"github.com/matthewbaird/metaui/internal/fixture"
	"github.com/matthewbaird/metaui/internal/pagecache"
	"github.com/matthewbaird/metaui/internal/represent"
	"github.com/matthewbaird/metaui/internal/schemacheck"
	"github.com/matthewbaird/metaui/internal/server"
	"github.com/matthewbaird/metaui/internal/session"
	"github.com/matthewbaird/metaui/internal/view"
	"github.com/matthewbaird/metaui/internal/wire"
)

// collaborator is what the server needs from a data source.
type collaborator interface {
	catalog.Loader
	view.MetadataSource
}

func main() {
	configPath := flag.String("config", "", "path to a CUE config file")
	bundle := flag.String("fixture", "", "fixture bundle to import before serving")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	checker, err := schemacheck.Load(cfg.SchemaDir)
	if err != nil {
		log.Fatalf("loading metadata schema: %v", err)
	}

	var (
		source  collaborator
		fetcher func(*catalog.Catalog) pagecache.Fetcher
	)
	if cfg.BackendURL != "" {
		client, err := backend.NewClient(cfg.BackendURL, backend.WithChecker(checker), backend.WithLogger(logger))
		if err != nil {
			log.Fatalf("backend client: %v", err)
		}
		source = client
		fetcher = func(c *catalog.Catalog) pagecache.Fetcher { return client.PageFetcher(c) }
		logger.Info("serving from backend", "url", cfg.BackendURL)
	} else {
		dsn := cfg.FixtureDSN
		if dsn == "" {
			dsn = "file:metaui.db?_pragma=foreign_keys(1)"
		}
		store, err := fixture.Open(ctx, dsn, logger)
		if err != nil {
			log.Fatalf("opening fixture: %v", err)
		}
		defer store.Close()
		store.SetChecker(checker)
		if *bundle != "" {
			if err := store.ImportFile(ctx, *bundle); err != nil {
				log.Fatalf("importing fixture: %v", err)
			}
		}
		if err := store.SeedDemo(ctx); err != nil {
			log.Fatalf("seeding demo data: %v", err)
		}
		source = store
		fetcher = func(*catalog.Catalog) pagecache.Fetcher { return store }
		logger.Info("serving from fixture", "dsn", dsn)
	}

	compiler, err := expr.NewCompiler(expr.WithLogger(logger), expr.WithCacheSize(cfg.ExprCacheSize))
	if err != nil {
		log.Fatalf("expression compiler: %v", err)
	}

	cat := catalog.New(source, logger)
	views := view.NewService(view.Config{
		Catalog:       cat,
		Source:        source,
		Registry:      represent.NewRegistry(compiler, logger),
		Evaluator:     compiler,
		Options:       cfg.RepresentOptions(),
		ColumnOptions: cfg.ColumnOptions(),
		Logger:        logger,
	})

	pages := fetcher(cat)
	newStore := func() *pagecache.Store {
		return pagecache.NewStore(pages, pagecache.WithLogger(logger))
	}
	idle, maxAge := cfg.SessionTimeouts()
	sessions := session.NewManager(newStore, maxAge, idle, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, server.Config{
			Port:     cfg.ListenPort,
			PageSize: cfg.PageSize,
			Views:    views,
			Sessions: sessions,
			Shared:   newStore(),
			Socket:   wire.NewHandler(sessions, views, cfg.PageSize, logger),
			Logger:   logger,
		})
	})
	g.Go(func() error {
		return sessions.Run(ctx, time.Minute)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
