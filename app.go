package main

import (
	"context"
	"fmt"
	"log/slog"

	"gearplanner/internal/build"
	"gearplanner/internal/cache"
	"gearplanner/internal/catalog"
	"gearplanner/internal/chunks"
	"gearplanner/internal/config"
	"gearplanner/internal/coordinator"
	"gearplanner/internal/fragment"
	"gearplanner/internal/hashsync"
)

// App struct
type App struct {
	ctx      context.Context
	cfg      config.Config
	logger   *slog.Logger
	fetcher  chunks.Fetcher
	cache    *cache.Cache
	index    *chunks.Index
	catalog  *catalog.Store
	coord    *coordinator.Coordinator
	hashSync *hashsync.Syncer
	session  *build.Session

	location hashsync.Location
	bridge   *fragment.Bridge // nil when no browser clients are served
	stopPoll chan struct{}
}

// NewApp creates a new App. loc receives fragment writes; when it is a
// *fragment.Bridge app events are broadcast through it as well.
func NewApp(cfg config.Config, logger *slog.Logger, loc hashsync.Location) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		session:  build.NewSession(),
		location: loc,
		stopPoll: make(chan struct{}),
	}
	if b, ok := loc.(*fragment.Bridge); ok {
		a.bridge = b
	}
	return a
}

// newFetcher picks the catalog source: a local directory wins over a URL
func newFetcher(cfg config.CatalogConfig) chunks.Fetcher {
	if cfg.Dir != "" {
		return chunks.DirFetcher{Dir: cfg.Dir}
	}
	return chunks.NewHTTPFetcher(cfg.URL, cfg.Timeout)
}

// openStore opens the persistent cache store, or a memory store when the
// cache is disabled or cannot be opened
func openStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Store {
	if cfg.Disabled {
		return cache.NewMemoryStore()
	}
	if cfg.DatabaseURL != "" {
		store, err := cache.OpenPostgres(ctx, cfg.DatabaseURL)
		if err == nil {
			logger.Debug("chunk cache opened", "backend", "postgres")
			return store
		}
		logger.Warn("shared cache unavailable, falling back to local cache", "error", err)
	}

	path := cfg.Path
	if path == "" {
		path = cache.DefaultPath()
	}
	store, err := cache.OpenSQLite(path)
	if err != nil {
		logger.Warn("persistent cache unavailable, caching in memory", "path", path, "error", err)
		return cache.NewMemoryStore()
	}
	logger.Debug("chunk cache opened", "backend", "sqlite", "path", path)
	return store
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx

	if a.fetcher == nil {
		a.fetcher = newFetcher(a.cfg.Catalog)
	}
	c, err := cache.New(openStore(ctx, a.cfg.Cache, a.logger), a.fetcher, cache.Options{
		Version: a.cfg.Cache.Version,
		TTL:     a.cfg.Cache.TTL,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	a.cache = c

	if n, err := a.cache.PurgeStale(ctx); err != nil {
		a.logger.Debug("failed to purge stale cache entries", "error", err)
	} else if n > 0 {
		a.logger.Info("purged stale cache entries", "count", n)
	}

	index, err := chunks.LoadManifest(ctx, a.fetcher, a.cfg.Catalog.Manifest)
	if err != nil {
		a.cache.Close()
		return fmt.Errorf("failed to load chunk manifest: %w", err)
	}
	a.index = index
	a.logger.Info("chunk manifest loaded", "chunks", index.Len())

	a.catalog = catalog.NewStore(index, a.cache, catalog.Options{
		Concurrency: a.cfg.Catalog.Concurrency,
		Logger:      a.logger,
	})
	a.coord = coordinator.New(a.catalog, a.onApply, coordinator.Options{
		Interval: a.cfg.Sync.PollInterval,
		Logger:   a.logger,
		OnState:  a.emitCoordinatorState,
	})
	a.hashSync = hashsync.New(a.location, index, a.catalog, a.coord, hashsync.Options{
		Debounce: a.cfg.Sync.Debounce,
		Logger:   a.logger,
	})

	a.session.Observe(a.hashSync.Notify)
	a.session.Observe(a.emitBuild)
	if a.bridge != nil {
		a.bridge.SetHandler(a.onFragment)
	}

	go a.pollLoads()

	// open with whatever link the location already holds
	if frag := a.location.Fragment(); frag != "" {
		a.onFragment(frag)
	}
	return nil
}

// shutdown is called when the app is closing
func (a *App) shutdown() {
	close(a.stopPoll)
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close chunk cache", "error", err)
		}
	}
}

// onFragment handles a fragment reported by the location
func (a *App) onFragment(frag string) {
	a.hashSync.HandleFragment(a.ctx, frag)
}

// onApply commits a settled pending build. Imports are written back at once;
// builds read from the fragment are not written back at all.
func (a *App) onApply(state build.State, source coordinator.Source) {
	switch source {
	case coordinator.SourceImport:
		a.session.Commit(state, build.OriginImport)
		a.hashSync.Flush(a.session.State())
	default:
		a.session.Commit(state, build.OriginFragment)
	}
	a.logger.Info("build applied", "source", source, "slots", len(state.Assignments))
}
