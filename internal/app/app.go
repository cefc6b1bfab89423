// Package app assembles the shared runtime pieces the binaries have in
// common: storage, Redis, the action queue and the cached catalogs.
package app

import (
	"context"
	"fmt"

	"github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"

	"github.com/character-tun/character-crm-sub000/internal/cache"
	"github.com/character-tun/character-crm-sub000/internal/config"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/registry"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/templates"
)

// Runtime holds the assembled components. Close releases them.
type Runtime struct {
	Config    config.Config
	Logger    glog.Logger
	Store     store.Store
	Redis     *redis.Client
	Queue     *queue.Queue
	Templates *templates.Store
	Registry  *registry.Registry
}

// Open connects storage and builds the queue and catalogs from cfg.
// Postgres migrations run on open.
func Open(ctx context.Context, cfg config.Config, logger glog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	rt := &Runtime{Config: cfg, Logger: logger}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Store = st

	if cfg.QueueBackend == "redis" || cfg.CacheBackend == "redis" {
		rt.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	var backend queue.Backend
	switch cfg.QueueBackend {
	case "redis":
		backend = queue.NewRedisBackend(rt.Redis, "crm:queue")
	case "memory", "":
		if cfg.Storage == "postgres" {
			logger.Warn("memory queue backend is process local; run workers embedded in the api")
		}
		backend = queue.NewMemoryBackend()
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	rt.Queue = queue.New(st, backend, queue.Options{
		MaxAttempts:       cfg.MaxAttempts,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		VisibilityTimeout: cfg.VisibilityTimeout,
		BatchSize:         int64(cfg.ScheduledBatchSize),
	}, queue.WithLogger(logger))

	var (
		tplCache    cache.Cache[[]models.Template]
		statusCache cache.Cache[[]models.StatusDefinition]
	)
	switch cfg.CacheBackend {
	case "redis":
		tplCache = cache.NewRedis[[]models.Template](rt.Redis, "templates")
		statusCache = cache.NewRedis[[]models.StatusDefinition](rt.Redis, "statuses")
	case "memory", "":
		tplCache = cache.NewMemory[[]models.Template]()
		statusCache = cache.NewMemory[[]models.StatusDefinition]()
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	rt.Templates = templates.New(st, st, templates.WithCache(tplCache, cfg.CacheTTL), templates.WithLogger(logger))
	rt.Registry = registry.New(st, rt.Templates, registry.WithCache(statusCache, cfg.CacheTTL), registry.WithLogger(logger))
	return rt, nil
}

// OpenStore selects the storage adapter named by cfg.Storage.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Storage {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	case "memory", "":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Close releases storage and Redis.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Store != nil {
		rt.Store.Close()
	}
}
