package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/goliatone/go-payhooks/adapters/gozap"
	"github.com/goliatone/go-payhooks/alerting"
	"github.com/goliatone/go-payhooks/archive"
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/migrations"
	redisstore "github.com/goliatone/go-payhooks/store/redis"
	sqlstore "github.com/goliatone/go-payhooks/store/sql"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type databaseConfig struct {
	core.DatabaseConfig
}

func (c databaseConfig) GetDebug() bool                { return c.Debug }
func (c databaseConfig) GetDriver() string             { return c.Driver }
func (c databaseConfig) GetServer() string             { return c.DSN }
func (c databaseConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c databaseConfig) GetOtelIdentifier() string     { return "go-payhooks" }

// dialectFor maps the configured driver onto the sql driver name, the bun
// dialect and the migration dialect.
func dialectFor(driver string) (string, schema.Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return "postgres", pgdialect.New(), migrations.DialectPostgres, nil
	case "sqlite", "sqlite3":
		return "sqlite3", sqlitedialect.New(), migrations.DialectSQLite, nil
	default:
		return "", nil, "", fmt.Errorf("payhooksd: unsupported database driver %q", driver)
	}
}

func openDatabase(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, string, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, "", fmt.Errorf("payhooksd: database.dsn is required")
	}
	driverName, dialect, migrationDialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("payhooksd: open database: %w", err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(databaseConfig{DatabaseConfig: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("payhooksd: persistence client: %w", err)
	}
	if err := client.DB().PingContext(ctx); err != nil {
		_ = client.Close()
		return nil, "", fmt.Errorf("payhooksd: ping database: %w", err)
	}
	return client, migrationDialect, nil
}

func registerMigrations(ctx context.Context, client *persistence.Client, dialect string) error {
	_, err := migrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithDialects(dialect))
	return err
}

// runtime owns every process-level resource a subcommand opens.
type runtime struct {
	cfg      payhooks.Config
	logger   *gozap.Logger
	client   *persistence.Client
	dialect  string
	factory  *sqlstore.RepositoryFactory
	redis    *goredis.Client
	pipeline *payhooks.Pipeline
}

type runtimeOptions struct {
	logLevel   string
	redisLocks bool
}

func newRuntime(ctx context.Context, cfg payhooks.Config, opts runtimeOptions) (*runtime, error) {
	mode := gozap.ModeDevelopment
	if strings.EqualFold(cfg.Environment, "production") {
		mode = gozap.ModeProduction
	}
	logger, err := gozap.New(mode, opts.logLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	client, dialect, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.client, rt.dialect = client, dialect

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.factory = factory
	return rt, nil
}

// buildPipeline wires the SQL stores with the optional Redis, S3 and cache
// integrations the configuration enables.
func (rt *runtime) buildPipeline(ctx context.Context, opts runtimeOptions) (*payhooks.Pipeline, error) {
	provider := gozap.NewProvider(rt.logger)
	stores := payhooks.SQLStores(rt.factory)

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("payhooksd: idempotency cache: %w", err)
	}
	cached, err := sqlstore.NewCachedIdempotencyStore(stores.Idempotency, cacheService)
	if err != nil {
		return nil, err
	}
	stores.Idempotency = cached

	setupOpts := []payhooks.Option{
		payhooks.WithLoggerProvider(provider),
		payhooks.WithHealthCheck(func(ctx context.Context) error {
			return rt.client.DB().PingContext(ctx)
		}),
	}

	if strings.TrimSpace(rt.cfg.Redis.Addr) != "" {
		client, err := redisstore.NewClient(rt.cfg.Redis)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		sink, err := alerting.NewRedisSink(client, rt.cfg.Redis.Channel)
		if err != nil {
			return nil, err
		}
		setupOpts = append(setupOpts, payhooks.WithAlertSinks(sink))
		if opts.redisLocks {
			locks, err := redisstore.NewLockStore(client, redisstore.WithKeyPrefix(rt.cfg.Redis.LockPrefix))
			if err != nil {
				return nil, err
			}
			setupOpts = append(setupOpts, payhooks.WithExternalLocks(locks))
		}
	} else if opts.redisLocks {
		return nil, fmt.Errorf("payhooksd: --redis-locks requires redis.addr")
	}

	archiver, err := archive.NewS3ArchiverFromConfig(ctx, rt.cfg.Archive)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		setupOpts = append(setupOpts, payhooks.WithArchive(archiver))
	}

	pipeline, err := payhooks.Setup(rt.cfg, stores, setupOpts...)
	if err != nil {
		return nil, err
	}
	rt.pipeline = pipeline
	return pipeline, nil
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.pipeline != nil {
		rt.pipeline.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.client != nil {
		_ = rt.client.Close()
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
}
