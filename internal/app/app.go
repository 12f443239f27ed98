package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marqd/marqd/internal/collection"
	"github.com/marqd/marqd/internal/config"
	"github.com/marqd/marqd/internal/gate"
	"github.com/marqd/marqd/internal/httpserver"
	"github.com/marqd/marqd/internal/httpserver/deps"
	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/redis"
	"github.com/marqd/marqd/internal/scheduler"
	"github.com/marqd/marqd/internal/session"
	redisstore "github.com/marqd/marqd/internal/store/redis"
	"github.com/marqd/marqd/internal/stream"
	"github.com/marqd/marqd/internal/version"
)

// feedSource adapts the concrete stream feed to the subscription
// contract the collection layer consumes.
type feedSource struct {
	feed *stream.Feed
}

func (f feedSource) Subscribe(ctx context.Context, owner string) (collection.Subscription, error) {
	return f.feed.Subscribe(ctx, owner)
}

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	collections *collection.Manager
	seeder      *scheduler.SeedImporter
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	// Store and change feed share the Redis connection
	store := redisstore.NewStore(redisClient)
	feed := stream.New(redisClient, loggerClient)

	// Sessions
	records := session.NewRedisRecords(redisClient)
	sessions := session.NewProvider(
		cfg.JWTSecret,
		records,
		cfg.AccessTokenTTL,
		cfg.SessionTTL,
		loggerClient,
	)

	// Request gate
	g := gate.New(gate.Matcher{
		ProtectedPrefixes: cfg.ProtectedPrefixes,
		PublicPaths:       cfg.PublicPaths,
	}, sessions, "/", "/dashboard", loggerClient)

	// Per-owner synchronized collections
	collections := collection.NewManager(
		store,
		feedSource{feed: feed},
		loggerClient,
		cfg.SyncIdleTTL,
		cfg.ReapInterval,
	)

	// Initialize seed importer (if seed file is configured)
	var seeder *scheduler.SeedImporter
	var seedTrigger chan struct{}
	if cfg.SeedFile != "" {
		loggerClient.Info("seed file configured, initializing seed importer",
			logger.String("file", cfg.SeedFile))
		seedTrigger = make(chan struct{}, 1)
		seeder = scheduler.NewSeedImporter(cfg.SeedFile, store, loggerClient, seedTrigger)
	} else {
		loggerClient.Info("seed file not configured, seeding disabled")
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		RedisClient:  redisClient,
		Sessions:     sessions,
		Gate:         g,
		Collections:  collections,
		Feed:         feed,
		Seed:         seeder,
		SeedTrigger:  seedTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		collections: collections,
		seeder:      seeder,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Marqd v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Marqd %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the idle-collection reaper
	a.collections.Start(ctx)
	a.logger.Info("collection reaper started",
		logger.Duration("idle_ttl", a.cfg.SyncIdleTTL),
		logger.Duration("interval", a.cfg.ReapInterval))

	// Start seed importer (if enabled)
	if a.seeder != nil {
		if err := a.seeder.Start(ctx); err != nil {
			return fmt.Errorf("failed to start seed importer: %w", err)
		}
		a.logger.Info("seed importer started")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	// Stop seed importer
	if a.seeder != nil {
		a.seeder.Stop()
	}

	// Dispose all live collections and their feed subscriptions
	a.collections.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ Marqd stopped cleanly")
	return nil
}
