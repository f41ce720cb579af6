// Package main provides the main entry point for the newsletter dashboard backend
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/newsletter-dashboard/app/handlers"
	"github.com/amirphl/newsletter-dashboard/app/router"
	"github.com/amirphl/newsletter-dashboard/app/scheduler"
	"github.com/amirphl/newsletter-dashboard/app/services"
	businessflow "github.com/amirphl/newsletter-dashboard/business_flow"
	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/logger"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.Config
	logger    *zap.Logger
	stopFuncs []func() // background workers, stopped before the server
	closers   []func() // connections, closed after the server drained
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mode := logger.DevelopmentMode
	if cfg.Deployment.IsProduction() {
		mode = logger.ProductionMode
	}
	zl, syncLogger, err := logger.New(cfg.Logging, mode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syncLogger()

	zl.Info("starting newsletter dashboard",
		zap.String("environment", cfg.Deployment.Environment),
		zap.String("version", cfg.Deployment.Version),
		zap.String("email_provider", cfg.Provider.Kind),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErr <- app.router.Start(address)
	}()

	select {
	case sig := <-sigChan:
		zl.Info("shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-serverErr:
		zl.Error("server stopped unexpectedly", zap.Error(err))
	}

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.router.Shutdown(shutdownCtx); err != nil {
		zl.Error("error during shutdown", zap.Error(err))
	}

	for _, fn := range app.closers {
		fn()
	}

	zl.Info("server stopped")
}

// initializeApplication wires storage, provider, flows, handlers and background jobs
func initializeApplication(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: zl}

	db, err := initializeDatabase(cfg.Database, zl)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(&models.Subscriber{}, &models.Broadcast{}); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		zl.Info("database schema migrated")
	}
	if sqlDB, err := db.DB(); err == nil {
		app.closers = append(app.closers, func() { _ = sqlDB.Close() })
	}

	subscriberRepo := repository.NewSubscriberRepository(db)
	broadcastRepo := repository.NewBroadcastRepository(db)

	var statsCache businessflow.CategoryStatsCache
	rc, err := initializeCache(cfg.Cache, zl)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		statsCache = businessflow.NewRedisCategoryStatsCache(rc, cfg.Cache)
		stopMonitor := startCacheHealthMonitor(ctx, rc, 30*time.Second, zl)
		app.stopFuncs = append(app.stopFuncs, stopMonitor)
		app.closers = append(app.closers, func() { _ = rc.Close() })
	}

	provider := initializeEmailProvider(cfg.Provider, zl)

	renderer, err := services.NewEmailRenderer(cfg.Branding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email renderer: %w", err)
	}

	subscriberFlow := businessflow.NewSubscriberFlow(subscriberRepo, provider, statsCache, cfg.Provider, zl)
	broadcastFlow := businessflow.NewBroadcastFlow(broadcastRepo, subscriberRepo, provider, renderer, cfg.Provider, zl)

	timeouts := handlers.Timeouts{
		Request:  cfg.Server.RequestTimeout,
		Dispatch: cfg.Server.DispatchTimeout,
	}
	subscriberHandler := handlers.NewSubscriberHandler(subscriberFlow, zl, timeouts)
	broadcastHandler := handlers.NewBroadcastHandler(broadcastFlow, zl, timeouts)

	app.router = router.NewFiberRouter(cfg, subscriberHandler, broadcastHandler, zl)

	if cfg.Scheduler.StatsRefreshEnabled && statsCache != nil {
		refresher := scheduler.NewStatsRefresher(subscriberFlow, cfg.Scheduler.StatsRefreshInterval, zl)
		app.stopFuncs = append(app.stopFuncs, refresher.Start(ctx))
	}

	return app, nil
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, zl *zap.Logger) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		zap.NewStdLog(zl.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	zl.Info("database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity; nil when disabled
func initializeCache(cfg config.CacheConfig, zl *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	zl.Info("redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor periodically pings redis to surface connectivity issues.
// The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, zl *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					zl.Warn("redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeEmailProvider selects the provider implementation from configuration
func initializeEmailProvider(cfg config.ProviderConfig, zl *zap.Logger) services.EmailProvider {
	switch cfg.Kind {
	case config.ProviderMock:
		zl.Warn("using mock email provider; no email will leave this process")
		return services.NewMockEmailProvider(zl)
	default:
		return services.NewResendClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, zl)
	}
}
