// Package server wires the engine's subsystems together and manages their
// lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/Ramsey-B/aster/config"
	"github.com/Ramsey-B/aster/internal/repositories/account"
	"github.com/Ramsey-B/aster/internal/repositories/dependent"
	"github.com/Ramsey-B/aster/internal/repositories/mergeledger"
	"github.com/Ramsey-B/aster/pkg/cleanup"
	"github.com/Ramsey-B/aster/pkg/clustering"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/engine"
	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/merge"
	"github.com/Ramsey-B/aster/pkg/middleware"
	"github.com/Ramsey-B/aster/pkg/registry"
	"github.com/Ramsey-B/aster/pkg/routes/accounts"
	"github.com/Ramsey-B/aster/pkg/routes/clusters"
	"github.com/Ramsey-B/aster/pkg/routes/health"
	"github.com/Ramsey-B/aster/pkg/routes/mergejob"
	"github.com/Ramsey-B/aster/pkg/scoring"
	"github.com/Ramsey-B/aster/pkg/startup"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// App owns every long-lived subsystem. Fields are populated by the startup
// dependencies in order: postgres, then the producer and registry, then the
// consumer and HTTP server.
type App struct {
	cfg    *config.Config
	logger ectologger.Logger

	db       database.DB
	rawDB    *sqlx.DB
	accounts *account.Repository

	producer *kafka.Producer
	emitter  *events.Emitter
	consumer *kafka.Consumer

	registry      *registry.Registry
	engine        *engine.Engine
	ledger        *mergeledger.Repository
	dependents    *dependent.Repository
	health        *health.Checker
	echo          *echo.Echo
	refreshCancel context.CancelFunc
}

func New(cfg *config.Config, logger ectologger.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts every subsystem and blocks until ctx is cancelled, then stops
// them in reverse order
func (a *App) Run(ctx context.Context) error {
	shutdownTracing := tracing.InitProvider(a.cfg.AppName)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	boot := startup.NewStartup(a.logger, 5)
	boot.AddDependency(&postgresDependency{app: a})
	boot.AddDependency(&producerDependency{app: a})
	boot.AddDependency(&registryDependency{app: a})
	boot.AddDependency(&consumerDependency{app: a})
	boot.AddDependency(&httpDependency{app: a})

	if err := boot.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return boot.Stop(stopCtx)
}

// postgresDependency connects to Postgres, runs migrations, and builds the
// repositories
type postgresDependency struct {
	app *App
}

func (d *postgresDependency) GetName() string     { return "postgres" }
func (d *postgresDependency) DependsOn() []string { return nil }

func (d *postgresDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)
	raw, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return err
	}
	raw.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	raw.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	raw.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(raw.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return err
	}

	d.app.rawDB = raw
	d.app.db = database.NewDatabaseInstance(raw, d.app.logger)
	d.app.accounts = account.NewRepository(d.app.db, d.app.logger)
	d.app.dependents = dependent.NewRepository(d.app.db, d.app.logger)
	d.app.ledger = mergeledger.NewRepository(d.app.db, d.app.logger)
	return nil
}

func (d *postgresDependency) Stop(ctx context.Context) error {
	if d.app.rawDB == nil {
		return nil
	}
	return d.app.rawDB.Close()
}

// producerDependency builds the Kafka producer and the event emitter
type producerDependency struct {
	app *App
}

func (d *producerDependency) GetName() string     { return "kafka-producer" }
func (d *producerDependency) DependsOn() []string { return nil }

func (d *producerDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	d.app.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, d.app.logger)
	d.app.emitter = events.NewEmitter(d.app.producer, d.app.logger)
	return nil
}

func (d *producerDependency) Stop(ctx context.Context) error {
	if d.app.producer == nil {
		return nil
	}
	return d.app.producer.Close()
}

// registryDependency builds the cluster registry and the engine, warms the
// first snapshot, and keeps it fresh on an interval
type registryDependency struct {
	app *App
}

func (d *registryDependency) GetName() string     { return "registry" }
func (d *registryDependency) DependsOn() []string { return []string{"postgres", "kafka-producer"} }

func (d *registryDependency) Start(ctx context.Context) error {
	app := d.app
	cfg := app.cfg

	scorer := scoring.NewScorer(scoring.Weights{
		Name:        cfg.MatchWeightName,
		Domain:      cfg.MatchWeightDomain,
		Industry:    cfg.MatchWeightIndustry,
		Description: cfg.MatchWeightDescription,
		Tags:        cfg.MatchWeightTags,
		Phone:       cfg.MatchWeightPhone,
	})
	builder := clustering.NewBuilder(scorer, cfg.MatchBucketingEnabled)

	app.registry = registry.New(app.logger, app.accounts, builder, cfg.MatchThreshold, cfg.RegistryRefreshInterval)
	executor := merge.NewExecutor(app.logger, app.accounts, app.dependents, app.ledger, app.registry, cfg.MergeLockWaitTimeout)
	policy := cleanup.NewPolicy(app.logger, app.registry, executor, app.accounts, cfg.AutoCleanupThreshold)
	app.engine = engine.New(app.logger, app.registry, executor, policy, app.accounts, app.emitter)

	if err := app.registry.Refresh(ctx); err != nil {
		return err
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	app.refreshCancel = cancel
	go d.refreshLoop(refreshCtx)
	return nil
}

func (d *registryDependency) refreshLoop(ctx context.Context) {
	interval := d.app.cfg.RegistryRefreshInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.app.registry.Refresh(ctx); err != nil {
				d.app.logger.WithContext(ctx).WithError(err).Error("Scheduled cluster refresh failed")
			}
		}
	}
}

func (d *registryDependency) Stop(ctx context.Context) error {
	if d.app.refreshCancel != nil {
		d.app.refreshCancel()
	}
	return nil
}

// consumerDependency subscribes to upstream account changes so cached
// clusters go stale as soon as their accounts move
type consumerDependency struct {
	app *App
}

func (d *consumerDependency) GetName() string     { return "kafka-consumer" }
func (d *consumerDependency) DependsOn() []string { return []string{"registry"} }

func (d *consumerDependency) Start(ctx context.Context) error {
	if !d.app.cfg.KafkaConsumerEnabled {
		return nil
	}
	d.app.consumer = kafka.NewConsumer(*d.app.cfg, d.app.logger, d.app.engine.HandleAccountChange)
	return d.app.consumer.Start(ctx)
}

func (d *consumerDependency) Stop(ctx context.Context) error {
	if d.app.consumer == nil {
		return nil
	}
	return d.app.consumer.Stop()
}

// httpDependency serves the API
type httpDependency struct {
	app *App
}

func (d *httpDependency) GetName() string     { return "http" }
func (d *httpDependency) DependsOn() []string { return []string{"registry", "kafka-consumer"} }

func (d *httpDependency) Start(ctx context.Context) error {
	app := d.app
	cfg := app.cfg

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(app.logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(app.logger))
	e.Use(tracing.Middleware(cfg.AppName))

	var consumerCheck interface{ Health() bool }
	if app.consumer != nil {
		consumerCheck = app.consumer
	}
	app.health = health.NewChecker(app.rawDB, consumerCheck, app.registry, cfg.AppName)
	app.health.RegisterRoutes(e)

	api := e.Group("/api/v1")
	accounts.NewHandler(app.accounts, app.dependents, app.registry).Register(api.Group("/accounts"))
	clusters.NewHandler(app.engine).Register(api.Group("/clusters"))
	mergejob.NewHandler(app.engine, app.ledger).Register(api.Group("/merges"))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	app.echo = e

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			app.logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	app.health.SetReady(true)
	return nil
}

func (d *httpDependency) Stop(ctx context.Context) error {
	if d.app.echo == nil {
		return nil
	}
	d.app.health.SetReady(false)
	return d.app.echo.Shutdown(ctx)
}
