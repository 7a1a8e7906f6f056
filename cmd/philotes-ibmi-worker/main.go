// Package main provides the entry point for the IBM i journal worker. The
// worker reads row changes from an IBM i journal and stages them as CDC
// events in a Postgres buffer.
//
// Table layouts are read from the Db2 for i catalog through database/sql,
// and this tree registers no Db2 driver. A deployment builds the worker with
// one registered under PHILOTES_CATALOG_DRIVER, for example the unixODBC
// driver with the IBM i Access ODBC driver installed:
//
//	// driver.go, added next to main.go
//	package main
//
//	import _ "github.com/alexbrainman/odbc" // registers "odbc"
//
// and PHILOTES_CATALOG_DSN set to an ODBC connection string such as
// "DSN=IBMI;UID=...;PWD=...". The worker refuses to start when the
// configured driver is not registered.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/janovincze/philotes-ibmi/internal/cdc/buffer"
	"github.com/janovincze/philotes-ibmi/internal/cdc/checkpoint"
	"github.com/janovincze/philotes-ibmi/internal/cdc/deadletter"
	"github.com/janovincze/philotes-ibmi/internal/cdc/health"
	"github.com/janovincze/philotes-ibmi/internal/cdc/pipeline"
	"github.com/janovincze/philotes-ibmi/internal/cdc/source/ibmi"
	"github.com/janovincze/philotes-ibmi/internal/config"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/catalog"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/hostcall"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/receivers"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting IBM i journal worker",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"journal", cfg.Journal.Library+"/"+cfg.Journal.Name,
	)

	if !slices.Contains(sql.Drivers(), cfg.Catalog.Driver) {
		return fmt.Errorf("catalog driver %q is not registered in this build; blank import a database/sql driver for Db2 for i (see the package documentation), registered: %v",
			cfg.Catalog.Driver, sql.Drivers())
	}
	catalogDB, err := sql.Open(cfg.Catalog.Driver, cfg.Catalog.DSN)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer catalogDB.Close()
	names := catalog.NewNameCache(catalog.NewSQLCatalog(catalogDB, logger))

	caller := hostcall.NewHTTPCaller(hostcall.HTTPConfig{
		URL:     cfg.Host.GatewayURL,
		Token:   cfg.Host.Token,
		Timeout: cfg.Host.Timeout,
	}, logger)

	var (
		checkpointMgr checkpoint.Manager
		bufferMgr     buffer.Manager
		db            *sql.DB
	)

	if cfg.CDC.Checkpoint.Enabled {
		cp, err := checkpoint.NewPostgresManager(ctx, checkpoint.PostgresConfig{
			DSN:             cfg.Database.DSN(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return fmt.Errorf("create checkpoint manager: %w", err)
		}
		defer cp.Close()
		checkpointMgr, db = cp, cp.DB()
	}

	var bufferDB *buffer.PostgresManager
	if cfg.CDC.Buffer.Enabled {
		bufferDB, err = buffer.NewPostgresManager(ctx, buffer.Config{
			Enabled:         true,
			DSN:             cfg.Database.DSN(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			Retention:       cfg.CDC.Buffer.Retention,
			CleanupSchedule: cfg.CDC.Buffer.CleanupSchedule,
		}, logger)
		if err != nil {
			return fmt.Errorf("create buffer manager: %w", err)
		}
		defer bufferDB.Close()
		bufferMgr = bufferDB
		if db == nil {
			db = bufferDB.DB()
		}
	}

	var dlq deadletter.Manager
	var dlqMgr *deadletter.PostgresManager
	if cfg.CDC.DeadLetter.Enabled {
		if db == nil {
			db, err = sql.Open("pgx", cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("open dead-letter database: %w", err)
			}
			defer db.Close()
		}
		dlqCfg := deadletter.DefaultPostgresConfig()
		if cfg.CDC.DeadLetter.Retention > 0 {
			dlqCfg.Retention = cfg.CDC.DeadLetter.Retention
		}
		dlqMgr = deadletter.NewPostgresManager(db, dlqCfg, logger)
		dlq = dlqMgr
	}

	retry := pipeline.RetryPolicy{
		MaxAttempts:     cfg.CDC.Retry.MaxAttempts,
		InitialInterval: cfg.CDC.Retry.InitialInterval,
		MaxInterval:     cfg.CDC.Retry.MaxInterval,
		Multiplier:      cfg.CDC.Retry.Multiplier,
		Jitter:          true,
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	srcCfg := ibmi.DefaultConfig()
	srcCfg.Name = cfg.Journal.SourceName
	srcCfg.Journal = journal.NewObjectName(cfg.Journal.Name, cfg.Journal.Library)
	srcCfg.MaxEntries = uint64(cfg.Journal.MaxEntries)
	srcCfg.BufferSize = cfg.Journal.BufferSize
	srcCfg.JournalCodes = cfg.Journal.JournalCodes
	srcCfg.EntryTypes = cfg.Journal.EntryTypes
	srcCfg.Tables = cfg.Journal.Tables
	srcCfg.AllowChainBreak = cfg.Journal.AllowChainBreak
	srcCfg.FailOnBufferTooSmall = cfg.Journal.FailOnBufferTooSmall
	srcCfg.ResetOnReceiverLoss = cfg.Journal.ResetOnReceiverLoss
	srcCfg.PollInterval = cfg.Journal.PollInterval
	srcCfg.Database = cfg.Catalog.Database
	srcCfg.DefaultCCSID = ccsid.CCSID(cfg.Journal.DefaultCCSID)
	srcCfg.Location = loc
	srcCfg.DeadLetterRetention = cfg.CDC.DeadLetter.Retention
	srcCfg.Retry = retry
	srcCfg.Receivers = receivers.Config{
		InfoBufferSize:    cfg.Host.InfoBufferSize,
		MaxInfoBufferSize: cfg.Host.MaxInfoBufferSize,
	}

	reader, err := ibmi.New(caller, names, dlq, srcCfg, logger)
	if err != nil {
		return fmt.Errorf("create journal reader: %w", err)
	}

	pipelineCfg := pipeline.Config{
		CheckpointInterval: cfg.CDC.Checkpoint.Interval,
		CheckpointEnabled:  cfg.CDC.Checkpoint.Enabled,
		BufferEnabled:      cfg.CDC.Buffer.Enabled,
		Retry:              retry,
		Backpressure: pipeline.BackpressureConfig{
			Enabled:       cfg.CDC.Backpressure.Enabled,
			HighWatermark: cfg.CDC.Backpressure.HighWatermark,
			LowWatermark:  cfg.CDC.Backpressure.LowWatermark,
			CheckInterval: cfg.CDC.Backpressure.CheckInterval,
		},
	}
	if err := pipelineCfg.Validate(); err != nil {
		return err
	}
	p := pipeline.New(reader, checkpointMgr, bufferMgr, pipelineCfg, logger)

	scheduler, err := newScheduler(cfg, bufferDB, dlqMgr, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	var servers []*http.Server
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	if cfg.CDC.Health.Enabled {
		mgr := health.NewManager(health.ManagerConfig{Timeout: cfg.CDC.Health.ReadinessTimeout}, logger)
		mgr.Register(health.NewJournalChecker("journal", reader, cfg.CDC.Health.MaxFetchAge))
		mgr.Register(health.NewPipelineChecker("pipeline", p.State()))
		if db != nil {
			mgr.Register(health.NewDatabaseChecker("postgres", db.PingContext))
		}
		mgr.Register(health.NewDatabaseChecker("catalog", catalogDB.PingContext))

		hs := health.NewServer(mgr, p.IsRunning, health.ServerConfig{
			ListenAddr:   cfg.CDC.Health.ListenAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}, logger)
		go func() {
			if err := hs.Start(); err != nil {
				logger.Error("health server failed", "error", err)
			}
		}()
		defer shutdown(hs.Stop)
	}

	for _, srv := range servers {
		go func() {
			logger.Info("starting metrics server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer shutdown(srv.Shutdown)
	}

	logger.Info("CDC pipeline configured",
		"source", srcCfg.Name,
		"tables", len(srcCfg.Tables),
		"gateway", cfg.Host.GatewayURL,
		"checkpoint_enabled", cfg.CDC.Checkpoint.Enabled,
		"checkpoint_interval", cfg.CDC.Checkpoint.Interval,
		"buffer_enabled", cfg.CDC.Buffer.Enabled,
		"dlq_enabled", dlq != nil,
	)

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("pipeline error: %w", err)
	}

	logger.Info("journal worker stopped gracefully")
	return nil
}

// newScheduler schedules the buffer and dead-letter cleanup jobs.
func newScheduler(cfg *config.Config, buf *buffer.PostgresManager, dlq *deadletter.PostgresManager, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cronLogger{logger.With("component", "scheduler")}))

	if buf != nil {
		retention := cfg.CDC.Buffer.Retention
		_, err := c.AddFunc(cfg.CDC.Buffer.CleanupSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := buf.Cleanup(ctx, retention); err != nil {
				logger.Error("buffer cleanup failed", "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule buffer cleanup %q: %w", cfg.CDC.Buffer.CleanupSchedule, err)
		}
	}

	if dlq != nil {
		_, err := c.AddFunc(cfg.CDC.DeadLetter.CleanupSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := dlq.Cleanup(ctx); err != nil {
				logger.Error("dead-letter cleanup failed", "error", err)
				return
			}
			stats, err := dlq.GetStats(ctx)
			if err != nil {
				logger.Error("dead-letter stats failed", "error", err)
				return
			}
			if stats.TotalCount > 0 {
				logger.Warn("dead-letter queue holds undecodable journal entries",
					"total", stats.TotalCount,
					"by_error_type", stats.ByErrorType,
				)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule dead-letter cleanup %q: %w", cfg.CDC.DeadLetter.CleanupSchedule, err)
		}
	}

	return c, nil
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

func shutdown(stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = stop(ctx)
}
