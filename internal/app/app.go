package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/config"
	"disputable-values-monitor/internal/metrics"
	"disputable-values-monitor/internal/scheduler"
	"disputable-values-monitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if a.Config.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, a.Config.Metrics.Addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	var tableCSV io.Writer
	if path := a.Config.Monitor.TableCSV; path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open table csv: %w", err)
		}
		defer f.Close()
		tableCSV = f
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	pipe, err := a.newPipeline(ctx, pipelineOptions{
		store:     store,
		scheduler: sched,
		table:     os.Stdout,
		tableCSV:  tableCSV,
		disputes:  a.Config.Dispute.Enabled,
		balances:  true,
	})
	if err != nil {
		return err
	}
	defer pipe.close()

	a.Logger.Info().
		Int("chains", len(a.Config.Chains)).
		Bool("disputes", a.Config.Dispute.Enabled).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")
	err = pipe.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting report history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	QueryID   string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	ChainID   uint64
	FromBlock uint64
	ToBlock   uint64
	DryRun    bool
}
