// Package app wires configuration into a ready pipeline runner. Both binaries share it.
package app

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angelcm/admira-attribution/internal/config"
	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/metrics"
	"github.com/angelcm/admira-attribution/internal/pipeline"
	"github.com/angelcm/admira-attribution/internal/source"
	"github.com/angelcm/admira-attribution/internal/store"
)

type App struct {
	Runner   *pipeline.Runner
	Recorder *metrics.Recorder
	Store    store.Writer
	pool     *pgxpool.Pool
	ch       driver.Conn
}

func Build(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	rt, err := config.LoadRates(cfg.RatesFile)
	if err != nil {
		return nil, err
	}
	retry := source.Retry{MaxRetries: cfg.Retry.MaxRetries, InitialInterval: cfg.Retry.InitialInterval}

	a := &App{Recorder: metrics.NewRecorder()}
	deps := pipeline.Deps{
		Cohorts:  rt.Cohorts,
		Prices:   rt.Prices,
		Windows:  rt.Windows,
		Logger:   log,
		Recorder: a.Recorder,
	}

	switch cfg.Sources.Kind {
	case config.SourcesCSV:
		mem, err := source.LoadCSV(cfg.Sources.CSVDir, log)
		if err != nil {
			return nil, err
		}
		deps.Events, deps.Performance, deps.Hierarchy = mem, mem, mem
	default:
		a.ch, err = source.OpenClickHouse(source.ClickHouseConfig{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			return nil, ierr.WithError(err).WithHint("clickhouse connection").Mark(ierr.ErrEventSourceUnavailable)
		}
		deps.Events = source.NewClickHouseEvents(a.ch, retry, log)
	}

	if cfg.Postgres.DSN != "" {
		a.pool, err = pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			a.Close()
			return nil, ierr.WithError(err).WithHint("postgres connection").Mark(ierr.ErrReferenceSourceUnavailable)
		}
		pg := store.NewPostgresStore(a.pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, ierr.WithError(err).WithHint("creating metric tables").Mark(ierr.ErrWriteTransactionFailure)
		}
		a.Store = pg
		if cfg.Sources.Kind == config.SourcesLive {
			src := source.NewPostgres(a.pool, retry, log)
			deps.Performance, deps.Hierarchy = src, src
		}
	} else {
		a.Store = store.NewMemoryStore()
	}
	deps.Writer = a.Store

	a.Runner = pipeline.New(deps, pipeline.Options{
		PartitionDays: cfg.Pipeline.PartitionDays,
		Workers:       cfg.Pipeline.Workers,
		Breakdowns:    cfg.Pipeline.Breakdowns,
	})
	log.Info("pipeline ready", "sources", cfg.Sources.Kind, "postgres", a.pool != nil,
		"partition_days", cfg.Pipeline.PartitionDays, "workers", cfg.Pipeline.Workers,
		"segments", len(rt.Cohorts.Segments), "prices", len(rt.Prices))
	return a, nil
}

// Ready pings the live connections.
func (a *App) Ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return err
		}
	}
	if a.ch != nil {
		return a.ch.Ping(ctx)
	}
	return nil
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.ch != nil {
		_ = a.ch.Close()
	}
}
