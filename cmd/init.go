package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/config"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/monitoring"
	"github.com/sells-group/covid-cli/internal/pipeline"
	"github.com/sells-group/covid-cli/internal/store"
)

// snapshotBackend is a snapshot store that may hold a connection.
type snapshotBackend interface {
	store.SnapshotStore
	Close() error
}

type fsBackend struct{ *store.FSStore }

func (fsBackend) Close() error { return nil }

// initSnapshotStore opens the configured snapshot store.
func initSnapshotStore(ctx context.Context, c *config.Config, reg *indicator.Registry) (snapshotBackend, error) {
	switch c.Store.Driver {
	case "fs", "":
		st, err := store.NewFS(c.Store.Dir, reg, c.Store.Country)
		if err != nil {
			return nil, err
		}
		return fsBackend{st}, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.Pool)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate snapshot store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initRunLog opens the SQLite run log, or returns nil when runlog.path is empty.
func initRunLog(ctx context.Context, c *config.Config) (store.RunLog, error) {
	if c.RunLog.Path == "" {
		return nil, nil
	}
	rl, err := store.NewSQLite(c.RunLog.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open run log")
	}
	if err := rl.Migrate(ctx); err != nil {
		_ = rl.Close()
		return nil, eris.Wrap(err, "migrate run log")
	}
	return rl, nil
}

// jobEnv holds a ready job and the resources it owns.
type jobEnv struct {
	Job        *pipeline.Job
	Geometries []catalog.Geometry
	closers    []func() error
}

// Close releases every resource held by the environment.
func (e *jobEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// buildJob wires the catalog, sources, stores and metrics into a job.
func buildJob(ctx context.Context, c *config.Config) (*jobEnv, error) {
	if err := c.Validate("run"); err != nil {
		return nil, err
	}

	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	geometries, err := c.Geometries()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(c.Catalog)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}

	env := &jobEnv{Geometries: geometries}

	snaps, err := initSnapshotStore(ctx, c, reg)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, snaps.Close)

	runs, err := initRunLog(ctx, c)
	if err != nil {
		env.Close()
		return nil, err
	}
	if runs != nil {
		env.closers = append(env.closers, runs.Close)
	}

	env.Job = &pipeline.Job{
		Dataset:           c.Run.Dataset,
		Registry:          reg,
		Catalog:           cat,
		Sources:           c.Sources.Sources(),
		Fetcher:           c.Fetch.Fetcher(),
		Store:             snaps,
		Runs:              runs,
		Metrics:           monitoring.New(nil),
		SourceConcurrency: c.Fetch.Concurrency,
	}

	zap.L().Info("job ready",
		zap.String("dataset", c.Run.Dataset),
		zap.String("store", c.Store.Driver),
		zap.Int("units", cat.Len()),
		zap.Int("sources", len(env.Job.Sources)),
		zap.Int("indicators", reg.Len()),
	)
	return env, nil
}
