// Package app assembles the runner and its stores from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/config"
	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/feed/parquet"
	"github.com/newthinker/augur/internal/feed/sqlite"
	"github.com/newthinker/augur/internal/metrics"
	"github.com/newthinker/augur/internal/rules"
	"github.com/newthinker/augur/internal/runner"
	"github.com/newthinker/augur/internal/storage/archive"
)

// App owns every component a command needs.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	runner  *runner.Runner
	results *archive.Results
	metrics *metrics.Registry

	closers []func() error
}

// dataStore is what a configured data source provides.
type dataStore interface {
	feed.PredictionFeed
	feed.BarLoader
}

// New wires stores, archive and metrics into a runner. cfg must be valid.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	data, err := a.openData()
	if err != nil {
		return nil, err
	}
	src, err := a.openRules(data)
	if err != nil {
		a.Close()
		return nil, err
	}

	bt := backtest.New(logger.Named("backtest"))
	bt.SetBarLoader(data)
	a.runner = runner.New(bt, data, src, runner.Options{
		MaxConcurrent: cfg.Runner.MaxConcurrent,
		MaxJobs:       cfg.Runner.MaxJobs,
	}, logger.Named("runner"))

	if cfg.Archive.Enabled {
		blob, err := OpenBlob(cfg.Archive)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.results = archive.NewResults(blob)
		a.runner.SetArchive(a.results)
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry()
		a.runner.SetMetrics(a.metrics)
	}

	logger.Info("app ready",
		zap.String("data", cfg.Data.Type),
		zap.String("rules", cfg.Rules.Type),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return a, nil
}

func (a *App) openData() (dataStore, error) {
	switch a.cfg.Data.Type {
	case "parquet":
		return parquet.New(a.cfg.Data.Path), nil
	case "sqlite":
		st, err := sqlite.Open(a.cfg.Data.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
	return nil, core.Errorf(core.ErrConfigInvalid, "unknown data type %q", a.cfg.Data.Type)
}

func (a *App) openRules(data dataStore) (rules.Source, error) {
	switch a.cfg.Rules.Type {
	case "":
		return nil, nil
	case "file":
		return rules.NewFileSource(a.cfg.RulesPath()), nil
	case "sqlite":
		if st, ok := data.(*sqlite.Store); ok && a.cfg.RulesPath() == a.cfg.Data.Path {
			return st, nil
		}
		st, err := sqlite.Open(a.cfg.RulesPath())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
	return nil, core.Errorf(core.ErrConfigInvalid, "unknown rules type %q", a.cfg.Rules.Type)
}

// OpenBlob opens the configured archive backend.
func OpenBlob(cfg config.ArchiveConfig) (archive.Blob, error) {
	switch cfg.Type {
	case "localfs":
		return archive.NewLocalFS(cfg.Path)
	case "s3":
		return archive.NewS3(archive.S3Config{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	}
	return nil, core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", cfg.Type)
}

// Runner returns the configured runner.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Results returns the result archive, or nil when archiving is disabled.
func (a *App) Results() *archive.Results {
	return a.results
}

// BaseConfig returns the configured run defaults.
func (a *App) BaseConfig() backtest.Config {
	return a.cfg.Backtest.Run()
}

// RunBatch runs specs and flushes metrics afterwards.
func (a *App) RunBatch(ctx context.Context, specs []runner.Spec) ([]*backtest.Result, error) {
	results, err := a.runner.RunBatch(ctx, specs, a.BaseConfig())
	if err != nil {
		return nil, err
	}
	a.flushMetrics()
	return results, nil
}

// Run runs one spec and flushes metrics afterwards.
func (a *App) Run(ctx context.Context, spec runner.Spec) (*backtest.Result, error) {
	results, err := a.RunBatch(ctx, []runner.Spec{spec})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (a *App) flushMetrics() {
	if a.metrics == nil {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("writing metrics textfile failed", zap.String("path", a.cfg.Metrics.Textfile), zap.Error(err))
	}
}

// Close releases open stores.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("closing app: %w", errors.Join(errs...))
	}
	return nil
}
