// Package runner executes backtests as tracked jobs, alone or in batches,
// and hands finished results to the archive and metrics.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/metrics"
	"github.com/newthinker/augur/internal/rules"
)

// Archiver persists finished results.
type Archiver interface {
	Save(ctx context.Context, res *backtest.Result) error
}

// Options bounds the runner.
type Options struct {
	MaxConcurrent int
	MaxJobs       int
}

// Runner executes backtests and tracks them in a job store.
type Runner struct {
	bt      *backtest.Backtester
	preds   feed.PredictionFeed
	prices  feed.PriceSeries
	rules   rules.Source
	store   *Store
	archive Archiver
	metrics *metrics.Registry
	limit   int
	logger  *zap.Logger
}

// New creates a Runner. rs may be nil when no strategy rules are used.
func New(bt *backtest.Backtester, preds feed.PredictionFeed, rs rules.Source, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxJobs < 1 {
		opts.MaxJobs = 100
	}
	return &Runner{
		bt:     bt,
		preds:  preds,
		rules:  rs,
		store:  NewStore(opts.MaxJobs),
		limit:  opts.MaxConcurrent,
		logger: logger,
	}
}

// SetPrices fixes the price series for every run. Without it the
// backtester loads a snapshot per run from its bar loader.
func (r *Runner) SetPrices(p feed.PriceSeries) {
	r.prices = p
}

// SetArchive sets where finished results are saved.
func (r *Runner) SetArchive(a Archiver) {
	r.archive = a
}

// SetMetrics sets the registry that finished runs are recorded in.
func (r *Runner) SetMetrics(m *metrics.Registry) {
	r.metrics = m
}

// Jobs returns the job store.
func (r *Runner) Jobs() *Store {
	return r.store
}

// Run executes one backtest as a tracked job. The result is returned even
// when archiving it fails.
func (r *Runner) Run(ctx context.Context, name string, cfg backtest.Config) *backtest.Result {
	jobID := uuid.NewString()
	log := r.logger.With(zap.String("job_id", jobID), zap.String("name", name))

	r.store.Create(jobID, name)
	if err := r.store.Update(jobID, func(j *Job) { j.Status = backtest.StatusRunning }); err != nil {
		log.Warn("job update failed", zap.Error(err))
	}
	r.updateActive()

	start := time.Now()
	res := r.bt.Execute(ctx, cfg, r.preds, r.prices, r.rules)
	elapsed := time.Since(start)

	// The job may have been evicted while running; the result is still returned.
	if err := r.store.Update(jobID, func(j *Job) {
		j.Status = res.Status
		j.Result = res
		j.Error = res.Error
	}); err != nil {
		log.Warn("job update failed", zap.String("run_id", res.ID), zap.Error(err))
	}
	r.updateActive()

	if r.metrics != nil {
		r.metrics.RecordRun(res, elapsed.Seconds())
	}

	if res.Status == backtest.StatusFailed {
		log.Warn("job failed",
			zap.String("run_id", res.ID),
			zap.String("code", res.Error.Code),
			zap.String("error", res.Error.Message),
		)
	} else {
		log.Info("job completed",
			zap.String("run_id", res.ID),
			zap.Duration("elapsed", elapsed),
		)
	}

	if r.archive != nil {
		// Saved with a fresh context so a canceled run is still archived.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.archive.Save(saveCtx, res); err != nil {
			log.Error("archiving result failed", zap.String("run_id", res.ID), zap.Error(err))
			if r.metrics != nil {
				r.metrics.RecordArchiveError()
			}
		}
	}
	return res
}

// RunBatch executes specs with bounded concurrency. Results are in the order
// of specs. A spec whose dates do not parse fails the whole batch before any
// run starts.
func (r *Runner) RunBatch(ctx context.Context, specs []Spec, base backtest.Config) ([]*backtest.Result, error) {
	cfgs := make([]backtest.Config, len(specs))
	for i, s := range specs {
		cfg, err := s.Config(base)
		if err != nil {
			return nil, err
		}
		cfgs[i] = cfg
	}

	r.logger.Info("batch started", zap.Int("runs", len(specs)), zap.Int("concurrency", r.limit))

	results := make([]*backtest.Result, len(specs))
	var g errgroup.Group
	g.SetLimit(r.limit)
	for i := range specs {
		g.Go(func() error {
			results[i] = r.Run(ctx, specs[i].DisplayName(), cfgs[i])
			return nil
		})
	}
	_ = g.Wait()

	completed := 0
	for _, res := range results {
		if res.Status == backtest.StatusCompleted {
			completed++
		}
	}
	r.logger.Info("batch finished",
		zap.Int("completed", completed),
		zap.Int("failed", len(results)-completed),
	)
	return results, nil
}

func (r *Runner) updateActive() {
	if r.metrics != nil {
		r.metrics.SetJobsActive(r.store.Active())
	}
}
