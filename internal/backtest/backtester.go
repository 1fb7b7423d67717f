// Package backtest simulates a prediction-driven strategy over historical
// prices and measures how it performed.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/rules"
)

// Backtester executes runs. It holds no per-run state and is safe for
// concurrent use.
type Backtester struct {
	logger *zap.Logger
	loader feed.BarLoader
	now    func() time.Time
}

// New creates a Backtester
func New(logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetBarLoader lets Execute build a price snapshot itself when called
// without a price series.
func (b *Backtester) SetBarLoader(l feed.BarLoader) {
	b.loader = l
}

// SetClock replaces the clock used for result timestamps.
func (b *Backtester) SetClock(now func() time.Time) {
	b.now = now
}

// Execute runs one backtest. It never returns nil and never panics: every
// failure is reported through a failed Result.
func (b *Backtester) Execute(ctx context.Context, cfg Config, preds feed.PredictionFeed, prices feed.PriceSeries, src rules.Source) *Result {
	res := &Result{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Config:    cfg,
		CreatedAt: b.now(),
	}
	log := b.logger.With(zap.String("run_id", res.ID), zap.String("model_id", cfg.ModelID))

	if err := cfg.Validate(); err != nil {
		b.failRun(res, log, err)
		return res
	}

	rs, err := b.loadRules(ctx, cfg.StrategyID, src)
	if err != nil {
		b.failRun(res, log, err)
		return res
	}
	res.Warnings = rs.Warnings()
	for _, w := range res.Warnings {
		log.Warn("rule ignored", zap.String("detail", w))
	}

	res.transition(StatusRunning, b.now())
	log.Info("backtest started",
		zap.String("strategy_id", cfg.StrategyID),
		zap.Time("start", cfg.StartDate),
		zap.Time("end", cfg.EndDate),
		zap.Int("rules", rs.Len()),
	)

	trades, curve, metrics, err := b.run(ctx, cfg, preds, prices, rs, log)
	if err != nil {
		b.failRun(res, log, err)
		return res
	}

	res.Trades = trades
	res.EquityCurve = curve
	res.Metrics = &metrics
	res.transition(StatusCompleted, b.now())
	log.Info("backtest completed",
		zap.Int("trades", metrics.TotalTrades),
		zap.Float64("total_return", metrics.TotalReturn),
		zap.Float64("max_drawdown", metrics.MaxDrawdown),
		zap.Float64("sharpe", metrics.SharpeRatio),
	)
	return res
}

func (b *Backtester) loadRules(ctx context.Context, strategyID string, src rules.Source) (*rules.RuleSet, error) {
	if strategyID == "" || src == nil {
		return nil, nil
	}
	rs, err := src.Rules(ctx, strategyID)
	if err != nil {
		return nil, feedError(err, "loading rules")
	}
	return rules.Compile(rs)
}

// run does the fallible work. A panic anywhere below it becomes ErrInternal.
func (b *Backtester) run(ctx context.Context, cfg Config, preds feed.PredictionFeed, prices feed.PriceSeries, rs *rules.RuleSet, log *zap.Logger) (trades []Trade, curve []EquityPoint, m Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("backtest panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = core.WrapError(core.ErrInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	if preds == nil {
		return nil, nil, m, core.Errorf(core.ErrConfigMissing, "no prediction feed")
	}
	ps, err := preds.Predictions(ctx, cfg.ModelID, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, nil, m, feedError(err, "loading predictions")
	}
	if len(ps) == 0 {
		return nil, nil, m, core.ErrDataUnavailable
	}
	feed.SortPredictions(ps)

	if prices == nil {
		if b.loader == nil {
			return nil, nil, m, core.Errorf(core.ErrConfigMissing, "no price series")
		}
		symbols := feed.Symbols(ps)
		snap, err := feed.NewSnapshot(ctx, b.loader, symbols, cfg.StartDate.AddDate(0, 0, -HistoryDays), cfg.EndDate)
		if err != nil {
			return nil, nil, m, feedError(err, "loading prices")
		}
		log.Debug("prices loaded", zap.Int("symbols", len(symbols)), zap.Int("bars", snap.Len()))
		prices = snap
	}

	trades, curve, err = NewSimulator(cfg, prices, rs, log).Simulate(ctx, ps)
	if err != nil {
		return nil, nil, m, err
	}
	return trades, curve, Analyze(trades, curve, cfg), nil
}

func (b *Backtester) failRun(res *Result, log *zap.Logger, err error) {
	res.fail(err, b.now())
	log.Warn("backtest failed", zap.String("code", res.Error.Code), zap.Error(err))
}

// feedError keeps coded errors and cancellation intact and wraps anything
// else as ErrFeedFailed.
func feedError(err error, op string) error {
	var ce *core.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.WrapError(core.ErrCanceled, err)
	case errors.As(err, &ce):
		return err
	}
	return core.WrapError(core.ErrFeedFailed, fmt.Errorf("%s: %w", op, err))
}
