// Package feed defines the data sources a backtest reads from: daily price
// bars and dated model predictions.
package feed

import (
	"context"
	"sort"
	"time"

	"github.com/newthinker/augur/internal/core"
)

// PriceSeries looks up one daily bar. ok is false when no bar exists for
// that symbol and day; lookups never fail.
type PriceSeries interface {
	Bar(symbol string, date time.Time) (core.Bar, bool)
}

// History is implemented by price series that can also return the bars
// leading up to a day, used for the entry context indicators.
type History interface {
	History(symbol string, date time.Time, n int) []core.Bar
}

// PredictionFeed returns a model's predictions dated within [start, end],
// ordered by date.
type PredictionFeed interface {
	Predictions(ctx context.Context, modelID string, start, end time.Time) ([]core.Prediction, error)
}

// BarLoader batch-loads a symbol's bars within [start, end].
type BarLoader interface {
	LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error)
}

// Memory is an in-memory feed. It serves predictions keyed by model ID and
// bars keyed by symbol, and satisfies PredictionFeed and BarLoader.
type Memory struct {
	predictions map[string][]core.Prediction
	bars        map[string][]core.Bar
}

// NewMemory creates an empty in-memory feed.
func NewMemory() *Memory {
	return &Memory{
		predictions: make(map[string][]core.Prediction),
		bars:        make(map[string][]core.Bar),
	}
}

// AddPredictions appends predictions for a model.
func (m *Memory) AddPredictions(modelID string, preds ...core.Prediction) {
	for _, p := range preds {
		p.Date = core.Day(p.Date)
		m.predictions[modelID] = append(m.predictions[modelID], p)
	}
	SortPredictions(m.predictions[modelID])
}

// AddBars appends bars; each bar is filed under its own symbol.
func (m *Memory) AddBars(bars ...core.Bar) {
	touched := map[string]bool{}
	for _, b := range bars {
		b.Date = core.Day(b.Date)
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
		touched[b.Symbol] = true
	}
	for sym := range touched {
		SortBars(m.bars[sym])
	}
}

// Predictions implements PredictionFeed.
func (m *Memory) Predictions(ctx context.Context, modelID string, start, end time.Time) ([]core.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []core.Prediction
	for _, p := range m.predictions[modelID] {
		if InRange(p.Date, start, end) {
			out = append(out, p)
		}
	}
	return out, nil
}

// LoadBars implements BarLoader.
func (m *Memory) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []core.Bar
	for _, b := range m.bars[symbol] {
		if InRange(b.Date, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// InRange reports whether t's day falls within [start, end] by calendar day.
func InRange(t, start, end time.Time) bool {
	d := core.Day(t)
	return !d.Before(core.Day(start)) && !d.After(core.Day(end))
}

// SortPredictions orders predictions by date, then symbol.
func SortPredictions(preds []core.Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		if !preds[i].Date.Equal(preds[j].Date) {
			return preds[i].Date.Before(preds[j].Date)
		}
		return preds[i].Symbol < preds[j].Symbol
	})
}

// SortBars orders bars by date.
func SortBars(bars []core.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}

// Symbols returns the distinct symbols in preds, sorted.
func Symbols(preds []core.Prediction) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range preds {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	sort.Strings(out)
	return out
}
