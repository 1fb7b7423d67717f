// Package parquet stores daily bars and model predictions as Parquet files,
// one file per symbol (or model) and year.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	pq "github.com/parquet-go/parquet-go"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
)

// Compile-time interface checks.
var (
	_ feed.BarLoader      = (*Store)(nil)
	_ feed.PredictionFeed = (*Store)(nil)
)

// Store reads and writes Parquet files under Dir:
//
//	<Dir>/bars/<SYMBOL>/<YYYY>.parquet
//	<Dir>/predictions/<MODEL>/<YYYY>.parquet
type Store struct {
	Dir string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// BarRecord is the on-disk schema for a daily bar.
type BarRecord struct {
	Symbol string  `parquet:"symbol"`
	Date   int64   `parquet:"date"` // Unix ms, midnight UTC
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
}

// PredictionRecord is the on-disk schema for a prediction.
type PredictionRecord struct {
	Symbol     string  `parquet:"symbol"`
	Date       int64   `parquet:"date"` // Unix ms, midnight UTC
	Confidence float64 `parquet:"confidence"`
	Value      float64 `parquet:"value"`
}

// WriteBars merges bars into the per-symbol, per-year files. Existing rows
// for the same symbol and day are replaced.
func (s *Store) WriteBars(_ context.Context, bars []core.Bar) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		d := core.Day(b.Date)
		k := key{symbol: b.Symbol, year: d.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol: b.Symbol,
			Date:   d.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, k.year)
		existing, err := readFile[BarRecord](path)
		if err != nil {
			return core.WrapError(core.ErrStorageFailed, err)
		}
		merged := merge(existing, records, func(r BarRecord) string { return r.Symbol }, func(r BarRecord) int64 { return r.Date })
		if err := writeFile(path, merged); err != nil {
			return core.WrapError(core.ErrStorageFailed, fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err))
		}
	}
	return nil
}

// LoadBars implements feed.BarLoader.
func (s *Store) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error) {
	var bars []core.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			return nil, core.WrapError(core.ErrFeedFailed, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Date).UTC()
			if !feed.InRange(ts, start, end) {
				continue
			}
			bars = append(bars, core.Bar{
				Symbol: r.Symbol,
				Date:   core.Day(ts),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return bars, nil
}

// WritePredictions merges predictions for modelID. A later prediction for
// the same symbol and day replaces the earlier one.
func (s *Store) WritePredictions(_ context.Context, modelID string, preds []core.Prediction) error {
	groups := make(map[int][]PredictionRecord)
	for _, p := range preds {
		d := core.Day(p.Date)
		groups[d.Year()] = append(groups[d.Year()], PredictionRecord{
			Symbol:     p.Symbol,
			Date:       d.UnixMilli(),
			Confidence: p.Confidence,
			Value:      p.Value,
		})
	}

	for year, records := range groups {
		path := s.predictionPath(modelID, year)
		existing, err := readFile[PredictionRecord](path)
		if err != nil {
			return core.WrapError(core.ErrStorageFailed, err)
		}
		merged := merge(existing, records, func(r PredictionRecord) string { return r.Symbol }, func(r PredictionRecord) int64 { return r.Date })
		if err := writeFile(path, merged); err != nil {
			return core.WrapError(core.ErrStorageFailed, fmt.Errorf("writing predictions for %s/%d: %w", modelID, year, err))
		}
	}
	return nil
}

// Predictions implements feed.PredictionFeed.
func (s *Store) Predictions(ctx context.Context, modelID string, start, end time.Time) ([]core.Prediction, error) {
	var preds []core.Prediction
	for year := start.Year(); year <= end.Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readFile[PredictionRecord](s.predictionPath(modelID, year))
		if err != nil {
			return nil, core.WrapError(core.ErrFeedFailed, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Date).UTC()
			if !feed.InRange(ts, start, end) {
				continue
			}
			preds = append(preds, core.Prediction{
				Symbol:     r.Symbol,
				Date:       core.Day(ts),
				Confidence: r.Confidence,
				Value:      r.Value,
			})
		}
	}
	feed.SortPredictions(preds)
	return preds, nil
}

// Symbols lists the symbols that have bar files.
func (s *Store) Symbols() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, "bars"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *Store) barPath(symbol string, year int) string {
	return filepath.Join(s.Dir, "bars", symbol, fmt.Sprintf("%d.parquet", year))
}

func (s *Store) predictionPath(modelID string, year int) string {
	return filepath.Join(s.Dir, "predictions", modelID, fmt.Sprintf("%d.parquet", year))
}

func writeFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return pq.WriteFile(path, records)
}

// readFile returns no rows for a missing file.
func readFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rows, err := pq.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

// merge deduplicates by (symbol, date), preferring incoming rows, and sorts
// by date then symbol.
func merge[T any](existing, incoming []T, symbol func(T) string, date func(T) int64) []T {
	type key struct {
		symbol string
		date   int64
	}
	seen := make(map[key]T, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{symbol(r), date(r)}] = r
	}
	for _, r := range incoming {
		seen[key{symbol(r), date(r)}] = r
	}

	merged := make([]T, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if date(merged[i]) != date(merged[j]) {
			return date(merged[i]) < date(merged[j])
		}
		return symbol(merged[i]) < symbol(merged[j])
	})
	return merged
}
