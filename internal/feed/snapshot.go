package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newthinker/augur/internal/core"
)

// loadConcurrency bounds parallel LoadBars calls while building a snapshot.
const loadConcurrency = 8

// Snapshot is an immutable, preloaded PriceSeries. It is built once before a
// simulation and is safe for concurrent readers.
type Snapshot struct {
	bars  map[string][]core.Bar
	index map[string]map[time.Time]int
}

var (
	_ PriceSeries = (*Snapshot)(nil)
	_ History     = (*Snapshot)(nil)
)

// NewSnapshot loads every symbol's bars within [start, end] from loader.
// Bars without a usable price are dropped.
func NewSnapshot(ctx context.Context, loader BarLoader, symbols []string, start, end time.Time) (*Snapshot, error) {
	s := &Snapshot{
		bars:  make(map[string][]core.Bar, len(symbols)),
		index: make(map[string]map[time.Time]int, len(symbols)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			bars, err := loader.LoadBars(gctx, sym, start, end)
			if err != nil {
				return fmt.Errorf("loading bars for %s: %w", sym, err)
			}
			mu.Lock()
			s.add(sym, bars)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	return s, nil
}

// SnapshotOf builds a snapshot directly from bars, grouping by symbol.
func SnapshotOf(bars []core.Bar) *Snapshot {
	s := &Snapshot{
		bars:  make(map[string][]core.Bar),
		index: make(map[string]map[time.Time]int),
	}
	grouped := map[string][]core.Bar{}
	for _, b := range bars {
		grouped[b.Symbol] = append(grouped[b.Symbol], b)
	}
	for sym, bs := range grouped {
		s.add(sym, bs)
	}
	return s
}

func (s *Snapshot) add(symbol string, bars []core.Bar) {
	kept := make([]core.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Symbol == "" {
			b.Symbol = symbol
		}
		if !b.IsValid() {
			continue
		}
		b.Date = core.Day(b.Date)
		kept = append(kept, b)
	}
	SortBars(kept)

	// last bar wins on duplicate days
	idx := make(map[time.Time]int, len(kept))
	deduped := kept[:0]
	for _, b := range kept {
		if i, ok := idx[b.Date]; ok {
			deduped[i] = b
			continue
		}
		idx[b.Date] = len(deduped)
		deduped = append(deduped, b)
	}
	s.bars[symbol] = deduped
	s.index[symbol] = idx
}

// Bar implements PriceSeries.
func (s *Snapshot) Bar(symbol string, date time.Time) (core.Bar, bool) {
	idx, ok := s.index[symbol]
	if !ok {
		return core.Bar{}, false
	}
	i, ok := idx[core.Day(date)]
	if !ok {
		return core.Bar{}, false
	}
	return s.bars[symbol][i], true
}

// History returns up to n bars for symbol dated on or before date, oldest first.
func (s *Snapshot) History(symbol string, date time.Time, n int) []core.Bar {
	bars := s.bars[symbol]
	if n <= 0 || len(bars) == 0 {
		return nil
	}
	day := core.Day(date)
	end := sort.Search(len(bars), func(i int) bool {
		return bars[i].Date.After(day)
	})
	start := max(0, end-n)
	return bars[start:end]
}

// Symbols lists the symbols with at least one bar, sorted.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.bars))
	for sym, bars := range s.bars {
		if len(bars) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Len is the total number of bars held.
func (s *Snapshot) Len() int {
	n := 0
	for _, bars := range s.bars {
		n += len(bars)
	}
	return n
}
