// Package indicator derives the per-candidate entry context (20 day price
// change, average volume) from preloaded daily bars.
package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/newthinker/augur/internal/core"
)

// Lookback is the window used for price_change_20d and avg_volume.
const Lookback = 20

// Closes extracts closing prices
func Closes(bars []core.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts volumes as floats
func Volumes(bars []core.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = float64(b.Volume)
	}
	return out
}

// AvgVolume is the simple moving average of the last period volumes.
// ok is false when fewer than period bars are available.
func AvgVolume(bars []core.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	return last(talib.Sma(Volumes(bars), period))
}

// PriceChange is the rate of change in percent between the last close and the
// close period bars earlier. ok is false when history is too short.
func PriceChange(bars []core.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) <= period {
		return 0, false
	}
	if bars[len(bars)-1-period].Close <= 0 {
		return 0, false
	}
	return last(talib.Roc(Closes(bars), period))
}

func last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
