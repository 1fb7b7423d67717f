package core

import "time"

// BuySignal is the prediction value at or above which a prediction counts as a buy.
const BuySignal = 1.0

// Bar is one daily OHLCV candle for a symbol.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IsValid checks if the bar carries usable prices
func (b Bar) IsValid() bool {
	return b.Symbol != "" && b.Open > 0 && b.Close > 0
}

// Prediction is a dated model output for one symbol.
type Prediction struct {
	Symbol     string    `json:"symbol"`
	Date       time.Time `json:"date"`
	Confidence float64   `json:"confidence"`
	Value      float64   `json:"value"`
}

// IsBuy reports whether the prediction is a buy signal.
func (p Prediction) IsBuy() bool {
	return p.Value >= BuySignal
}

// Day truncates t to midnight UTC. All simulation dates are normalized with it.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
