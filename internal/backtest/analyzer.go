package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/newthinker/augur/internal/money"
)

// Analyze computes performance metrics from a run's trades and equity curve.
// With no trades it returns the empty sentinel: capital unchanged, all ratios 0.
func Analyze(trades []Trade, curve []EquityPoint, cfg Config) Metrics {
	initial := cfg.InitialCapital
	if len(trades) == 0 {
		return Metrics{
			FinalCapital: initial,
			MaxCapital:   initial,
			MinCapital:   initial,
		}
	}

	m := Metrics{TotalTrades: len(trades)}
	tradeStats(trades, &m)

	final := initial.Add(sumNet(trades))
	if len(curve) > 0 {
		final = curve[len(curve)-1].EquityValue
	}
	m.FinalCapital = final
	m.MaxCapital, m.MinCapital = capitalRange(curve, initial)

	if r, ok := money.Ratio(final.Sub(initial), initial); ok {
		m.TotalReturn = r * 100
	}
	m.AnnualizedReturn = annualizedReturn(initial, final, cfg.Days())

	equities := make([]float64, len(curve))
	returns := make([]float64, len(curve))
	for i, p := range curve {
		equities[i] = money.ToFloat(p.EquityValue)
		returns[i] = p.DailyReturn
	}
	m.MaxDrawdown, m.MaxDrawdownDuration = maxDrawdown(equities, money.ToFloat(initial))

	m.Volatility = stdDev(returns) * math.Sqrt(TradingDaysPerYear) * 100
	if m.Volatility != 0 {
		m.SharpeRatio = (m.AnnualizedReturn - RiskFreeRate) / m.Volatility
	}
	m.SortinoRatio = sortino(returns, m.AnnualizedReturn)

	m.ProfitFactor = SentinelRatio
	if m.GrossLoss.IsPositive() {
		m.ProfitFactor, _ = money.Ratio(m.GrossProfit, m.GrossLoss)
	}

	m.CalmarRatio = SentinelRatio
	m.RecoveryFactor = SentinelRatio
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
		denom := initial.Mul(money.FromFloat(m.MaxDrawdown)).Div(money.Hundred)
		m.RecoveryFactor, _ = money.Ratio(final.Sub(initial), denom)
	}
	return m
}

func sumNet(trades []Trade) decimal.Decimal {
	total := money.Zero
	for _, t := range trades {
		total = total.Add(t.NetPnL)
	}
	return total
}

func tradeStats(trades []Trade, m *Metrics) {
	var holding, returns float64
	winSum, lossSum := money.Zero, money.Zero
	for _, t := range trades {
		holding += float64(t.HoldingDays)
		returns += t.ReturnPercentage
		switch {
		case t.IsWin():
			m.WinningTrades++
			winSum = winSum.Add(t.NetPnL)
			if t.NetPnL.GreaterThan(m.LargestWin) {
				m.LargestWin = t.NetPnL
			}
		case t.IsLoss():
			m.LosingTrades++
			lossSum = lossSum.Add(t.NetPnL)
			if t.NetPnL.LessThan(m.LargestLoss) {
				m.LargestLoss = t.NetPnL
			}
		}
	}

	n := float64(len(trades))
	m.WinRate = float64(m.WinningTrades) / n * 100
	m.Expectancy = returns / n
	m.AvgHoldingPeriod = holding / n
	m.GrossProfit = winSum
	m.GrossLoss = lossSum.Abs()
	if m.WinningTrades > 0 {
		m.AvgWinningTrade = winSum.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLosingTrade = lossSum.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
}

func capitalRange(curve []EquityPoint, initial decimal.Decimal) (hi, lo decimal.Decimal) {
	if len(curve) == 0 {
		return initial, initial
	}
	hi, lo = curve[0].EquityValue, curve[0].EquityValue
	for _, p := range curve[1:] {
		hi = decimal.Max(hi, p.EquityValue)
		lo = decimal.Min(lo, p.EquityValue)
	}
	return hi, lo
}

// annualizedReturn compounds the total return over days calendar days.
// A zero-length range yields 0 and a wiped-out account -100.
func annualizedReturn(initial, final decimal.Decimal, days int) float64 {
	if days <= 0 || !initial.IsPositive() {
		return 0
	}
	if !final.IsPositive() {
		return -100
	}
	growth, ok := money.Ratio(final, initial)
	if !ok {
		return 0
	}
	return (math.Pow(growth, 365/float64(days)) - 1) * 100
}

// maxDrawdown returns the largest peak-to-trough decline in percent and the
// longest run of points spent below a peak. The peak starts at seed.
func maxDrawdown(equities []float64, seed float64) (float64, int) {
	peak := seed
	var maxDD float64
	var duration, maxDuration int
	for _, eq := range equities {
		if eq >= peak {
			peak = eq
			duration = 0
			continue
		}
		duration++
		if duration > maxDuration {
			maxDuration = duration
		}
		if peak > 0 {
			if dd := (peak - eq) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, maxDuration
}

// stdDev is the sample standard deviation, 0 below two observations.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

// sortino divides excess annualized return by the annualized downside
// deviation, the sample stdev of the negative daily returns.
func sortino(returns []float64, annualized float64) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	downside := stdDev(negatives) * math.Sqrt(TradingDaysPerYear) * 100
	if downside == 0 {
		return SentinelRatio
	}
	return (annualized - RiskFreeRate) / downside
}
