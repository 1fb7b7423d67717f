package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/rules"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dayN(n int) time.Time { return epoch.AddDate(0, 0, n) }

func flatBars(sym string, from, to int, price float64) []core.Bar {
	var bars []core.Bar
	for i := from; i <= to; i++ {
		bars = append(bars, core.Bar{Symbol: sym, Date: dayN(i), Open: price, High: price, Low: price, Close: price, Volume: 1000})
	}
	return bars
}

func buy(sym string, n int, conf float64) core.Prediction {
	return core.Prediction{Symbol: sym, Date: dayN(n), Confidence: conf, Value: 1}
}

func simConfig(days int) Config {
	c := DefaultConfig()
	c.ModelID = "m1"
	c.StartDate = epoch
	c.EndDate = dayN(days)
	return c
}

func compile(t *testing.T, rs ...rules.Rule) *rules.RuleSet {
	t.Helper()
	set, err := rules.Compile(rs)
	require.NoError(t, err)
	return set
}

func simulate(t *testing.T, cfg Config, bars []core.Bar, rs *rules.RuleSet, preds ...core.Prediction) ([]Trade, []EquityPoint) {
	t.Helper()
	trades, curve, err := NewSimulator(cfg, feed.SnapshotOf(bars), rs, nil).Simulate(context.Background(), preds)
	require.NoError(t, err)
	return trades, curve
}

func assertConserved(t *testing.T, cfg Config, trades []Trade, curve []EquityPoint) {
	t.Helper()
	require.NotEmpty(t, curve)
	want := cfg.InitialCapital
	for _, tr := range trades {
		want = want.Add(tr.NetPnL)
	}
	final := curve[len(curve)-1].EquityValue
	assert.True(t, final.Equal(want), "final equity %s != initial + net pnl %s", final, want)
}

func TestSimulate_Timeout(t *testing.T) {
	cfg := simConfig(14)
	bars := flatBars("AAA", 0, 6, 100)
	bars = append(bars, core.Bar{Symbol: "AAA", Date: dayN(7), Open: 100, High: 105, Low: 100, Close: 105, Volume: 1000})

	trades, curve := simulate(t, cfg, bars, nil, buy("AAA", 0, 0.8))

	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, ExitTimeout, tr.ExitReason)
	assert.Equal(t, 7, tr.HoldingDays)
	assert.Equal(t, dayN(7), tr.ExitDate)
	assert.True(t, tr.EntryPrice.Equal(dec(100.1)), "entry %s", tr.EntryPrice)
	assert.True(t, tr.ExitPrice.Equal(dec(104.895)), "exit %s", tr.ExitPrice)
	assert.Equal(t, int64(99), tr.Quantity)

	assert.Len(t, curve, 15, "one point per day through end date")
	assertConserved(t, cfg, trades, curve)
}

func TestSimulate_InsufficientCapital(t *testing.T) {
	cfg := simConfig(5)
	cfg.InitialCapital = dec(100)
	cfg.PositionSizePercentage = 50

	trades, curve := simulate(t, cfg, flatBars("AAA", 0, 5, 1000), nil, buy("AAA", 0, 0.9))

	assert.Empty(t, trades)
	for _, p := range curve {
		assert.True(t, p.EquityValue.Equal(dec(100)))
		assert.Zero(t, p.Drawdown)
	}
}

func TestSimulate_StopLoss(t *testing.T) {
	cfg := simConfig(10)
	cfg.SlippageRate = 0
	cfg.CommissionRate = 0
	bars := []core.Bar{
		{Symbol: "AAA", Date: dayN(0), Open: 100, Close: 100},
		{Symbol: "AAA", Date: dayN(1), Open: 97, Close: 94},
		{Symbol: "AAA", Date: dayN(2), Open: 94, Close: 94},
	}

	trades, curve := simulate(t, cfg, bars, nil, buy("AAA", 0, 0.9))

	require.Len(t, trades, 1)
	assert.Equal(t, ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, dayN(1), trades[0].ExitDate)
	assert.Equal(t, 1, trades[0].HoldingDays)
	assert.True(t, trades[0].ExitPrice.Equal(dec(94)))
	assertConserved(t, cfg, trades, curve)
}

func TestSimulate_TargetHit(t *testing.T) {
	cfg := simConfig(10)
	cfg.SlippageRate = 0
	bars := append(flatBars("AAA", 0, 1, 100), core.Bar{Symbol: "AAA", Date: dayN(2), Open: 100, Close: 106})

	trades, _ := simulate(t, cfg, bars, nil, buy("AAA", 0, 0.9))

	require.Len(t, trades, 1)
	assert.Equal(t, ExitTargetHit, trades[0].ExitReason)
	assert.True(t, trades[0].IsWin())
}

func TestSimulate_NoPredictions(t *testing.T) {
	_, _, err := NewSimulator(simConfig(5), feed.SnapshotOf(nil), nil, nil).Simulate(context.Background(), nil)
	assert.True(t, errors.Is(err, core.ErrDataUnavailable))
}

func TestSimulate_MaxPositionsAndConfidenceOrder(t *testing.T) {
	cfg := simConfig(3)
	cfg.MaxPositions = 2
	var bars []core.Bar
	for _, sym := range []string{"AAA", "BBB", "CCC", "DDD"} {
		bars = append(bars, flatBars(sym, 0, 3, 50)...)
	}

	trades, curve := simulate(t, cfg, bars, nil,
		buy("AAA", 0, 0.70),
		buy("BBB", 0, 0.95),
		buy("CCC", 0, 0.90),
		buy("DDD", 0, 0.50), // below threshold
		core.Prediction{Symbol: "DDD", Date: dayN(0), Confidence: 0.99, Value: 0}, // not a buy
	)

	require.Len(t, trades, 2)
	syms := []string{trades[0].Symbol, trades[1].Symbol}
	assert.ElementsMatch(t, []string{"BBB", "CCC"}, syms)
	for _, tr := range trades {
		assert.Equal(t, ExitEndOfPeriod, tr.ExitReason)
		assert.Equal(t, dayN(3), tr.ExitDate)
	}
	assertConserved(t, cfg, trades, curve)
}

func TestSimulate_OnePositionPerSymbol(t *testing.T) {
	cfg := simConfig(3)
	trades, _ := simulate(t, cfg, flatBars("AAA", 0, 3, 50), nil,
		buy("AAA", 0, 0.9),
		buy("AAA", 0, 0.8),
		buy("AAA", 1, 0.9),
	)
	assert.Len(t, trades, 1)
}

func TestSimulate_CommissionMustFit(t *testing.T) {
	cfg := simConfig(3)
	cfg.InitialCapital = dec(1000)
	cfg.PositionSizePercentage = 100
	cfg.SlippageRate = 0
	cfg.CommissionRate = 0.01

	trades, curve := simulate(t, cfg, flatBars("AAA", 0, 3, 100), nil, buy("AAA", 0, 0.9))

	assert.Empty(t, trades)
	assert.True(t, curve[0].EquityValue.Equal(dec(1000)))
}

func TestSimulate_SkipsMissingPrices(t *testing.T) {
	cfg := simConfig(3)
	trades, curve := simulate(t, cfg, flatBars("AAA", 0, 3, 50), nil, buy("ZZZ", 0, 0.9))
	assert.Empty(t, trades)
	assert.Len(t, curve, 4)
}

func TestSimulate_ForceCloseAtLastSeenPrice(t *testing.T) {
	cfg := simConfig(5)
	cfg.SlippageRate = 0
	bars := append(flatBars("AAA", 0, 2, 100), core.Bar{Symbol: "AAA", Date: dayN(3), Open: 100, Close: 102})

	trades, curve := simulate(t, cfg, bars, nil, buy("AAA", 0, 0.9))

	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, ExitEndOfPeriod, tr.ExitReason)
	assert.True(t, tr.ExitPrice.Equal(dec(102)))
	assert.Equal(t, dayN(5), tr.ExitDate)
	assert.Equal(t, 5, tr.HoldingDays)
	assertConserved(t, cfg, trades, curve)
}

func TestSimulate_TradeAccounting(t *testing.T) {
	cfg := simConfig(10)
	cfg.InitialCapital = dec(10000)
	cfg.PositionSizePercentage = 50
	cfg.CommissionRate = 0.01
	cfg.SlippageRate = 0
	bars := append(flatBars("AAA", 0, 1, 100), core.Bar{Symbol: "AAA", Date: dayN(2), Open: 100, Close: 110})

	trades, curve := simulate(t, cfg, bars, nil, buy("AAA", 0, 0.9))

	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, int64(50), tr.Quantity)
	assert.True(t, tr.TotalCost.Equal(dec(5050)), "total cost %s", tr.TotalCost)
	assert.True(t, tr.GrossPnL.Equal(dec(500)))
	// 50 entry + 55 exit
	assert.True(t, tr.Commission.Equal(dec(105)))
	assert.True(t, tr.NetPnL.Equal(dec(395)))
	assert.InDelta(t, 395.0/5050*100, tr.ReturnPercentage, 1e-9)
	assertConserved(t, cfg, trades, curve)
}

func TestSimulate_EquityCurve(t *testing.T) {
	cfg := simConfig(3)
	cfg.InitialCapital = dec(10000)
	cfg.PositionSizePercentage = 100
	cfg.CommissionRate = 0
	cfg.SlippageRate = 0
	bars := []core.Bar{
		{Symbol: "AAA", Date: dayN(0), Open: 100, Close: 100},
		{Symbol: "AAA", Date: dayN(1), Open: 100, Close: 96},
		{Symbol: "AAA", Date: dayN(2), Open: 96, Close: 94},
	}

	trades, curve := simulate(t, cfg, bars, nil, buy("AAA", 0, 0.9))

	require.Len(t, trades, 1)
	require.Len(t, curve, 4)
	for i := 1; i < len(curve); i++ {
		assert.True(t, curve[i].Date.After(curve[i-1].Date))
	}
	// cost basis valuation while held, loss realized on stop at day 2
	assert.True(t, curve[0].EquityValue.Equal(dec(10000)))
	assert.True(t, curve[2].EquityValue.Equal(dec(9400)))
	assert.InDelta(t, 6, curve[2].Drawdown, 1e-9)
	assert.InDelta(t, -0.06, curve[2].DailyReturn, 1e-9)
	assert.InDelta(t, -0.06, curve[3].CumulativeReturn, 1e-9)
}

func TestSimulate_Deterministic(t *testing.T) {
	cfg := simConfig(20)
	var bars []core.Bar
	prices := map[string][]float64{
		"AAA": {10, 10.5, 11, 10.2, 9.4, 9.9, 10.8, 11.4, 12, 11},
		"BBB": {20, 19, 18.5, 19.6, 21, 22.5, 21, 20, 19, 18},
		"CCC": {5, 5.1, 5.3, 5.2, 5.6, 5.5, 5.9, 6.2, 6, 6.4},
	}
	for sym, ps := range prices {
		for i, p := range ps {
			bars = append(bars, core.Bar{Symbol: sym, Date: dayN(i), Open: p, Close: p * 1.01, Volume: 100})
		}
	}
	preds := []core.Prediction{
		buy("AAA", 0, 0.9), buy("BBB", 0, 0.9), buy("CCC", 1, 0.7),
		buy("BBB", 3, 0.8), buy("AAA", 5, 0.95), buy("CCC", 6, 0.65),
	}

	t1, c1 := simulate(t, cfg, bars, nil, preds...)
	t2, c2 := simulate(t, cfg, bars, nil, preds...)
	assert.Equal(t, t1, t2)
	assert.Equal(t, c1, c2)
	assertConserved(t, cfg, t1, c1)
}

func TestSimulate_ExitRuleOverridesDefaults(t *testing.T) {
	cfg := simConfig(10)
	cfg.SlippageRate = 0
	bars := append(flatBars("AAA", 0, 1, 100), core.Bar{Symbol: "AAA", Date: dayN(2), Open: 100, Close: 103})
	rs := compile(t, rules.Rule{Type: rules.TypeExit, Name: "quick", Condition: "current_return >= 0.02", Action: "take_profit", Active: true})

	trades, _ := simulate(t, cfg, bars, rs, buy("AAA", 0, 0.9))

	require.Len(t, trades, 1)
	assert.Equal(t, "take_profit", trades[0].ExitReason)
	assert.Equal(t, dayN(2), trades[0].ExitDate)
}

func TestSimulate_ExitRuleReturnIsFraction(t *testing.T) {
	cfg := simConfig(3)
	cfg.SlippageRate = 0
	rs := compile(t, rules.Rule{Type: rules.TypeExit, Name: "ten_pct", Condition: "current_return >= 0.10", Action: "take_profit", Active: true})

	small := append(flatBars("AAA", 0, 0, 100), core.Bar{Symbol: "AAA", Date: dayN(1), Open: 100, Close: 101})
	trades, _ := simulate(t, cfg, small, rs, buy("AAA", 0, 0.9))
	require.Len(t, trades, 1)
	assert.Equal(t, ExitEndOfPeriod, trades[0].ExitReason, "a one percent gain stays below a ten percent rule")

	large := append(flatBars("AAA", 0, 0, 100), core.Bar{Symbol: "AAA", Date: dayN(1), Open: 100, Close: 111})
	trades, _ = simulate(t, cfg, large, rs, buy("AAA", 0, 0.9))
	require.Len(t, trades, 1)
	assert.Equal(t, "take_profit", trades[0].ExitReason)
	assert.Equal(t, dayN(1), trades[0].ExitDate)
}

// dateSeries serves one symbol's bars by date and leaves Bar.Symbol unset.
type dateSeries map[time.Time]core.Bar

func (s dateSeries) Bar(_ string, date time.Time) (core.Bar, bool) {
	b, ok := s[date]
	return b, ok
}

func TestSimulate_BarsWithoutSymbol(t *testing.T) {
	cfg := simConfig(10)
	series := dateSeries{}
	for _, b := range flatBars("AAA", 0, 10, 100) {
		b.Symbol = ""
		series[b.Date] = b
	}

	trades, curve, err := NewSimulator(cfg, series, nil, nil).Simulate(context.Background(), []core.Prediction{buy("AAA", 0, 0.9)})
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, "AAA", trades[0].Symbol)
	assert.Equal(t, ExitTimeout, trades[0].ExitReason)
	assert.Equal(t, dayN(7), trades[0].ExitDate)
	assertConserved(t, cfg, trades, curve)
}

func TestSimulate_DailyPositionInvariants(t *testing.T) {
	cfg := simConfig(12)
	cfg.MaxPositions = 2
	cfg.PositionSizePercentage = 60

	syms := []string{"AAA", "BBB", "CCC", "DDD"}
	var bars []core.Bar
	for i, sym := range syms {
		for n := 0; n <= 12; n++ {
			p := 50 + float64(i*10) + float64((n*(i+1))%7)
			bars = append(bars, core.Bar{Symbol: sym, Date: dayN(n), Open: p, Close: p * 1.01, Volume: 1000})
		}
	}
	byDay := make(map[time.Time][]core.Prediction)
	for n := 0; n <= 12; n++ {
		for i, sym := range syms {
			// the same symbol twice a day, every symbol every day
			byDay[dayN(n)] = append(byDay[dayN(n)], buy(sym, n, 0.6+0.05*float64(i)), buy(sym, n, 0.99))
		}
	}

	sim := NewSimulator(cfg, feed.SnapshotOf(bars), nil, nil)
	for n := 0; n <= 12; n++ {
		d := dayN(n)
		sim.closePhase(d)
		sim.openPhase(d, byDay[d])
		sim.recordEquity(d)

		assert.LessOrEqual(t, len(sim.positions), cfg.MaxPositions, "day %d", n)
		for sym, pos := range sim.positions {
			assert.Equal(t, sym, pos.Symbol, "day %d", n)
		}
		assert.False(t, sim.capital.IsNegative(), "day %d capital %s", n, sim.capital)
	}
	sim.finalize(dayN(12))
	assert.Empty(t, sim.positions)
	assertConserved(t, cfg, sim.trades, sim.curve)
}

func TestSimulate_EntryRuleUsesHistory(t *testing.T) {
	cfg := simConfig(40)
	var bars []core.Bar
	for i := 0; i <= 40; i++ {
		p := 200 - float64(i)*2 // steady decline
		bars = append(bars, core.Bar{Symbol: "AAA", Date: dayN(i), Open: p, Close: p, Volume: 1000})
	}
	rs := compile(t, rules.Rule{Type: rules.TypeEntry, Name: "momentum", Condition: "price_change_20d > 0", Action: rules.ActionEnter, Active: true})

	trades, _ := simulate(t, cfg, bars, rs, buy("AAA", 30, 0.9))
	assert.Empty(t, trades, "falling stock fails the momentum rule")

	// without enough history the condition is undecidable and entry is allowed
	trades, _ = simulate(t, cfg, bars, rs, buy("AAA", 5, 0.9))
	assert.Len(t, trades, 1)
}

func TestSimulate_SizingRule(t *testing.T) {
	cfg := simConfig(3)
	cfg.SlippageRate = 0
	rs := compile(t, rules.Rule{Type: rules.TypePositionSizing, Name: "half", Condition: "confidence >= 0.9", Action: "position_size = 50", Active: true})

	trades, _ := simulate(t, cfg, flatBars("AAA", 0, 3, 100), rs, buy("AAA", 0, 0.95))

	require.Len(t, trades, 1)
	assert.Equal(t, int64(500), trades[0].Quantity)
}

func TestSimulate_RiskRules(t *testing.T) {
	cfg := simConfig(3)
	var bars []core.Bar
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		bars = append(bars, flatBars(sym, 0, 3, 10)...)
	}
	preds := []core.Prediction{buy("AAA", 0, 0.9), buy("BBB", 0, 0.8), buy("CCC", 0, 0.7)}

	halt := compile(t, rules.Rule{Type: rules.TypeRiskManagement, Name: "one_at_a_time", Condition: "open_positions >= 1", Action: rules.ActionHalt, Active: true})
	trades, _ := simulate(t, cfg, bars, halt, preds...)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAA", trades[0].Symbol)

	reject := compile(t, rules.Rule{Type: rules.TypeRiskManagement, Name: "picky", Condition: "confidence < 0.85", Action: rules.ActionReject, Active: true})
	trades, _ = simulate(t, cfg, bars, reject, preds...)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAA", trades[0].Symbol)
}

func TestSimulate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewSimulator(simConfig(3), feed.SnapshotOf(flatBars("AAA", 0, 3, 10)), nil, nil).
		Simulate(ctx, []core.Prediction{buy("AAA", 0, 0.9)})
	assert.True(t, errors.Is(err, core.ErrCanceled))
}

func TestSimulate_CapitalNeverNegative(t *testing.T) {
	cfg := simConfig(10)
	cfg.PositionSizePercentage = 100
	cfg.MaxPositions = 5
	var bars []core.Bar
	var preds []core.Prediction
	for i, sym := range []string{"AAA", "BBB", "CCC", "DDD", "EEE"} {
		bars = append(bars, flatBars(sym, 0, 10, 33.3)...)
		preds = append(preds, buy(sym, i, 0.9))
	}

	sim := NewSimulator(cfg, feed.SnapshotOf(bars), nil, nil)
	trades, curve, err := sim.Simulate(context.Background(), preds)
	require.NoError(t, err)
	assert.False(t, sim.capital.IsNegative())
	for _, p := range curve {
		assert.True(t, p.EquityValue.GreaterThan(decimal.Zero))
	}
	assertConserved(t, cfg, trades, curve)
}
