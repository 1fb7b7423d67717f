package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/rules"
)

func memoryFeed(preds []core.Prediction, bars []core.Bar) *feed.Memory {
	m := feed.NewMemory()
	m.AddPredictions("m1", preds...)
	m.AddBars(bars...)
	return m
}

type panickingPrices struct{}

func (panickingPrices) Bar(string, time.Time) (core.Bar, bool) {
	panic("corrupt price index")
}

type failingRules struct{}

func (failingRules) Rules(context.Context, string) ([]rules.Rule, error) {
	return nil, errors.New("connection refused")
}

func TestExecute_Completed(t *testing.T) {
	cfg := simConfig(14)
	bars := flatBars("AAA", 0, 6, 100)
	bars = append(bars, core.Bar{Symbol: "AAA", Date: dayN(7), Open: 100, Close: 105})
	m := memoryFeed([]core.Prediction{buy("AAA", 0, 0.8)}, bars)

	res := New(nil).Execute(context.Background(), cfg, m, feed.SnapshotOf(bars), nil)

	require.Equal(t, StatusCompleted, res.Status, "error: %v", res.Error)
	assert.NotEmpty(t, res.ID)
	assert.Nil(t, res.Error)
	require.Len(t, res.Trades, 1)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 1, res.Metrics.TotalTrades)
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, res.CompletedAt.IsZero())
	assert.True(t, res.Metrics.FinalCapital.Equal(res.EquityCurve[len(res.EquityCurve)-1].EquityValue))
}

func TestExecute_EmptyPredictions(t *testing.T) {
	res := New(nil).Execute(context.Background(), simConfig(10), feed.NewMemory(), feed.SnapshotOf(nil), nil)

	assert.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ErrDataUnavailable.Code, res.Error.Code)
	assert.Contains(t, res.Error.Message, "no predictions")
	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Metrics)
}

func TestExecute_InvalidConfigNeverRuns(t *testing.T) {
	cfg := simConfig(10)
	cfg.MaxPositions = 0

	res := New(nil).Execute(context.Background(), cfg, feed.NewMemory(), nil, nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.ErrConfigInvalid.Code, res.Error.Code)
	assert.True(t, res.StartedAt.IsZero(), "run must not reach running")
}

func TestExecute_UnknownRuleType(t *testing.T) {
	cfg := simConfig(10)
	cfg.StrategyID = "s1"
	src := rules.StaticSource{"s1": {{Type: "hedge", Name: "x", Condition: "true", Active: true}}}

	res := New(nil).Execute(context.Background(), cfg, feed.NewMemory(), nil, src)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.ErrConfigInvalid.Code, res.Error.Code)
	assert.True(t, res.StartedAt.IsZero())
}

func TestExecute_RuleSourceFailure(t *testing.T) {
	cfg := simConfig(10)
	cfg.StrategyID = "s1"

	res := New(nil).Execute(context.Background(), cfg, feed.NewMemory(), nil, failingRules{})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.ErrFeedFailed.Code, res.Error.Code)
}

func TestExecute_RuleWarnings(t *testing.T) {
	cfg := simConfig(3)
	cfg.StrategyID = "s1"
	src := rules.StaticSource{"s1": {{Type: rules.TypeExit, Name: "vague", Condition: "when it feels right", Active: true}}}
	bars := flatBars("AAA", 0, 3, 10)

	res := New(nil).Execute(context.Background(), cfg, memoryFeed([]core.Prediction{buy("AAA", 0, 0.9)}, bars), feed.SnapshotOf(bars), src)

	require.Equal(t, StatusCompleted, res.Status)
	assert.Len(t, res.Warnings, 1)
}

func TestExecute_RecoversPanics(t *testing.T) {
	m := memoryFeed([]core.Prediction{buy("AAA", 0, 0.9)}, nil)

	res := New(nil).Execute(context.Background(), simConfig(3), m, panickingPrices{}, nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.ErrInternal.Code, res.Error.Code)
	assert.Contains(t, res.Error.Message, "corrupt price index")
}

func TestExecute_LoadsSnapshotFromBarLoader(t *testing.T) {
	bars := append(flatBars("AAA", 0, 1, 100), core.Bar{Symbol: "AAA", Date: dayN(2), Open: 100, Close: 120})
	m := memoryFeed([]core.Prediction{buy("AAA", 0, 0.9)}, bars)

	bt := New(nil)
	bt.SetBarLoader(m)
	res := bt.Execute(context.Background(), simConfig(5), m, nil, nil)

	require.Equal(t, StatusCompleted, res.Status, "error: %v", res.Error)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, ExitTargetHit, res.Trades[0].ExitReason)
}

func TestExecute_NoPriceSource(t *testing.T) {
	m := memoryFeed([]core.Prediction{buy("AAA", 0, 0.9)}, nil)

	res := New(nil).Execute(context.Background(), simConfig(5), m, nil, nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.ErrConfigMissing.Code, res.Error.Code)
}

func TestExecute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := memoryFeed([]core.Prediction{buy("AAA", 0, 0.9)}, flatBars("AAA", 0, 3, 10))

	res := New(nil).Execute(ctx, simConfig(3), m, feed.SnapshotOf(nil), nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.ErrCanceled.Code, res.Error.Code)
}

func TestExecute_ClockAndUniqueIDs(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bt := New(nil)
	bt.SetClock(func() time.Time { return fixed })

	a := bt.Execute(context.Background(), simConfig(3), feed.NewMemory(), nil, nil)
	b := bt.Execute(context.Background(), simConfig(3), feed.NewMemory(), nil, nil)

	assert.Equal(t, fixed, a.CreatedAt)
	assert.NotEqual(t, a.ID, b.ID)
}
