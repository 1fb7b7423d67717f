package backtest

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/augur/internal/core"
)

// Exit reasons assigned by the built-in exits and at the end of a run.
const (
	ExitTimeout     = "timeout"
	ExitTargetHit   = "target_hit"
	ExitStopLoss    = "stop_loss"
	ExitEndOfPeriod = "end_of_period"
)

// Position is an open holding. The simulator keeps at most one per symbol.
type Position struct {
	Symbol     string          `json:"symbol"`
	EntryDate  time.Time       `json:"entry_date"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   int64           `json:"quantity"`
	Confidence float64         `json:"confidence"`
	Commission decimal.Decimal `json:"commission"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// Trade is a closed position.
type Trade struct {
	Symbol     string          `json:"symbol"`
	EntryDate  time.Time       `json:"entry_date"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   int64           `json:"quantity"`
	Confidence float64         `json:"confidence"`
	TotalCost  decimal.Decimal `json:"total_cost"`

	ExitDate   time.Time       `json:"exit_date"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitReason string          `json:"exit_reason"`

	GrossPnL         decimal.Decimal `json:"gross_pnl"`
	Commission       decimal.Decimal `json:"commission"` // entry + exit; net_pnl deducts both sides
	Slippage         decimal.Decimal `json:"slippage"`
	NetPnL           decimal.Decimal `json:"net_pnl"`
	ReturnPercentage float64         `json:"return_percentage"`
	HoldingDays      int             `json:"holding_days"`
}

// IsWin returns true if the trade made money after costs
func (t Trade) IsWin() bool {
	return t.NetPnL.IsPositive()
}

// IsLoss returns true if the trade lost money after costs
func (t Trade) IsLoss() bool {
	return t.NetPnL.IsNegative()
}

// EquityPoint is the portfolio value at the end of one simulated day.
type EquityPoint struct {
	Date             time.Time       `json:"date"`
	EquityValue      decimal.Decimal `json:"equity_value"`
	Drawdown         float64         `json:"drawdown"`          // percent below running peak
	DailyReturn      float64         `json:"daily_return"`      // fraction
	CumulativeReturn float64         `json:"cumulative_return"` // fraction
}

// Metrics summarizes a completed run. Ratios with an empty denominator hold
// SentinelRatio.
type Metrics struct {
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	WinRate             float64 `json:"win_rate"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	ProfitFactor        float64 `json:"profit_factor"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	RecoveryFactor      float64 `json:"recovery_factor"`
	Expectancy          float64 `json:"expectancy"`
	AvgHoldingPeriod    float64 `json:"avg_holding_period"`

	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	FinalCapital    decimal.Decimal `json:"final_capital"`
	MaxCapital      decimal.Decimal `json:"max_capital"`
	MinCapital      decimal.Decimal `json:"min_capital"`
	AvgWinningTrade decimal.Decimal `json:"avg_winning_trade"`
	AvgLosingTrade  decimal.Decimal `json:"avg_losing_trade"`
	LargestWin      decimal.Decimal `json:"largest_win"`
	LargestLoss     decimal.Decimal `json:"largest_loss"`
	GrossProfit     decimal.Decimal `json:"gross_profit"`
	GrossLoss       decimal.Decimal `json:"gross_loss"`
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// RunError is the serializable failure of a run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RunError) Error() string {
	return "[" + e.Code + "] " + e.Message
}

// Result is the outcome of one run. Trades, EquityCurve and Metrics are only
// set when Status is completed.
type Result struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Config      Config        `json:"config"`
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Metrics     *Metrics      `json:"metrics,omitempty"`
	Error       *RunError     `json:"error,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

func (r *Result) transition(next Status, now time.Time) bool {
	if !r.Status.CanTransition(next) {
		return false
	}
	r.Status = next
	switch next {
	case StatusRunning:
		r.StartedAt = now
	case StatusCompleted, StatusFailed:
		r.CompletedAt = now
	}
	return true
}

// fail moves the run to failed and records err. Partial output is dropped.
func (r *Result) fail(err error, now time.Time) {
	if !r.transition(StatusFailed, now) {
		return
	}
	r.Trades = nil
	r.EquityCurve = nil
	r.Metrics = nil
	r.Error = toRunError(err)
}

func toRunError(err error) *RunError {
	var ce *core.Error
	if errors.As(err, &ce) {
		return &RunError{Code: ce.Code, Message: err.Error()}
	}
	return &RunError{Code: core.ErrInternal.Code, Message: err.Error()}
}
