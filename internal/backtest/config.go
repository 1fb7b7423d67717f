package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/augur/internal/core"
)

const (
	// RiskFreeRate is the annual risk-free rate, in percent, used by the
	// Sharpe and Sortino ratios.
	RiskFreeRate = 2.0

	// SentinelRatio stands in for an unbounded ratio (no losses, no drawdown).
	SentinelRatio = 999.0

	// TradingDaysPerYear annualizes daily volatility.
	TradingDaysPerYear = 252

	// Built-in exits used when no exit rule matches.
	DefaultTimeoutDays = 7
	DefaultTargetPct   = 5.0
	DefaultStopPct     = 5.0

	// HistoryDays is how many calendar days of bars before StartDate are
	// loaded so the 20 day indicators are available from the first day.
	HistoryDays = 45
)

// Config is the input of one backtest run. It is passed by value and never
// mutated once a run starts.
type Config struct {
	StrategyID string    `json:"strategy_id,omitempty"`
	ModelID    string    `json:"model_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`

	InitialCapital         decimal.Decimal `json:"initial_capital"`
	PositionSizePercentage float64         `json:"position_size_percentage"`
	CommissionRate         float64         `json:"commission_rate"`
	SlippageRate           float64         `json:"slippage_rate"`
	ConfidenceThreshold    float64         `json:"confidence_threshold"`
	MaxPositions           int             `json:"max_positions"`
}

// DefaultConfig returns the parameters used when a run leaves them unset.
func DefaultConfig() Config {
	return Config{
		InitialCapital:         decimal.NewFromInt(100000),
		PositionSizePercentage: 10,
		CommissionRate:         0.001,
		SlippageRate:           0.001,
		ConfidenceThreshold:    0.6,
		MaxPositions:           10,
	}
}

// Days is the number of calendar days between StartDate and EndDate.
func (c Config) Days() int {
	return core.DaysBetween(c.StartDate, c.EndDate)
}

// Validate checks the run parameters. Every failure is an ErrConfigInvalid.
func (c Config) Validate() error {
	switch {
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return core.Errorf(core.ErrConfigInvalid, "start_date and end_date are required")
	case !core.Day(c.StartDate).Before(core.Day(c.EndDate)):
		return core.Errorf(core.ErrConfigInvalid, "start_date %s must be before end_date %s",
			c.StartDate.Format(time.DateOnly), c.EndDate.Format(time.DateOnly))
	case !c.InitialCapital.IsPositive():
		return core.Errorf(core.ErrConfigInvalid, "initial_capital must be positive, got %s", c.InitialCapital)
	case c.PositionSizePercentage <= 0 || c.PositionSizePercentage > 100:
		return core.Errorf(core.ErrConfigInvalid, "position_size_percentage must be in (0, 100], got %g", c.PositionSizePercentage)
	case c.CommissionRate < 0:
		return core.Errorf(core.ErrConfigInvalid, "commission_rate must not be negative, got %g", c.CommissionRate)
	case c.SlippageRate < 0:
		return core.Errorf(core.ErrConfigInvalid, "slippage_rate must not be negative, got %g", c.SlippageRate)
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return core.Errorf(core.ErrConfigInvalid, "confidence_threshold must be in [0, 1], got %g", c.ConfidenceThreshold)
	case c.MaxPositions < 1:
		return core.Errorf(core.ErrConfigInvalid, "max_positions must be at least 1, got %d", c.MaxPositions)
	case c.ModelID == "":
		return core.Errorf(core.ErrConfigInvalid, "model_id is required")
	}
	return nil
}
