package runner

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/core"
)

// Spec describes one run. Unset fields fall back to the base config.
type Spec struct {
	Name       string `yaml:"name"`
	ModelID    string `yaml:"model_id"`
	StrategyID string `yaml:"strategy_id"`
	StartDate  string `yaml:"start_date"`
	EndDate    string `yaml:"end_date"`

	InitialCapital         *float64 `yaml:"initial_capital"`
	PositionSizePercentage *float64 `yaml:"position_size_percentage"`
	CommissionRate         *float64 `yaml:"commission_rate"`
	SlippageRate           *float64 `yaml:"slippage_rate"`
	ConfidenceThreshold    *float64 `yaml:"confidence_threshold"`
	MaxPositions           *int     `yaml:"max_positions"`
}

// Batch is the layout of a batch file:
//
//	runs:
//	  - name: q1
//	    model_id: lgbm-v3
//	    strategy_id: momentum
//	    start_date: 2024-01-01
//	    end_date: 2024-03-31
//	    max_positions: 5
type Batch struct {
	Runs []Spec `yaml:"runs"`
}

// LoadBatch parses a batch file.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading batch file: %w", err))
	}
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, core.Errorf(core.ErrConfigInvalid, "parsing batch file %s: %v", path, err)
	}
	if len(b.Runs) == 0 {
		return nil, core.Errorf(core.ErrConfigInvalid, "batch file %s has no runs", path)
	}
	return &b, nil
}

// Config overlays the spec on base. Only date parsing is checked here; the
// rest is validated when the run executes.
func (s Spec) Config(base backtest.Config) (backtest.Config, error) {
	cfg := base
	if s.ModelID != "" {
		cfg.ModelID = s.ModelID
	}
	if s.StrategyID != "" {
		cfg.StrategyID = s.StrategyID
	}

	var err error
	if s.StartDate != "" {
		if cfg.StartDate, err = parseDate(s.StartDate); err != nil {
			return cfg, err
		}
	}
	if s.EndDate != "" {
		if cfg.EndDate, err = parseDate(s.EndDate); err != nil {
			return cfg, err
		}
	}

	if s.InitialCapital != nil {
		cfg.InitialCapital = decimal.NewFromFloat(*s.InitialCapital)
	}
	if s.PositionSizePercentage != nil {
		cfg.PositionSizePercentage = *s.PositionSizePercentage
	}
	if s.CommissionRate != nil {
		cfg.CommissionRate = *s.CommissionRate
	}
	if s.SlippageRate != nil {
		cfg.SlippageRate = *s.SlippageRate
	}
	if s.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *s.ConfidenceThreshold
	}
	if s.MaxPositions != nil {
		cfg.MaxPositions = *s.MaxPositions
	}
	return cfg, nil
}

// DisplayName is the spec's name, or model/strategy when unnamed.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.StrategyID == "" {
		return s.ModelID
	}
	return s.ModelID + "/" + s.StrategyID
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, core.Errorf(core.ErrConfigInvalid, "bad date %q, want YYYY-MM-DD", v)
	}
	return t, nil
}
