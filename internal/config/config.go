package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/core"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Data     DataConfig     `mapstructure:"data"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BacktestConfig holds the run parameters every run starts from. Dates come
// from the command line or the batch file.
type BacktestConfig struct {
	ModelID                string  `mapstructure:"model_id"`
	StrategyID             string  `mapstructure:"strategy_id"`
	InitialCapital         float64 `mapstructure:"initial_capital"`
	PositionSizePercentage float64 `mapstructure:"position_size_percentage"`
	CommissionRate         float64 `mapstructure:"commission_rate"`
	SlippageRate           float64 `mapstructure:"slippage_rate"`
	ConfidenceThreshold    float64 `mapstructure:"confidence_threshold"`
	MaxPositions           int     `mapstructure:"max_positions"`
}

// DataConfig points at the prediction and price store.
type DataConfig struct {
	Type string `mapstructure:"type"` // "parquet" or "sqlite"
	Path string `mapstructure:"path"` // directory for parquet, database file for sqlite
}

// RulesConfig points at the strategy rules. An empty type runs without rules.
type RulesConfig struct {
	Type string `mapstructure:"type"` // "file" or "sqlite"
	Path string `mapstructure:"path"` // for sqlite, defaults to data.path
}

type ArchiveConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Type    string   `mapstructure:"type"` // "localfs" or "s3"
	Path    string   `mapstructure:"path"` // For localfs
	S3      S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type RunnerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	MaxJobs       int `mapstructure:"max_jobs"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"`
}

// Load reads configuration from file. Keys missing from the file keep their
// default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix("AUGUR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	run := backtest.DefaultConfig()
	capital, _ := run.InitialCapital.Float64()
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Backtest: BacktestConfig{
			InitialCapital:         capital,
			PositionSizePercentage: run.PositionSizePercentage,
			CommissionRate:         run.CommissionRate,
			SlippageRate:           run.SlippageRate,
			ConfidenceThreshold:    run.ConfidenceThreshold,
			MaxPositions:           run.MaxPositions,
		},
		Data: DataConfig{
			Type: "parquet",
			Path: "data",
		},
		Archive: ArchiveConfig{
			Type: "localfs",
			Path: "runs",
		},
		Runner: RunnerConfig{
			MaxConcurrent: 4,
			MaxJobs:       100,
		},
	}
}

// Run converts the backtest section into run parameters without dates.
func (b BacktestConfig) Run() backtest.Config {
	return backtest.Config{
		ModelID:                b.ModelID,
		StrategyID:             b.StrategyID,
		InitialCapital:         decimal.NewFromFloat(b.InitialCapital),
		PositionSizePercentage: b.PositionSizePercentage,
		CommissionRate:         b.CommissionRate,
		SlippageRate:           b.SlippageRate,
		ConfidenceThreshold:    b.ConfidenceThreshold,
		MaxPositions:           b.MaxPositions,
	}
}

// RulesPath returns where rules are read from.
func (c *Config) RulesPath() string {
	if c.Rules.Path == "" && c.Rules.Type == "sqlite" {
		return c.Data.Path
	}
	return c.Rules.Path
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Backtest defaults
	b := c.Backtest
	if b.InitialCapital <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("initial_capital must be positive, got %f", b.InitialCapital))
	}
	if b.PositionSizePercentage <= 0 || b.PositionSizePercentage > 100 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("position_size_percentage must be in (0, 100], got %f", b.PositionSizePercentage))
	}
	if b.CommissionRate < 0 || b.SlippageRate < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("commission_rate and slippage_rate cannot be negative"))
	}
	if b.ConfidenceThreshold < 0 || b.ConfidenceThreshold > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", b.ConfidenceThreshold))
	}
	if b.MaxPositions < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_positions must be at least 1, got %d", b.MaxPositions))
	}

	// Data source
	switch c.Data.Type {
	case "parquet", "sqlite":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("data.type must be parquet or sqlite, got %q", c.Data.Type))
	}
	if c.Data.Path == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("data.path is required"))
	}

	// Rules source
	switch c.Rules.Type {
	case "", "sqlite":
	case "file":
		if c.Rules.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("rules.path required when rules.type is file"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("rules.type must be file or sqlite, got %q", c.Rules.Type))
	}

	// Archive
	if c.Archive.Enabled {
		switch c.Archive.Type {
		case "localfs":
			if c.Archive.Path == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("archive.path required when archive.type is localfs"))
			}
		case "s3":
			if c.Archive.S3.Bucket == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("archive.s3.bucket required when archive.type is s3"))
			}
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("archive.type must be localfs or s3, got %q", c.Archive.Type))
		}
	}

	if c.Runner.MaxConcurrent < 1 || c.Runner.MaxJobs < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("runner.max_concurrent and runner.max_jobs must be at least 1"))
	}

	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("metrics.textfile required when metrics are enabled"))
	}

	return nil
}
