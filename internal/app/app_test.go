package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/config"
	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed/parquet"
	"github.com/newthinker/augur/internal/feed/sqlite"
	"github.com/newthinker/augur/internal/rules"
	"github.com/newthinker/augur/internal/runner"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fixtures() ([]core.Prediction, []core.Bar) {
	preds := []core.Prediction{{Symbol: "AAA", Date: day0, Confidence: 0.9, Value: 1}}
	var bars []core.Bar
	for i := 0; i <= 10; i++ {
		bars = append(bars, core.Bar{Symbol: "AAA", Date: day0.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})
	}
	return preds, bars
}

func spec() runner.Spec {
	return runner.Spec{Name: "t", ModelID: "m1", StartDate: "2024-03-01", EndDate: "2024-03-11"}
}

func TestApp_ParquetWithArchiveAndMetrics(t *testing.T) {
	dir := t.TempDir()
	preds, bars := fixtures()
	store := parquet.New(filepath.Join(dir, "data"))
	require.NoError(t, store.WritePredictions(context.Background(), "m1", preds))
	require.NoError(t, store.WriteBars(context.Background(), bars))

	cfg := config.Defaults()
	cfg.Data.Path = filepath.Join(dir, "data")
	cfg.Archive = config.ArchiveConfig{Enabled: true, Type: "localfs", Path: filepath.Join(dir, "runs")}
	cfg.Metrics = config.MetricsConfig{Enabled: true, Textfile: filepath.Join(dir, "augur.prom")}
	require.NoError(t, cfg.Validate())

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Run(context.Background(), spec())
	require.NoError(t, err)
	require.Equal(t, backtest.StatusCompleted, res.Status, "error: %v", res.Error)

	require.NotNil(t, a.Results())
	loaded, err := a.Results().Load(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, loaded.ID)

	_, err = os.Stat(cfg.Metrics.Textfile)
	assert.NoError(t, err, "metrics textfile should be written")
}

func TestApp_SQLiteDataAndRules(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "augur.db")
	st, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	preds, bars := fixtures()
	ctx := context.Background()
	_, err = st.InsertPredictions(ctx, "m1", preds)
	require.NoError(t, err)
	_, err = st.InsertBars(ctx, bars)
	require.NoError(t, err)
	_, err = st.InsertRules(ctx, "s1", []rules.Rule{
		{Type: rules.TypeEntry, Name: "never", Condition: "confidence > 0.95", Action: "enter", Active: true},
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg := config.Defaults()
	cfg.Data = config.DataConfig{Type: "sqlite", Path: dbPath}
	cfg.Rules = config.RulesConfig{Type: "sqlite"}

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Results())

	s := spec()
	s.StrategyID = "s1"
	res, err := a.Run(ctx, s)
	require.NoError(t, err)
	require.Equal(t, backtest.StatusCompleted, res.Status, "error: %v", res.Error)
	assert.Empty(t, res.Trades, "entry rule should keep confidence 0.9 out")

	res, err = a.Run(ctx, spec())
	require.NoError(t, err)
	assert.Len(t, res.Trades, 1)
}

func TestApp_BadBatchSpec(t *testing.T) {
	cfg := config.Defaults()
	cfg.Data.Path = t.TempDir()

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Run(context.Background(), runner.Spec{StartDate: "March"})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestOpenBlob(t *testing.T) {
	blob, err := OpenBlob(config.ArchiveConfig{Type: "localfs", Path: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, blob)

	_, err = OpenBlob(config.ArchiveConfig{Type: "s3"})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = OpenBlob(config.ArchiveConfig{Type: "ftp"})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}
