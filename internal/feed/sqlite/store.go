// Package sqlite is a SQLite-backed feed: predictions, daily bars and
// strategy rules in one database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/rules"
)

// Compile-time interface checks.
var (
	_ feed.PredictionFeed = (*Store)(nil)
	_ feed.BarLoader      = (*Store)(nil)
	_ rules.Source        = (*Store)(nil)
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	model_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	date       TEXT NOT NULL,
	confidence REAL NOT NULL,
	value      REAL NOT NULL,
	PRIMARY KEY (model_id, symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_predictions_model_date ON predictions(model_id, date);

CREATE TABLE IF NOT EXISTS bars (
	symbol TEXT NOT NULL,
	date   TEXT NOT NULL,
	open   REAL NOT NULL,
	high   REAL NOT NULL,
	low    REAL NOT NULL,
	close  REAL NOT NULL,
	volume INTEGER NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS strategy_rules (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	rule_type   TEXT NOT NULL,
	name        TEXT NOT NULL,
	condition   TEXT NOT NULL,
	action      TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	is_active   INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_strategy_rules_strategy ON strategy_rules(strategy_id);
`

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("creating schema: %w", err))
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Predictions implements feed.PredictionFeed.
func (s *Store) Predictions(ctx context.Context, modelID string, start, end time.Time) ([]core.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, confidence, value FROM predictions
		WHERE model_id = ? AND date >= ? AND date <= ?
		ORDER BY date, symbol`,
		modelID, start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	defer rows.Close()

	var out []core.Prediction
	for rows.Next() {
		var p core.Prediction
		var d string
		if err := rows.Scan(&p.Symbol, &d, &p.Confidence, &p.Value); err != nil {
			return nil, core.WrapError(core.ErrFeedFailed, err)
		}
		if p.Date, err = time.Parse(dateLayout, d); err != nil {
			return nil, core.Errorf(core.ErrFeedFailed, "prediction %s has bad date %q", p.Symbol, d)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	return out, nil
}

// LoadBars implements feed.BarLoader.
func (s *Store) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		symbol, start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	defer rows.Close()

	var out []core.Bar
	for rows.Next() {
		b := core.Bar{Symbol: symbol}
		var d string
		if err := rows.Scan(&d, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, core.WrapError(core.ErrFeedFailed, err)
		}
		if b.Date, err = time.Parse(dateLayout, d); err != nil {
			return nil, core.Errorf(core.ErrFeedFailed, "bar %s has bad date %q", symbol, d)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	return out, nil
}

// Rules implements rules.Source.
func (s *Store) Rules(ctx context.Context, strategyID string) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_type, name, condition, action, priority, is_active FROM strategy_rules
		WHERE strategy_id = ?
		ORDER BY id`, strategyID)
	if err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		if err := rows.Scan(&r.Type, &r.Name, &r.Condition, &r.Action, &r.Priority, &r.Active); err != nil {
			return nil, core.WrapError(core.ErrFeedFailed, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrFeedFailed, err)
	}
	return out, nil
}

// InsertPredictions upserts predictions for a model. It returns the number
// of rows written.
func (s *Store) InsertPredictions(ctx context.Context, modelID string, preds []core.Prediction) (int, error) {
	return s.insert(ctx, `
		INSERT INTO predictions (model_id, symbol, date, confidence, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model_id, symbol, date) DO UPDATE SET
		    confidence=excluded.confidence,
		    value=excluded.value`,
		len(preds), func(i int) []any {
			p := preds[i]
			return []any{modelID, p.Symbol, p.Date.UTC().Format(dateLayout), p.Confidence, p.Value}
		})
}

// InsertBars upserts daily bars.
func (s *Store) InsertBars(ctx context.Context, bars []core.Bar) (int, error) {
	return s.insert(ctx, `
		INSERT INTO bars (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`,
		len(bars), func(i int) []any {
			b := bars[i]
			return []any{b.Symbol, b.Date.UTC().Format(dateLayout), b.Open, b.High, b.Low, b.Close, b.Volume}
		})
}

// InsertRules appends rules to a strategy.
func (s *Store) InsertRules(ctx context.Context, strategyID string, rs []rules.Rule) (int, error) {
	return s.insert(ctx, insertRule, len(rs), ruleArgs(strategyID, rs))
}

// ReplaceRules swaps a strategy's rules for rs in one transaction.
func (s *Store) ReplaceRules(ctx context.Context, strategyID string, rs []rules.Rule) (int, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_rules WHERE strategy_id = ?`, strategyID); err != nil {
			return err
		}
		return execEach(ctx, tx, insertRule, len(rs), ruleArgs(strategyID, rs))
	})
	if err != nil {
		return 0, err
	}
	return len(rs), nil
}

const insertRule = `
		INSERT INTO strategy_rules (strategy_id, rule_type, name, condition, action, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

func ruleArgs(strategyID string, rs []rules.Rule) func(i int) []any {
	return func(i int) []any {
		r := rs[i]
		return []any{strategyID, string(r.Type), r.Name, r.Condition, r.Action, r.Priority, r.Active}
	}
}

func (s *Store) insert(ctx context.Context, query string, n int, args func(i int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return execEach(ctx, tx, query, n, args)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return core.WrapError(core.ErrStorageFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	return nil
}

func execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}
