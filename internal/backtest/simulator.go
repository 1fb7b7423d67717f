package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed"
	"github.com/newthinker/augur/internal/indicator"
	"github.com/newthinker/augur/internal/money"
	"github.com/newthinker/augur/internal/rules"
)

// Simulator replays predictions day by day against a price series. A
// Simulator owns all of its state and serves a single run.
type Simulator struct {
	cfg     Config
	prices  feed.PriceSeries
	history feed.History
	rules   *rules.RuleSet
	logger  *zap.Logger

	commission decimal.Decimal
	slippage   decimal.Decimal
	target     decimal.Decimal
	stop       decimal.Decimal

	capital   decimal.Decimal
	peak      decimal.Decimal
	positions map[string]*Position
	lastSeen  map[string]core.Bar
	trades    []Trade
	curve     []EquityPoint
}

// NewSimulator creates a simulator. rs may be nil for built-in behaviour only.
func NewSimulator(cfg Config, prices feed.PriceSeries, rs *rules.RuleSet, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		cfg:        cfg,
		prices:     prices,
		rules:      rs,
		logger:     logger,
		commission: money.FromFloat(cfg.CommissionRate),
		slippage:   money.FromFloat(cfg.SlippageRate),
		target:     money.One.Add(money.Pct(DefaultTargetPct)),
		stop:       money.One.Sub(money.Pct(DefaultStopPct)),
		capital:    cfg.InitialCapital,
		peak:       cfg.InitialCapital,
		positions:  make(map[string]*Position),
		lastSeen:   make(map[string]core.Bar),
	}
	if h, ok := prices.(feed.History); ok {
		s.history = h
	}
	return s
}

// Simulate runs the day loop from the first prediction day (no earlier than
// StartDate) through EndDate, then closes whatever is still open.
func (s *Simulator) Simulate(ctx context.Context, preds []core.Prediction) ([]Trade, []EquityPoint, error) {
	if len(preds) == 0 {
		return nil, nil, core.ErrDataUnavailable
	}

	byDay := make(map[time.Time][]core.Prediction)
	first := core.Day(preds[0].Date)
	for _, p := range preds {
		d := core.Day(p.Date)
		byDay[d] = append(byDay[d], p)
		if d.Before(first) {
			first = d
		}
	}

	start := first
	if from := core.Day(s.cfg.StartDate); start.Before(from) {
		start = from
	}
	end := core.Day(s.cfg.EndDate)

	last := start
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, nil, core.WrapError(core.ErrCanceled, err)
		}
		s.closePhase(d)
		s.openPhase(d, byDay[d])
		s.recordEquity(d)
		last = d
	}
	s.finalize(last)

	return s.trades, s.curve, nil
}

func (s *Simulator) sortedSymbols() []string {
	syms := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func (s *Simulator) closePhase(d time.Time) {
	for _, sym := range s.sortedSymbols() {
		pos := s.positions[sym]
		bar, ok := s.prices.Bar(sym, d)
		if !ok || bar.Close <= 0 {
			continue
		}
		s.lastSeen[sym] = bar

		exit := money.WithSlippage(money.FromFloat(bar.Close), s.slippage, false)
		held := core.DaysBetween(pos.EntryDate, d)
		if reason, ok := s.exitReason(pos, exit, held); ok {
			s.close(pos, exit, d, reason)
		}
	}
}

func (s *Simulator) exitReason(pos *Position, exit decimal.Decimal, held int) (string, bool) {
	ret, _ := money.Ratio(exit.Sub(pos.EntryPrice), pos.EntryPrice)
	ctx := rules.Context{
		rules.VarCurrentReturn: ret,
		rules.VarHoldingDays:   float64(held),
		rules.VarEntryPrice:    money.ToFloat(pos.EntryPrice),
	}
	if reason, ok := s.rules.Exit(ctx); ok {
		return reason, true
	}

	switch {
	case held >= DefaultTimeoutDays:
		return ExitTimeout, true
	case exit.GreaterThanOrEqual(pos.EntryPrice.Mul(s.target)):
		return ExitTargetHit, true
	case exit.LessThanOrEqual(pos.EntryPrice.Mul(s.stop)):
		return ExitStopLoss, true
	}
	return "", false
}

func (s *Simulator) close(pos *Position, exit decimal.Decimal, d time.Time, reason string) {
	proceeds := money.Notional(exit, pos.Quantity)
	exitCommission := proceeds.Mul(s.commission)
	slippage := proceeds.Mul(s.slippage)

	gross := exit.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity))
	commission := pos.Commission.Add(exitCommission)
	net := gross.Sub(commission).Sub(slippage)
	ret, _ := money.Ratio(net, pos.TotalCost)

	s.capital = s.capital.Add(proceeds).Sub(exitCommission).Sub(slippage)
	delete(s.positions, pos.Symbol)

	t := Trade{
		Symbol:           pos.Symbol,
		EntryDate:        pos.EntryDate,
		EntryPrice:       pos.EntryPrice,
		Quantity:         pos.Quantity,
		Confidence:       pos.Confidence,
		TotalCost:        pos.TotalCost,
		ExitDate:         d,
		ExitPrice:        exit,
		ExitReason:       reason,
		GrossPnL:         gross,
		Commission:       commission,
		Slippage:         slippage,
		NetPnL:           net,
		ReturnPercentage: ret * 100,
		HoldingDays:      core.DaysBetween(pos.EntryDate, d),
	}
	s.trades = append(s.trades, t)

	s.logger.Debug("position closed",
		zap.String("symbol", t.Symbol),
		zap.String("reason", reason),
		zap.Time("date", d),
		zap.String("net_pnl", net.StringFixed(2)),
	)
}

func (s *Simulator) openPhase(d time.Time, preds []core.Prediction) {
	candidates := make([]core.Prediction, 0, len(preds))
	for _, p := range preds {
		if !p.IsBuy() || p.Confidence < s.cfg.ConfidenceThreshold {
			continue
		}
		if _, held := s.positions[p.Symbol]; held {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	for _, p := range candidates {
		if len(s.positions) >= s.cfg.MaxPositions {
			return
		}
		if _, held := s.positions[p.Symbol]; held {
			continue
		}
		bar, ok := s.prices.Bar(p.Symbol, d)
		if !ok || bar.Open <= 0 {
			continue
		}
		entry := money.WithSlippage(money.FromFloat(bar.Open), s.slippage, true)
		if !entry.IsPositive() {
			continue
		}

		ctx := s.entryContext(p, bar, d)
		if eligible, _ := s.rules.Entry(ctx); !eligible {
			continue
		}

		decision, name := s.rules.Risk(s.riskContext(ctx))
		switch decision {
		case rules.RiskReject:
			continue
		case rules.RiskHalt:
			s.logger.Debug("opening halted by risk rule", zap.String("rule", name), zap.Time("date", d))
			return
		}

		pct := s.rules.PositionSize(ctx, s.cfg.PositionSizePercentage)
		qty := money.Shares(s.capital.Mul(money.Pct(pct)), entry)
		if qty <= 0 {
			continue
		}
		cost := money.Notional(entry, qty)
		commission := cost.Mul(s.commission)
		total := cost.Add(commission)
		if total.GreaterThan(s.capital) {
			continue
		}

		s.capital = s.capital.Sub(total)
		s.positions[p.Symbol] = &Position{
			Symbol:     p.Symbol,
			EntryDate:  d,
			EntryPrice: entry,
			Quantity:   qty,
			Confidence: p.Confidence,
			Commission: commission,
			TotalCost:  total,
		}
		if bar.Close > 0 {
			s.lastSeen[p.Symbol] = bar
		}

		s.logger.Debug("position opened",
			zap.String("symbol", p.Symbol),
			zap.Time("date", d),
			zap.Int64("quantity", qty),
			zap.String("entry_price", entry.StringFixed(4)),
		)
	}
}

// entryContext uses the candidate's bar for volume and the bars before d for
// the 20 day indicators. Indicators with too little history are left out.
func (s *Simulator) entryContext(p core.Prediction, bar core.Bar, d time.Time) rules.Context {
	ctx := rules.Context{
		rules.VarConfidence: p.Confidence,
		rules.VarVolume:     float64(bar.Volume),
	}
	if s.history == nil {
		return ctx
	}
	hist := s.history.History(p.Symbol, d.AddDate(0, 0, -1), indicator.Lookback+1)
	if v, ok := indicator.PriceChange(hist, indicator.Lookback); ok {
		ctx[rules.VarPriceChange20d] = v
	}
	if v, ok := indicator.AvgVolume(hist, indicator.Lookback); ok {
		ctx[rules.VarAvgVolume] = v
	}
	return ctx
}

func (s *Simulator) riskContext(entry rules.Context) rules.Context {
	ctx := make(rules.Context, len(entry)+3)
	for k, v := range entry {
		ctx[k] = v
	}
	ctx[rules.VarOpenPositions] = float64(len(s.positions))
	ctx[rules.VarCapital] = money.ToFloat(s.capital)
	ctx[rules.VarDrawdown] = s.drawdown(s.equity())
	return ctx
}

// equity is cash plus the cost basis of open positions.
func (s *Simulator) equity() decimal.Decimal {
	eq := s.capital
	for _, pos := range s.positions {
		eq = eq.Add(pos.TotalCost)
	}
	return eq
}

func (s *Simulator) drawdown(eq decimal.Decimal) float64 {
	if !s.peak.IsPositive() || !eq.LessThan(s.peak) {
		return 0
	}
	dd, _ := money.Ratio(s.peak.Sub(eq), s.peak)
	return dd * 100
}

func (s *Simulator) recordEquity(d time.Time) {
	s.curve = append(s.curve, s.point(d, len(s.curve)))
}

// point builds the equity point for d as the idx-th point of the curve.
func (s *Simulator) point(d time.Time, idx int) EquityPoint {
	eq := s.equity()
	if eq.GreaterThan(s.peak) {
		s.peak = eq
	}

	prev := s.cfg.InitialCapital
	if idx > 0 {
		prev = s.curve[idx-1].EquityValue
	}
	daily, _ := money.Ratio(eq.Sub(prev), prev)
	cumulative, _ := money.Ratio(eq.Sub(s.cfg.InitialCapital), s.cfg.InitialCapital)

	return EquityPoint{
		Date:             d,
		EquityValue:      eq,
		Drawdown:         s.drawdown(eq),
		DailyReturn:      daily,
		CumulativeReturn: cumulative,
	}
}

// finalize closes every remaining position at its last seen price and
// rewrites the last equity point with the resulting cash.
func (s *Simulator) finalize(last time.Time) {
	if len(s.positions) == 0 {
		return
	}
	for _, sym := range s.sortedSymbols() {
		pos := s.positions[sym]
		bar, ok := s.lastSeen[sym]
		if !ok {
			s.logger.Warn("no price seen for open position", zap.String("symbol", sym))
			bar = core.Bar{Close: money.ToFloat(pos.EntryPrice)}
		}
		exit := money.WithSlippage(money.FromFloat(bar.Close), s.slippage, false)
		s.close(pos, exit, last, ExitEndOfPeriod)
	}
	if n := len(s.curve); n > 0 {
		s.curve[n-1] = s.point(s.curve[n-1].Date, n-1)
	}
}
