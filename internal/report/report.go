// Package report renders backtest results as an HTML chart page and as a
// plain-text summary.
package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/core"
)

const (
	colorEquity   = "#3b82f6"
	colorDrawdown = "#f87171"
	colorWin      = "#34d399"
	colorLoss     = "#f87171"

	chartWidth  = "1200px"
	chartHeight = "420px"
)

// Render writes an HTML page with the equity curve, the drawdown curve and
// the trade count per exit reason.
func Render(w io.Writer, res *backtest.Result) error {
	if res == nil || res.Status != backtest.StatusCompleted || len(res.EquityCurve) == 0 {
		return core.Errorf(core.ErrDataUnavailable, "run has no equity curve to render")
	}

	page := components.NewPage()
	page.PageTitle = "augur " + res.ID
	page.AddCharts(
		equityChart(res),
		drawdownChart(res),
		exitChart(res),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

func initOpts(title, subtitle string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	}
}

func dates(curve []backtest.EquityPoint) []string {
	out := make([]string, len(curve))
	for i, p := range curve {
		out[i] = p.Date.Format("2006-01-02")
	}
	return out
}

func equityChart(res *backtest.Result) *charts.Line {
	subtitle := fmt.Sprintf("%s / %s", res.Config.ModelID, res.Config.StrategyID)
	if res.Metrics != nil {
		subtitle = fmt.Sprintf("%s  return %.2f%%  sharpe %.2f", subtitle, res.Metrics.TotalReturn, res.Metrics.SharpeRatio)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(append(initOpts("Equity", subtitle),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
	)...)

	data := make([]opts.LineData, len(res.EquityCurve))
	for i, p := range res.EquityCurve {
		data[i] = opts.LineData{Value: p.EquityValue.Round(2).InexactFloat64()}
	}
	line.SetXAxis(dates(res.EquityCurve))
	line.AddSeries("equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func drawdownChart(res *backtest.Result) *charts.Line {
	subtitle := ""
	if res.Metrics != nil {
		subtitle = fmt.Sprintf("max %.2f%% over %d days", res.Metrics.MaxDrawdown, res.Metrics.MaxDrawdownDuration)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(initOpts("Drawdown %", subtitle)...)

	data := make([]opts.LineData, len(res.EquityCurve))
	for i, p := range res.EquityCurve {
		data[i] = opts.LineData{Value: -p.Drawdown}
	}
	line.SetXAxis(dates(res.EquityCurve))
	line.AddSeries("drawdown", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func exitChart(res *backtest.Result) *charts.Bar {
	wins := map[string]int{}
	losses := map[string]int{}
	for _, t := range res.Trades {
		if t.IsWin() {
			wins[t.ExitReason]++
		} else {
			losses[t.ExitReason]++
		}
	}
	reasons := exitReasons(res.Trades)

	bar := charts.NewBar()
	bar.SetGlobalOptions(append(initOpts("Trades by exit", fmt.Sprintf("%d trades", len(res.Trades))),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
	)...)

	winData := make([]opts.BarData, len(reasons))
	lossData := make([]opts.BarData, len(reasons))
	for i, r := range reasons {
		winData[i] = opts.BarData{Value: wins[r]}
		lossData[i] = opts.BarData{Value: losses[r]}
	}
	bar.SetXAxis(reasons)
	bar.AddSeries("win", winData, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorWin}))
	bar.AddSeries("loss", lossData, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorLoss}))
	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "exit"}))
	return bar
}

func exitReasons(trades []backtest.Trade) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range trades {
		if !seen[t.ExitReason] {
			seen[t.ExitReason] = true
			out = append(out, t.ExitReason)
		}
	}
	sort.Strings(out)
	return out
}

// Summary writes the run's headline numbers as an aligned table.
func Summary(w io.Writer, res *backtest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	row("run", res.ID)
	row("status", res.Status)
	row("model", res.Config.ModelID)
	if res.Config.StrategyID != "" {
		row("strategy", res.Config.StrategyID)
	}
	row("period", res.Config.StartDate.Format("2006-01-02")+" .. "+res.Config.EndDate.Format("2006-01-02"))

	if res.Error != nil {
		row("error", res.Error.Error())
	}
	for _, warn := range res.Warnings {
		row("warning", warn)
	}

	if m := res.Metrics; m != nil {
		row("final capital", m.FinalCapital.StringFixed(2))
		row("total return %", fmt.Sprintf("%.2f", m.TotalReturn))
		row("annualized %", fmt.Sprintf("%.2f", m.AnnualizedReturn))
		row("max drawdown %", fmt.Sprintf("%.2f (%d days)", m.MaxDrawdown, m.MaxDrawdownDuration))
		row("volatility %", fmt.Sprintf("%.2f", m.Volatility))
		row("sharpe", fmt.Sprintf("%.2f", m.SharpeRatio))
		row("sortino", fmt.Sprintf("%.2f", m.SortinoRatio))
		row("calmar", fmt.Sprintf("%.2f", m.CalmarRatio))
		row("trades", fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades))
		row("win rate %", fmt.Sprintf("%.2f", m.WinRate))
		row("profit factor", fmt.Sprintf("%.2f", m.ProfitFactor))
		row("expectancy", fmt.Sprintf("%.2f", m.Expectancy))
		row("avg holding days", fmt.Sprintf("%.1f", m.AvgHoldingPeriod))
	}
	return tw.Flush()
}
