package backtest

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportBackground    = "#060c1b"
	reportTextPrimary   = "#eceff4"
	reportTextSecondary = "#9ca3af"
	reportEquityColor   = "#34d399"
	reportDrawdownColor = "#f87171"

	reportWidthPx  = 1200
	reportHeightPx = 420
)

// RenderReport 将回测结果渲染为可交互的 HTML 页面（资金曲线 + 回撤曲线）。
func RenderReport(w io.Writer, res Result) error {
	if len(res.Metrics.EquityCurve) == 0 {
		return fmt.Errorf("结果 %s 没有资金曲线可渲染", res.ID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildEquityChart(res), buildDrawdownChart(res))
	return page.Render(w)
}

func buildEquityChart(res Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", reportHeightPx),
			BackgroundColor: reportBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s 资金曲线", strings.ToUpper(res.Symbol), res.Timeframe),
			Subtitle:      fmt.Sprintf("%s ~ %s | pnl=%.2f | trades=%d", res.StartDate, res.EndDate, res.TotalPnL, res.Metrics.TotalTrades),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: reportTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: reportTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: reportTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: reportTextSecondary},
		}),
	)

	dates := make([]string, len(res.Metrics.EquityCurve))
	equity := make([]opts.LineData, len(res.Metrics.EquityCurve))
	for i, p := range res.Metrics.EquityCurve {
		dates[i] = p.Date
		equity[i] = opts.LineData{Value: p.Equity}
	}
	line.SetXAxis(dates)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportEquityColor, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildDrawdownChart(res Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", reportHeightPx),
			BackgroundColor: reportBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "回撤曲线",
			Subtitle:   fmt.Sprintf("max drawdown %.2f%% | sharpe %.2f | sortino %.2f", res.Metrics.MaxDrawdown*100, res.Metrics.SharpeRatio, res.Metrics.SortinoRatio),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: reportTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{
				Color: reportTextSecondary,
			},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: reportTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: reportTextSecondary},
		}),
	)

	dates := make([]string, len(res.Metrics.Drawdown))
	data := make([]opts.LineData, len(res.Metrics.Drawdown))
	for i, p := range res.Metrics.Drawdown {
		dates[i] = p.Date
		data[i] = opts.LineData{Value: p.Drawdown * 100}
	}
	line.SetXAxis(dates)
	line.AddSeries("Drawdown %", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportDrawdownColor, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.25)}),
	)
	return line
}
