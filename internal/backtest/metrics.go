package backtest

import (
	"math"
	"sort"
)

// Engine 将成交列表与初始资金转化为绩效报告。
// 无内部状态，同一输入总是产出相同结果，可并发使用。
type Engine struct {
	RiskFreeRate   float64
	PeriodsPerYear int
}

func NewEngine(riskFreeRate float64, periodsPerYear int) *Engine {
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	return &Engine{RiskFreeRate: riskFreeRate, PeriodsPerYear: periodsPerYear}
}

// EquityCurve 按 UTC 日历日聚合成交盈亏，生成日度资金曲线。
// 日期按时间排序后迭代；累计权益从 0 开始，peak 单调不减。
func (e *Engine) EquityCurve(trades []Trade) []EquityPoint {
	if len(trades) == 0 {
		return nil
	}
	daily := make(map[string]float64)
	for _, t := range trades {
		day := t.Timestamp.UTC().Format("2006-01-02")
		daily[day] += t.PnL
	}
	days := make([]string, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)

	curve := make([]EquityPoint, 0, len(days))
	equity := 0.0
	peak := 0.0
	for _, day := range days {
		pnl := daily[day]
		prev := equity
		equity += pnl
		if equity > peak {
			peak = equity
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - equity) / peak
		}
		returns := 0.0
		if prev != 0 {
			returns = pnl / prev
		}
		curve = append(curve, EquityPoint{
			Date:     day,
			Equity:   equity,
			Returns:  returns,
			Drawdown: drawdown,
			Peak:     peak,
			Trough:   equity,
		})
	}
	return curve
}

// Calculate 产出完整绩效报告。空输入返回全零指标而非错误。
// 所有除零边界都定义为 0，不产生 NaN/Inf。
func (e *Engine) Calculate(trades []Trade, initialCapital float64) Metrics {
	m := Metrics{}
	if len(trades) == 0 {
		// 曲线保持空数组，序列化为 [] 而不是 null
		m.EquityCurve = []EquityPoint{}
		m.Drawdown = []DrawdownPoint{}
		return m
	}

	var grossProfit, grossLoss float64
	for _, t := range trades {
		m.TotalTrades++
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += t.PnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = math.Abs(grossLoss) / float64(m.LosingTrades)
	}
	// 无亏损时 profit factor 约定为 0（而非无穷大）
	if grossLoss != 0 {
		m.ProfitFactor = grossProfit / math.Abs(grossLoss)
	}

	curve := e.EquityCurve(trades)
	m.EquityCurve = curve
	m.Drawdown = make([]DrawdownPoint, 0, len(curve))
	returns := make([]float64, 0, len(curve))
	for _, p := range curve {
		if p.Drawdown > m.MaxDrawdown {
			m.MaxDrawdown = p.Drawdown
		}
		m.Drawdown = append(m.Drawdown, DrawdownPoint{
			Date:     p.Date,
			Drawdown: p.Drawdown,
			Peak:     p.Peak,
			Trough:   p.Trough,
		})
		returns = append(returns, p.Returns)
	}
	m.SharpeRatio = e.sharpe(returns)
	m.SortinoRatio = e.sortino(returns)
	return m
}

// sharpe 使用总体方差年化波动率，收益按复利年化。
func (e *Engine) sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	periods := float64(e.PeriodsPerYear)
	mean := meanOf(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	volatility := math.Sqrt(variance * periods)
	if volatility == 0 {
		return 0
	}
	annualized := math.Pow(1+mean, periods) - 1
	return (annualized - e.RiskFreeRate) / volatility
}

// sortino 只取负收益的平方和，但除以完整序列长度（半偏差约定）。
func (e *Engine) sortino(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	periods := float64(e.PeriodsPerYear)
	mean := meanOf(returns)
	downside := 0.0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}
	downside /= float64(len(returns))
	downsideVol := math.Sqrt(downside * periods)
	if downsideVol == 0 {
		return 0
	}
	annualized := math.Pow(1+mean, periods) - 1
	return (annualized - e.RiskFreeRate) / downsideVol
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
