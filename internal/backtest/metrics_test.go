package backtest

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeOn(day string, pnl float64) Trade {
	ts, _ := time.Parse("2006-01-02", day)
	return Trade{ID: day, Timestamp: ts.Add(10 * time.Hour), Symbol: "BTCUSDT", Type: OrderSell, PnL: pnl}
}

func TestEngine_Calculate_Empty(t *testing.T) {
	eng := NewEngine(0.02, 252)
	m := eng.Calculate(nil, 100000)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.ProfitFactor)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.SortinoRatio)
	assert.Empty(t, m.EquityCurve)

	// 空曲线在 JSON 里是 []，不是 null
	require.NotNil(t, m.EquityCurve)
	require.NotNil(t, m.Drawdown)
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"equity_curve":[]`)
	assert.Contains(t, string(raw), `"drawdown":[]`)
}

func TestEngine_EquityCurve_DailyGrouping(t *testing.T) {
	eng := NewEngine(0.02, 252)
	trades := []Trade{
		tradeOn("2025-03-02", -200),
		tradeOn("2025-03-01", 300),
		tradeOn("2025-03-01", 200),
	}
	curve := eng.EquityCurve(trades)
	require.Len(t, curve, 2)

	// 乱序输入仍按日期升序输出，同日成交合并
	assert.Equal(t, "2025-03-01", curve[0].Date)
	assert.InDelta(t, 500.0, curve[0].Equity, 1e-9)
	assert.Equal(t, "2025-03-02", curve[1].Date)
	assert.InDelta(t, 300.0, curve[1].Equity, 1e-9)
}

func TestEngine_EquityCurve_Drawdown(t *testing.T) {
	eng := NewEngine(0.02, 252)
	trades := []Trade{
		tradeOn("2025-03-01", 500),
		tradeOn("2025-03-02", -200),
	}
	curve := eng.EquityCurve(trades)
	require.Len(t, curve, 2)

	assert.Zero(t, curve[0].Drawdown)
	assert.InDelta(t, 500.0, curve[0].Peak, 1e-9)
	// (500 - 300) / 500 = 0.4
	assert.InDelta(t, 0.4, curve[1].Drawdown, 1e-9)
	// peak 单调不减
	assert.InDelta(t, 500.0, curve[1].Peak, 1e-9)
	// returns = -200 / 500
	assert.InDelta(t, -0.4, curve[1].Returns, 1e-9)
}

func TestEngine_EquityCurve_FirstDayReturnsZero(t *testing.T) {
	eng := NewEngine(0.02, 252)
	curve := eng.EquityCurve([]Trade{tradeOn("2025-03-01", 500)})
	require.Len(t, curve, 1)
	assert.Zero(t, curve[0].Returns)
}

func TestEngine_Calculate_WinLossPartition(t *testing.T) {
	eng := NewEngine(0.02, 252)
	trades := []Trade{
		tradeOn("2025-03-01", 100),
		tradeOn("2025-03-02", 300),
		tradeOn("2025-03-03", -100),
		tradeOn("2025-03-04", 0), // 零盈亏既非盈利也非亏损
	}
	m := eng.Calculate(trades, 100000)

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 200.0, m.AverageWin, 1e-9)
	assert.InDelta(t, 100.0, m.AverageLoss, 1e-9)
	assert.InDelta(t, 4.0, m.ProfitFactor, 1e-9)
}

func TestEngine_Calculate_ProfitFactorNoLosses(t *testing.T) {
	eng := NewEngine(0.02, 252)
	m := eng.Calculate([]Trade{
		tradeOn("2025-03-01", 100),
		tradeOn("2025-03-02", 50),
	}, 100000)

	// 无亏损时 profit factor 为 0，不是 +Inf
	assert.Zero(t, m.ProfitFactor)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Zero(t, m.LosingTrades)
}

func TestEngine_Calculate_MaxDrawdown(t *testing.T) {
	eng := NewEngine(0.02, 252)
	m := eng.Calculate([]Trade{
		tradeOn("2025-03-01", 500),
		tradeOn("2025-03-02", -200),
		tradeOn("2025-03-03", 100),
	}, 100000)

	assert.InDelta(t, 0.4, m.MaxDrawdown, 1e-9)
	require.Len(t, m.Drawdown, 3)
	assert.InDelta(t, 0.4, m.Drawdown[1].Drawdown, 1e-9)
	// 第三天回升到 400，回撤 (500-400)/500
	assert.InDelta(t, 0.2, m.Drawdown[2].Drawdown, 1e-9)
}

func TestEngine_Sharpe_ZeroVolatility(t *testing.T) {
	eng := NewEngine(0.02, 252)
	// 单日收益序列方差为 0
	m := eng.Calculate([]Trade{tradeOn("2025-03-01", 500)}, 100000)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.SortinoRatio)
}

func TestEngine_Sortino_NoNegativeReturns(t *testing.T) {
	eng := NewEngine(0.02, 252)
	m := eng.Calculate([]Trade{
		tradeOn("2025-03-01", 100),
		tradeOn("2025-03-02", 50),
		tradeOn("2025-03-03", 25),
	}, 100000)
	// 没有负收益时下行波动为 0，Sortino 约定为 0
	assert.Zero(t, m.SortinoRatio)
	assert.NotZero(t, m.SharpeRatio)
}

func TestEngine_Sharpe_Computation(t *testing.T) {
	eng := NewEngine(0.0, 252)
	returns := []float64{0.01, -0.02, 0.03}

	mean := (0.01 - 0.02 + 0.03) / 3
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= 3
	vol := math.Sqrt(variance * 252)
	want := (math.Pow(1+mean, 252) - 1) / vol

	assert.InDelta(t, want, eng.sharpe(returns), 1e-9)
}
