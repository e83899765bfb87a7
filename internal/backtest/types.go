package backtest

import (
	"time"
)

// 订单方向，与前端提交的 type 字段保持一致。
const (
	OrderBuy  = "buy"
	OrderSell = "sell"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

// Order 描述一次撮合请求。price 为期望价，实际成交价由滑点决定。
type Order struct {
	Symbol   string  `json:"symbol"`
	Type     string  `json:"type"` // buy/sell
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Tick 是驱动模拟器的单条行情快照。
type Tick struct {
	Symbol    string    `json:"symbol"`
	Close     float64   `json:"close"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade 是一次成交的不可变记录。pnl 仅在平仓/减仓成交上非零。
type Trade struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	Price      float64   `json:"price"` // 含滑点的成交价
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
}

// Position 聚合单个 symbol 的未平仓敞口。
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // long/short
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"` // 数量加权均价
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// EquityPoint 是资金曲线上的一天。
type EquityPoint struct {
	Date     string  `json:"date"` // YYYY-MM-DD (UTC)
	Equity   float64 `json:"equity"`
	Returns  float64 `json:"returns"`
	Drawdown float64 `json:"drawdown"`
	Peak     float64 `json:"peak"`
	Trough   float64 `json:"trough"`
}

// DrawdownPoint 是 EquityPoint 的回撤投影。
type DrawdownPoint struct {
	Date     string  `json:"date"`
	Drawdown float64 `json:"drawdown"`
	Peak     float64 `json:"peak"`
	Trough   float64 `json:"trough"`
}

// Metrics 汇总一次回测的绩效统计。
type Metrics struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       float64         `json:"win_rate"`
	AverageWin    float64         `json:"average_win"`
	AverageLoss   float64         `json:"average_loss"` // 绝对值
	ProfitFactor  float64         `json:"profit_factor"`
	MaxDrawdown   float64         `json:"max_drawdown"`
	SharpeRatio   float64         `json:"sharpe_ratio"`
	SortinoRatio  float64         `json:"sortino_ratio"`
	EquityCurve   []EquityPoint   `json:"equity_curve"`
	Drawdown      []DrawdownPoint `json:"drawdown"`
}

// Result 是一次完整回测的输出，持久化后通过 HTTP 返回。
type Result struct {
	ID             string    `json:"id"`
	StrategyID     string    `json:"strategy_id,omitempty"`
	StrategyType   string    `json:"strategy_type"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	TotalPnL       float64   `json:"total_pnl"`
	Metrics        Metrics   `json:"metrics"`
	Trades         []Trade   `json:"trades"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunRequest 为 HTTP 提交使用。strategy_id 与 strategy_type 至少给一个：
// 前者从策略库读取类型与参数，后者允许临时参数组合。
type RunRequest struct {
	StrategyID     string         `json:"strategy_id"`
	StrategyType   string         `json:"strategy_type"`
	Symbol         string         `json:"symbol" binding:"required"`
	Timeframe      string         `json:"timeframe"`
	StartDate      string         `json:"start_date" binding:"required"`
	EndDate        string         `json:"end_date" binding:"required"`
	InitialCapital float64        `json:"initial_capital"`
	Commission     float64        `json:"commission"`
	Slippage       float64        `json:"slippage"`
	Parameters     map[string]any `json:"parameters"`
}
