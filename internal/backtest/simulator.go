package backtest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientCapital 表示账户资金无法覆盖本次下单成本。
// 被拒绝的订单不会修改模拟器的任何状态。
var ErrInsufficientCapital = errors.New("insufficient capital")

// SimulatorConfig 配置模拟撮合行为，全部字段均有默认值。
type SimulatorConfig struct {
	InitialCapital   float64
	MaxPositionSize  float64 // 单仓位占资金比例 0~1
	MaxOpenPositions int
	Slippage         float64 // 成交价滑点比例
	Commission       float64 // 名义价值手续费比例
}

func (c *SimulatorConfig) applyDefaults() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 100000
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		c.MaxPositionSize = 0.1
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 5
	}
	if c.Slippage < 0 {
		c.Slippage = 0
	}
	if c.Commission < 0 {
		c.Commission = 0
	}
}

// Simulator 将订单流转化为成交记录，维护资金、持仓与未实现盈亏。
// 单个实例由一次回测独占，不支持并发调用。
type Simulator struct {
	cfg       SimulatorConfig
	capital   decimal.Decimal
	trades    []Trade
	positions map[string]*Position
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	cfg.applyDefaults()
	return &Simulator{
		cfg:       cfg,
		capital:   decFromFloat(cfg.InitialCapital),
		positions: make(map[string]*Position),
	}
}

// ExecuteOrder 按滑点与手续费撮合一笔订单。
// 成交价：买单上浮 price*slippage，卖单下浮；手续费按成交名义价值计。
// 资金不足时返回 ErrInsufficientCapital 且状态保持不变。
func (s *Simulator) ExecuteOrder(tick Tick, order Order) (Trade, error) {
	if order.Symbol == "" {
		return Trade{}, fmt.Errorf("order symbol cannot be empty")
	}
	orderType := strings.ToLower(strings.TrimSpace(order.Type))
	if orderType != OrderBuy && orderType != OrderSell {
		return Trade{}, fmt.Errorf("unknown order type: %s", order.Type)
	}
	if order.Price <= 0 || order.Quantity <= 0 {
		return Trade{}, fmt.Errorf("order price/quantity must be > 0")
	}

	price := decFromFloat(order.Price)
	slip := decFromFloat(s.cfg.Slippage)
	var execPrice decimal.Decimal
	if orderType == OrderBuy {
		execPrice = price.Mul(decOne.Add(slip))
	} else {
		execPrice = price.Mul(decOne.Sub(slip))
	}
	qty := decFromFloat(order.Quantity)
	notional := execPrice.Mul(qty)
	commission := notional.Mul(decFromFloat(s.cfg.Commission))
	total := notional.Add(commission)

	if total.GreaterThan(s.capital) {
		return Trade{}, fmt.Errorf("order %s %s cost %s exceeds capital %s: %w",
			orderType, order.Symbol, total.String(), s.capital.String(), ErrInsufficientCapital)
	}
	s.capital = s.capital.Sub(total)

	pnl := s.applyFill(order.Symbol, orderType, execPrice, qty, tick.Close)
	trade := Trade{
		ID:         uuid.NewString(),
		Timestamp:  tick.Timestamp,
		Symbol:     order.Symbol,
		Type:       orderType,
		Price:      decToFloat(execPrice),
		Quantity:   order.Quantity,
		PnL:        decToFloat(pnl),
		Commission: decToFloat(commission),
	}
	s.trades = append(s.trades, trade)
	return trade, nil
}

// applyFill 更新持仓并返回本次成交实现的盈亏（仅减仓方向非零）。
func (s *Simulator) applyFill(symbol, orderType string, execPrice, qty decimal.Decimal, markPrice float64) decimal.Decimal {
	side := SideLong
	if orderType == OrderSell {
		side = SideShort
	}
	pos, ok := s.positions[symbol]
	if !ok {
		pos = &Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   decToFloat(qty),
			EntryPrice: decToFloat(execPrice),
		}
		s.positions[symbol] = pos
		s.markPosition(pos, markPrice)
		return decimal.Zero
	}

	posQty := decFromFloat(pos.Quantity)
	entry := decFromFloat(pos.EntryPrice)
	if pos.Side == side {
		// 同向加仓：数量加权重算均价
		newQty := posQty.Add(qty)
		pos.EntryPrice = decToFloat(entry.Mul(posQty).Add(execPrice.Mul(qty)).Div(newQty))
		pos.Quantity = decToFloat(newQty)
		s.markPosition(pos, markPrice)
		return decimal.Zero
	}

	// 反向成交：减仓，均价不变，按被减部分实现盈亏
	reduced := qty
	if reduced.GreaterThan(posQty) {
		reduced = posQty
	}
	var pnl decimal.Decimal
	if pos.Side == SideLong {
		pnl = execPrice.Sub(entry).Mul(reduced)
	} else {
		pnl = entry.Sub(execPrice).Mul(reduced)
	}
	// 超出持仓的部分不建反向仓，数量下限为 0
	remaining := posQty.Sub(qty)
	if remaining.Sign() <= 0 {
		delete(s.positions, symbol)
		return pnl
	}
	pos.Quantity = decToFloat(remaining)
	s.markPosition(pos, markPrice)
	return pnl
}

func (s *Simulator) markPosition(pos *Position, markPrice float64) {
	if markPrice <= 0 {
		markPrice = pos.EntryPrice
	}
	pos.CurrentPrice = markPrice
	diff := decFromFloat(markPrice).Sub(decFromFloat(pos.EntryPrice))
	if pos.Side == SideShort {
		diff = diff.Neg()
	}
	pos.UnrealizedPnL = decToFloat(diff.Mul(decFromFloat(pos.Quantity)))
}

// UpdatePositions 按最新行情刷新全部持仓的标记价与未实现盈亏，不产生成交。
func (s *Simulator) UpdatePositions(tick Tick) {
	if tick.Close <= 0 {
		return
	}
	for _, pos := range s.positions {
		s.markPosition(pos, tick.Close)
	}
}

// TotalPnL 返回已实现盈亏之和加上全部持仓的未实现盈亏。
func (s *Simulator) TotalPnL() float64 {
	total := decimal.Zero
	for _, t := range s.trades {
		total = total.Add(decFromFloat(t.PnL))
	}
	for _, pos := range s.positions {
		total = total.Add(decFromFloat(pos.UnrealizedPnL))
	}
	return decToFloat(total)
}

// Capital 返回当前可用资金。
func (s *Simulator) Capital() float64 {
	return decToFloat(s.capital)
}

// Trades 返回成交记录的拷贝。
func (s *Simulator) Trades() []Trade {
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Positions 返回当前持仓的拷贝。
func (s *Simulator) Positions() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	return out
}

// Position 返回指定 symbol 的持仓。
func (s *Simulator) Position(symbol string) (Position, bool) {
	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// OpenPositions 返回未平仓位数量。
func (s *Simulator) OpenPositions() int {
	return len(s.positions)
}

// Config 返回生效的配置（含默认值）。
func (s *Simulator) Config() SimulatorConfig {
	return s.cfg
}
