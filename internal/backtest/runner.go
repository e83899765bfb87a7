package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantdesk/internal/logger"
	qsymbol "quantdesk/internal/pkg/symbol"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/params"
)

// StrategyResolver 按策略 ID 返回类型与参数，由策略库实现。
type StrategyResolver interface {
	ResolveStrategy(ctx context.Context, id string) (strategyType string, parameters map[string]any, err error)
}

// RunnerConfig 配置回测执行器。
type RunnerConfig struct {
	Store    *Store
	Results  *ResultStore
	Registry *params.Registry // 可选，存在时按模板校验参数
	Resolver StrategyResolver // 可选，支持按 strategy_id 提交

	InitialCapital   float64
	MaxPositionSize  float64
	MaxOpenPositions int
	Slippage         float64
	Commission       float64
	RiskFreeRate     float64
	PeriodsPerYear   int
	DefaultTimeframe string
	MaxConcurrent    int
}

// Runner 执行一次完整回测：取数、跑信号、算指标、落库。
type Runner struct {
	cfg    RunnerConfig
	engine *Engine
	sem    chan struct{}
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.DefaultTimeframe == "" {
		cfg.DefaultTimeframe = "1h"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Runner{
		cfg:    cfg,
		engine: NewEngine(cfg.RiskFreeRate, cfg.PeriodsPerYear),
		sem:    make(chan struct{}, maxConcurrent),
	}, nil
}

// Run 同步执行回测并持久化结果。并发数受 MaxConcurrent 限制。
func (r *Runner) Run(ctx context.Context, req RunRequest) (Result, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-r.sem }()

	tfKey := req.Timeframe
	if tfKey == "" {
		tfKey = r.cfg.DefaultTimeframe
	}
	tf, err := ParseTimeframe(tfKey)
	if err != nil {
		return Result{}, err
	}
	req.Symbol = qsymbol.Normalize(req.Symbol)
	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return Result{}, err
	}
	start, end = tf.AlignRange(start, end)

	strategyType, parameters, err := r.resolveStrategy(ctx, req)
	if err != nil {
		return Result{}, err
	}
	strat, err := strategy.New(strategyType, parameters)
	if err != nil {
		return Result{}, err
	}

	candles, err := r.cfg.Store.RangeCandles(ctx, req.Symbol, tf.Key, start, end)
	if err != nil {
		return Result{}, err
	}
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("%s %s 在 [%s, %s] 没有本地 K 线数据", req.Symbol, tf.Key, req.StartDate, req.EndDate)
	}

	signals, err := strat.Signals(candles)
	if err != nil {
		return Result{}, err
	}

	simCfg := SimulatorConfig{
		InitialCapital:   req.InitialCapital,
		MaxPositionSize:  r.cfg.MaxPositionSize,
		MaxOpenPositions: r.cfg.MaxOpenPositions,
		Slippage:         r.cfg.Slippage,
		Commission:       r.cfg.Commission,
	}
	if simCfg.InitialCapital <= 0 {
		simCfg.InitialCapital = r.cfg.InitialCapital
	}
	if req.Slippage > 0 {
		simCfg.Slippage = req.Slippage
	}
	if req.Commission > 0 {
		simCfg.Commission = req.Commission
	}
	sim := NewSimulator(simCfg)
	cfg := sim.Config()

	symbol := req.Symbol
	for i, candle := range candles {
		tick := Tick{
			Symbol:    symbol,
			Close:     candle.Close,
			Timestamp: candle.OpenAt(),
		}
		sim.UpdatePositions(tick)

		switch signals[i] {
		case strategy.SignalBuy:
			if _, held := sim.Position(symbol); held {
				continue
			}
			if sim.OpenPositions() >= cfg.MaxOpenPositions {
				continue
			}
			qty := sim.Capital() * cfg.MaxPositionSize / candle.Close
			if qty <= 0 {
				continue
			}
			if _, err := sim.ExecuteOrder(tick, Order{Symbol: symbol, Type: OrderBuy, Price: candle.Close, Quantity: qty}); err != nil {
				if !errors.Is(err, ErrInsufficientCapital) {
					return Result{}, err
				}
				logger.Debugf("[backtest] %s 买入被拒：%v", symbol, err)
			}
		case strategy.SignalSell:
			pos, held := sim.Position(symbol)
			if !held {
				continue
			}
			if _, err := sim.ExecuteOrder(tick, Order{Symbol: symbol, Type: OrderSell, Price: candle.Close, Quantity: pos.Quantity}); err != nil {
				if !errors.Is(err, ErrInsufficientCapital) {
					return Result{}, err
				}
				logger.Debugf("[backtest] %s 平仓被拒：%v", symbol, err)
			}
		}
	}

	trades := sim.Trades()
	metrics := r.engine.Calculate(trades, cfg.InitialCapital)
	totalPnL := sim.TotalPnL()
	result := Result{
		ID:             uuid.NewString(),
		StrategyID:     req.StrategyID,
		StrategyType:   strat.Name(),
		Symbol:         symbol,
		Timeframe:      tf.Key,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   cfg.InitialCapital + totalPnL,
		TotalPnL:       totalPnL,
		Metrics:        metrics,
		Trades:         trades,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.cfg.Results.Insert(ctx, result); err != nil {
		return Result{}, fmt.Errorf("持久化回测结果失败: %w", err)
	}
	logger.Infof("[backtest] %s %s %s~%s 完成：trades=%d pnl=%.2f", symbol, tf.Key, req.StartDate, req.EndDate, len(trades), totalPnL)
	return result, nil
}

func (r *Runner) resolveStrategy(ctx context.Context, req RunRequest) (string, map[string]any, error) {
	strategyType := req.StrategyType
	parameters := req.Parameters

	if req.StrategyID != "" {
		if r.cfg.Resolver == nil {
			return "", nil, fmt.Errorf("未启用策略库，无法按 strategy_id 提交")
		}
		resolvedType, resolvedParams, err := r.cfg.Resolver.ResolveStrategy(ctx, req.StrategyID)
		if err != nil {
			return "", nil, err
		}
		strategyType = resolvedType
		merged := make(map[string]any, len(resolvedParams)+len(parameters))
		for k, v := range resolvedParams {
			merged[k] = v
		}
		for k, v := range parameters {
			merged[k] = v
		}
		parameters = merged
	}
	if strategyType == "" {
		return "", nil, fmt.Errorf("strategy_type 或 strategy_id 至少填一个")
	}
	if r.cfg.Registry != nil {
		if _, merged, err := r.cfg.Registry.Validate(strategyType, parameters); err == nil {
			parameters = merged
		} else if _, ok := r.cfg.Registry.Template(strategyType); ok {
			// 模板存在但校验失败，拒绝请求
			return "", nil, err
		}
	}
	return strategyType, parameters, nil
}

func parseDateRange(startDate, endDate string) (int64, int64, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return 0, 0, fmt.Errorf("start_date 格式应为 YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return 0, 0, fmt.Errorf("end_date 格式应为 YYYY-MM-DD: %w", err)
	}
	if end.Before(start) {
		return 0, 0, fmt.Errorf("end_date 不能早于 start_date")
	}
	// end 取当日最后一毫秒，区间对 K 线闭合
	return start.UnixMilli(), end.Add(24*time.Hour).UnixMilli() - 1, nil
}
