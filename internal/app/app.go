package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"quantdesk/internal/backtest"
	qdcfg "quantdesk/internal/config"
	"quantdesk/internal/dashboard"
	"quantdesk/internal/logger"
	"quantdesk/internal/pkg/symbol"
	"quantdesk/internal/store/gormstore"
	"quantdesk/internal/strategy/params"
	apihttp "quantdesk/internal/transport/http/api"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与推送服务。
type App struct {
	cfg *qdcfg.Config

	candles    *backtest.Store
	results    *backtest.ResultStore
	strategies *gormstore.GormStore
	registry   *params.Registry
	fetch      *backtest.Service
	runner     *backtest.Runner
	hub        *dashboard.Hub
	http       *apihttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qdcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	candles, err := backtest.NewStore(cfg.Backtest.DataRoot)
	if err != nil {
		return fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	a.candles = candles

	results, err := backtest.NewResultStore(cfg.Backtest.ResultsPath)
	if err != nil {
		return fmt.Errorf("初始化回测结果库失败: %w", err)
	}
	a.results = results

	strategies, err := gormstore.NewGormStore(cfg.Strategy.StorePath)
	if err != nil {
		return fmt.Errorf("初始化策略库失败: %w", err)
	}
	a.strategies = strategies

	// 模板注册表可选：加载失败只降级为 pass-through 校验，不阻断启动。
	if path := strings.TrimSpace(cfg.Strategy.RegistryPath); path != "" {
		registry, err := params.NewRegistry(path)
		if err != nil {
			logger.Warnf("策略模板注册表加载失败（%s），跳过模板校验: %v", path, err)
		} else {
			a.registry = registry
		}
	}

	active := cfg.Market.ResolveActiveSource()
	sources := map[string]backtest.CandleSource{
		"binance":         backtest.NewBinanceSource(active.RESTBaseURL),
		"binance-futures": backtest.NewFuturesSource(active.RESTBaseURL),
	}
	fetch, err := backtest.NewService(backtest.ServiceConfig{
		Store:           candles,
		Sources:         sources,
		DefaultExchange: strings.ToLower(active.Name),
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxBatch:        cfg.Fetch.MaxBatch,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("初始化数据拉取服务失败: %w", err)
	}
	a.fetch = fetch

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Store:            candles,
		Results:          results,
		Registry:         a.registry,
		Resolver:         strategies,
		InitialCapital:   cfg.Backtest.InitialCapital,
		MaxPositionSize:  cfg.Backtest.MaxPositionSize,
		MaxOpenPositions: cfg.Backtest.MaxOpenPositions,
		Slippage:         cfg.Backtest.Slippage,
		Commission:       cfg.Backtest.Commission,
		RiskFreeRate:     cfg.Backtest.RiskFreeRate,
		PeriodsPerYear:   cfg.Backtest.PeriodsPerYear,
		MaxConcurrent:    cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("初始化回测执行器失败: %w", err)
	}
	a.runner = runner

	if cfg.Dashboard.Enabled {
		a.hub = dashboard.NewHub(dashboard.HubConfig{
			Interval: time.Duration(cfg.Dashboard.IntervalSeconds) * time.Second,
			Symbols:  symbol.NormalizeList(cfg.Dashboard.Symbols),
			Snapshot: a.dashboardSnapshot,
		})
	}

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Runner:     runner,
		Results:    results,
		Fetch:      fetch,
		Strategies: strategies,
		Hub:        a.hub,
	})
	if err != nil {
		return fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	a.http = server
	return nil
}

// dashboardSnapshot 取 symbol 最近一根本地 K 线作为推送内容。
func (a *App) dashboardSnapshot(ctx context.Context, symbol string) (any, error) {
	tf := a.cfg.Dashboard.Timeframe
	if tf == "" {
		tf = "1h"
	}
	candles, err := a.candles.QueryCandles(ctx, symbol, tf, 0, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s@%s 暂无本地数据", symbol, tf)
	}
	return candles[len(candles)-1], nil
}

// Run 启动 HTTP 服务与可选的行情推送，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.http == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.hub != nil {
		group.Go(func() error {
			return a.hub.Run(ctx)
		})
	}

	return group.Wait()
}

// Close 释放持有的存储句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.strategies != nil {
		_ = a.strategies.Close()
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.candles != nil {
		_ = a.candles.Close()
	}
}
