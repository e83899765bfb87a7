package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9880"
	defaultAppLogPath  = ""

	defaultInitialCapital   = 100000
	defaultMaxPositionSize  = 0.1
	defaultMaxOpenPositions = 5
	defaultSlippage         = 0.001
	defaultCommission       = 0.001
	defaultRiskFreeRate     = 0.02
	defaultPeriodsPerYear   = 252
	defaultDataRoot         = "data/candles"
	defaultResultsPath      = "data/backtests"
	defaultMaxConcurrent    = 2

	defaultMarketName = "binance"
	defaultMarketREST = "https://fapi.binance.com"

	defaultRegistryPath = "configs/strategies.yaml"
	defaultStorePath    = "data/strategies.db"

	defaultFetchRatePerMin = 480
	defaultFetchMaxBatch   = 1000
	defaultFetchWorkers    = 2

	defaultDashInterval  = 5
	defaultDashTimeframe = "1h"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Fetch.applyDefaults(keys)
	c.Dashboard.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_capital",
			need:  func() bool { return b.InitialCapital <= 0 },
			apply: func() { b.InitialCapital = defaultInitialCapital },
		},
		fieldDefault{
			key:   "backtest.max_position_size",
			need:  func() bool { return b.MaxPositionSize <= 0 || b.MaxPositionSize > 1 },
			apply: func() { b.MaxPositionSize = defaultMaxPositionSize },
		},
		fieldDefault{
			key:   "backtest.max_open_positions",
			need:  func() bool { return b.MaxOpenPositions <= 0 },
			apply: func() { b.MaxOpenPositions = defaultMaxOpenPositions },
		},
		fieldDefault{
			key:   "backtest.slippage",
			need:  func() bool { return b.Slippage < 0 },
			apply: func() { b.Slippage = 0 },
		},
		fieldDefault{
			key:   "backtest.commission",
			need:  func() bool { return b.Commission < 0 },
			apply: func() { b.Commission = 0 },
		},
		fieldDefault{
			key:   "backtest.risk_free_rate",
			need:  func() bool { return b.RiskFreeRate == 0 },
			apply: func() { b.RiskFreeRate = defaultRiskFreeRate },
		},
		fieldDefault{
			key:   "backtest.periods_per_year",
			need:  func() bool { return b.PeriodsPerYear <= 0 },
			apply: func() { b.PeriodsPerYear = defaultPeriodsPerYear },
		},
		stringFieldDefault("backtest.data_root", &b.DataRoot, defaultDataRoot),
		stringFieldDefault("backtest.results_path", &b.ResultsPath, defaultResultsPath),
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
	)
	if !keys.isSet("backtest.slippage") && b.Slippage == 0 {
		b.Slippage = defaultSlippage
	}
	if !keys.isSet("backtest.commission") && b.Commission == 0 {
		b.Commission = defaultCommission
	}
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.registry_path", &s.RegistryPath, defaultRegistryPath),
		stringFieldDefault("strategy.store_path", &s.StorePath, defaultStorePath),
	)
}

func (f *FetchConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "fetch.rate_limit_per_min",
			need:  func() bool { return f.RateLimitPerMin <= 0 },
			apply: func() { f.RateLimitPerMin = defaultFetchRatePerMin },
		},
		fieldDefault{
			key:   "fetch.max_batch",
			need:  func() bool { return f.MaxBatch <= 0 },
			apply: func() { f.MaxBatch = defaultFetchMaxBatch },
		},
		fieldDefault{
			key:   "fetch.max_concurrent",
			need:  func() bool { return f.MaxConcurrent <= 0 },
			apply: func() { f.MaxConcurrent = defaultFetchWorkers },
		},
	)
}

func (d *DashboardConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("dashboard.enabled", &d.Enabled, true),
		fieldDefault{
			key:   "dashboard.interval_seconds",
			need:  func() bool { return d.IntervalSeconds <= 0 },
			apply: func() { d.IntervalSeconds = defaultDashInterval },
		},
		stringFieldDefault("dashboard.timeframe", &d.Timeframe, defaultDashTimeframe),
	)
	if len(d.Symbols) == 0 {
		d.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
