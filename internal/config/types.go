package config

import "strings"

// Config 是 Quantdesk 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Market    MarketConfig    `toml:"market"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Fetch     FetchConfig     `toml:"fetch"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BacktestConfig 描述模拟撮合与指标计算的默认参数。
type BacktestConfig struct {
	InitialCapital   float64 `toml:"initial_capital"`
	MaxPositionSize  float64 `toml:"max_position_size"` // 单仓位占资金比例 0~1
	MaxOpenPositions int     `toml:"max_open_positions"`
	Slippage         float64 `toml:"slippage"`   // 成交价滑点比例
	Commission       float64 `toml:"commission"` // 名义价值手续费比例
	RiskFreeRate     float64 `toml:"risk_free_rate"`
	PeriodsPerYear   int     `toml:"periods_per_year"`
	DataRoot         string  `toml:"data_root"`
	ResultsPath      string  `toml:"results_path"`
	MaxConcurrent    int     `toml:"max_concurrent"`
}

// StrategyConfig 指向策略模板注册表与策略库。
type StrategyConfig struct {
	RegistryPath string `toml:"registry_path"`
	StorePath    string `toml:"store_path"`
}

// FetchConfig 控制历史 K 线拉取行为。
type FetchConfig struct {
	RateLimitPerMin int `toml:"rate_limit_per_min"`
	MaxBatch        int `toml:"max_batch"`
	MaxConcurrent   int `toml:"max_concurrent"`
}

// DashboardConfig 控制 WebSocket 实时推送。
type DashboardConfig struct {
	Enabled         bool     `toml:"enabled"`
	IntervalSeconds int      `toml:"interval_seconds"`
	Symbols         []string `toml:"symbols"`
	Timeframe       string   `toml:"timeframe"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
