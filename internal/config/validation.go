package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Fetch.validate(); err != nil {
		return err
	}
	if err := c.Dashboard.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if b.MaxPositionSize <= 0 || b.MaxPositionSize > 1 {
		return fmt.Errorf("backtest.max_position_size must be in (0, 1]")
	}
	if b.MaxOpenPositions <= 0 {
		return fmt.Errorf("backtest.max_open_positions must be > 0")
	}
	if b.Slippage < 0 || b.Slippage >= 1 {
		return fmt.Errorf("backtest.slippage must be in [0, 1)")
	}
	if b.Commission < 0 || b.Commission >= 1 {
		return fmt.Errorf("backtest.commission must be in [0, 1)")
	}
	if b.PeriodsPerYear <= 0 {
		return fmt.Errorf("backtest.periods_per_year must be > 0")
	}
	if strings.TrimSpace(b.DataRoot) == "" {
		return fmt.Errorf("backtest.data_root cannot be empty")
	}
	if strings.TrimSpace(b.ResultsPath) == "" {
		return fmt.Errorf("backtest.results_path cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (f *FetchConfig) validate() error {
	if f.RateLimitPerMin <= 0 {
		return fmt.Errorf("fetch.rate_limit_per_min must be > 0")
	}
	if f.MaxBatch <= 0 || f.MaxBatch > 1500 {
		return fmt.Errorf("fetch.max_batch must be in [1, 1500]")
	}
	return nil
}

func (d *DashboardConfig) validate() error {
	if !d.Enabled {
		return nil
	}
	if d.IntervalSeconds <= 0 {
		return fmt.Errorf("dashboard.interval_seconds must be > 0")
	}
	if !IsValidInterval(d.Timeframe) {
		return fmt.Errorf("dashboard.timeframe %q is not a valid interval", d.Timeframe)
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
