package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
app:
  env: test
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, ":9880", cfg.App.HTTPAddr)
	assert.InDelta(t, 100000, cfg.Backtest.InitialCapital, 1e-9)
	assert.InDelta(t, 0.1, cfg.Backtest.MaxPositionSize, 1e-9)
	assert.Equal(t, 5, cfg.Backtest.MaxOpenPositions)
	assert.InDelta(t, 0.001, cfg.Backtest.Slippage, 1e-9)
	assert.InDelta(t, 0.001, cfg.Backtest.Commission, 1e-9)
	assert.InDelta(t, 0.02, cfg.Backtest.RiskFreeRate, 1e-9)
	assert.Equal(t, 252, cfg.Backtest.PeriodsPerYear)
	assert.Equal(t, "binance", cfg.Market.ResolveActiveSource().Name)
}

func TestLoad_ExplicitZeroSlippageKept(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
backtest:
  slippage: 0
  commission: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// 显式写 0 不被默认值覆盖
	assert.Zero(t, cfg.Backtest.Slippage)
	assert.Zero(t, cfg.Backtest.Commission)
}

func TestLoad_IncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
backtest:
  initial_capital: 50000
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.InDelta(t, 50000, cfg.Backtest.InitialCapital, 1e-9)
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
backtest:
  max_position_size: 1.5
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownActiveSource(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
market:
  active_source: kraken
  sources:
    - name: binance
      enabled: true
      rest_base_url: "https://fapi.binance.com"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("1h"))
	assert.True(t, IsValidInterval("15m"))
	assert.False(t, IsValidInterval("h1"))
	assert.False(t, IsValidInterval(""))
}
