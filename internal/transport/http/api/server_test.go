package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/backtest"
	"quantdesk/internal/market"
	"quantdesk/internal/store/gormstore"
)

func newTestServer(t *testing.T) (*Server, *backtest.Store) {
	t.Helper()
	dir := t.TempDir()

	candles, err := backtest.NewStore(dir + "/candles")
	require.NoError(t, err)
	t.Cleanup(func() { _ = candles.Close() })

	results, err := backtest.NewResultStore(dir + "/results")
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	strategies, err := gormstore.NewGormStore(dir + "/strategies.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = strategies.Close() })

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Store:            candles,
		Results:          results,
		Resolver:         strategies,
		InitialCapital:   100000,
		MaxPositionSize:  0.1,
		MaxOpenPositions: 5,
		Slippage:         0.001,
		Commission:       0.001,
		RiskFreeRate:     0.02,
		PeriodsPerYear:   252,
	})
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{
		Addr:       ":0",
		Runner:     runner,
		Results:    results,
		Strategies: strategies,
	})
	require.NoError(t, err)
	return srv, candles
}

// seedCandles 写入从 2024-01-01T00:00Z 起的小时线，价格先跌后涨，
// 保证均线策略至少产生一次金叉买入。
func seedCandles(t *testing.T, store *backtest.Store, symbol string, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	data := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := 100.0
		if i < n/2 {
			price -= float64(i) * 0.5
		} else {
			price = 100 - float64(n/2)*0.5 + float64(i-n/2)*0.8
		}
		data = append(data, market.Candle{
			OpenTime:  base + int64(i)*step,
			CloseTime: base + int64(i+1)*step - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		})
	}
	_, err := store.InsertCandles(context.Background(), symbol, "1h", data)
	require.NoError(t, err)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RunBacktestLifecycle(t *testing.T) {
	srv, candles := newTestServer(t)
	seedCandles(t, candles, "BTCUSDT", 72)

	rec := doJSON(t, srv, http.MethodPost, "/api/backtest", map[string]any{
		"strategy_type": "moving_average",
		"symbol":        "BTCUSDT",
		"timeframe":     "1h",
		"start_date":    "2024-01-01",
		"end_date":      "2024-01-03",
		"parameters":    map[string]any{"short_period": 3, "long_period": 6},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Result backtest.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Result.ID)
	assert.Equal(t, "moving_average", created.Result.StrategyType)
	assert.InDelta(t, 100000, created.Result.InitialCapital, 1e-9)

	// 列表包含刚产生的结果
	rec = doJSON(t, srv, http.MethodGet, "/api/backtest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Results []backtest.Summary `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Results, 1)
	assert.Equal(t, created.Result.ID, listed.Results[0].ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/backtest/"+created.Result.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/backtest/%s/report", created.Result.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = doJSON(t, srv, http.MethodDelete, "/api/backtest/"+created.Result.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/backtest/"+created.Result.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunBacktestValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// 缺少必填字段
	rec := doJSON(t, srv, http.MethodPost, "/api/backtest", map[string]any{
		"strategy_type": "moving_average",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 没有本地数据
	rec = doJSON(t, srv, http.MethodPost, "/api/backtest", map[string]any{
		"strategy_type": "moving_average",
		"symbol":        "ETHUSDT",
		"timeframe":     "1h",
		"start_date":    "2024-01-01",
		"end_date":      "2024-01-02",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StrategyCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/strategies", map[string]any{
		"name":       "基准均线",
		"type":       "moving_average",
		"parameters": map[string]any{"short_period": 5, "long_period": 20},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Strategy gormstore.StrategyRecord `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Strategy.ID
	require.NotEmpty(t, id)

	rec = doJSON(t, srv, http.MethodGet, "/api/strategies/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/api/strategies/"+id, map[string]any{
		"status": "inactive",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated struct {
		Strategy gormstore.StrategyRecord `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.EqualValues(t, "inactive", updated.Strategy.Status)

	rec = doJSON(t, srv, http.MethodGet, "/api/strategies/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "moving_average")

	rec = doJSON(t, srv, http.MethodDelete, "/api/strategies/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/strategies/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunByStrategyID(t *testing.T) {
	srv, candles := newTestServer(t)
	seedCandles(t, candles, "BTCUSDT", 72)

	rec := doJSON(t, srv, http.MethodPost, "/api/strategies", map[string]any{
		"name":       "rsi 反转",
		"type":       "rsi",
		"parameters": map[string]any{"period": 5},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Strategy gormstore.StrategyRecord `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, srv, http.MethodPost, "/api/backtest", map[string]any{
		"strategy_id": created.Strategy.ID,
		"symbol":      "BTCUSDT",
		"timeframe":   "1h",
		"start_date":  "2024-01-01",
		"end_date":    "2024-01-03",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run struct {
		Result backtest.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, created.Strategy.ID, run.Result.StrategyID)

	// 回测完成后策略上记录最近一次结果
	rec = doJSON(t, srv, http.MethodGet, "/api/strategies/"+created.Strategy.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), run.Result.ID)
}
