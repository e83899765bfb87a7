package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleResult(id string, created time.Time) Result {
	return Result{
		ID:             id,
		StrategyID:     "strat-1",
		StrategyType:   "moving_average",
		Symbol:         "BTCUSDT",
		Timeframe:      "1h",
		StartDate:      "2024-01-01",
		EndDate:        "2024-03-01",
		InitialCapital: 100000,
		FinalCapital:   101500,
		TotalPnL:       1500,
		Metrics: Metrics{
			TotalTrades:   4,
			WinningTrades: 3,
			LosingTrades:  1,
			WinRate:       0.75,
			MaxDrawdown:   0.12,
			SharpeRatio:   1.4,
			EquityCurve: []EquityPoint{
				{Date: "2024-01-02", Equity: 500, Peak: 500},
				{Date: "2024-01-03", Equity: 1500, Peak: 1500},
			},
		},
		Trades: []Trade{
			{ID: "t1", Symbol: "BTCUSDT", Type: OrderBuy, Price: 100.1, Quantity: 10, Commission: 1.001},
		},
		CreatedAt: created,
	}
}

func TestResultStore_InsertAndGet(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	res := sampleResult("r1", time.Now())
	require.NoError(t, store.Insert(ctx, res))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "moving_average", got.StrategyType)
	assert.Equal(t, "strat-1", got.StrategyID)
	assert.InDelta(t, 1500, got.TotalPnL, 1e-9)
	require.Len(t, got.Metrics.EquityCurve, 2)
	assert.Equal(t, "2024-01-03", got.Metrics.EquityCurve[1].Date)
	require.Len(t, got.Trades, 1)
	assert.InDelta(t, 100.1, got.Trades[0].Price, 1e-9)
}

func TestResultStore_ListNewestFirst(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, sampleResult("old", base)))
	require.NoError(t, store.Insert(ctx, sampleResult("new", base.Add(time.Minute))))

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	// 列表只带摘要列
	assert.Equal(t, 4, list[0].TotalTrades)
	assert.InDelta(t, 0.75, list[0].WinRate, 1e-9)
}

func TestResultStore_GetMissing(t *testing.T) {
	store := newTestResultStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestResultStore_Delete(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleResult("gone", time.Now())))
	require.NoError(t, store.Delete(ctx, "gone"))
	assert.ErrorIs(t, store.Delete(ctx, "gone"), ErrResultNotFound)

	_, err := store.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
