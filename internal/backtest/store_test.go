package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/market"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func hourlyCandles(startHour, n int) []market.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := base + int64(startHour+i)*step
		out = append(out, market.Candle{
			OpenTime:  open,
			CloseTime: open + step - 1,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
		})
	}
	return out
}

func TestStore_InsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(0, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// 重复写入走 upsert，不报错也不丢数据
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(0, 5))
	require.NoError(t, err)

	list, err := store.QueryCandles(ctx, "BTCUSDT", "1h", 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 5)
	// 升序返回
	assert.Less(t, list[0].OpenTime, list[4].OpenTime)

	m, err := store.Manifest(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.EqualValues(t, 5, m.Rows)
	assert.Equal(t, list[0].OpenTime, m.MinTime)
	assert.Equal(t, list[4].OpenTime, m.MaxTime)
}

func TestStore_CheckIntegrityFindsGaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	// 写入 0~2 和 5~6 小时，留下 3~4 的缺口
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(0, 3))
	require.NoError(t, err)
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(5, 2))
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	report, err := store.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, base, base+6*step)
	require.NoError(t, err)

	assert.EqualValues(t, 7, report.Expected)
	assert.EqualValues(t, 5, report.Present)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, base+3*step, report.Gaps[0].From)
	assert.Equal(t, base+4*step, report.Gaps[0].To)
	assert.False(t, report.Complete())
}

func TestStore_CheckIntegrityComplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	_, err = store.InsertCandles(ctx, "ETHUSDT", "1h", hourlyCandles(0, 4))
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, base, base+3*step)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Empty(t, report.Gaps)
}

func TestStore_RangeCandles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertCandles(ctx, "BTCUSDT", "1h", hourlyCandles(0, 10))
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Hour.Milliseconds()
	list, err := store.RangeCandles(ctx, "BTCUSDT", "1h", base+2*step, base+5*step)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, base+2*step, list[0].OpenTime)

	_, err = store.RangeCandles(ctx, "BTCUSDT", "1h", 0, 0)
	assert.Error(t, err)
}
