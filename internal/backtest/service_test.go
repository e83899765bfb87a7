package backtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/market"
)

// fakeSource 按请求区间生成整点网格 K 线，失败次数可控。
type fakeSource struct {
	step     int64
	failures int32
	calls    int32
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, fmt.Errorf("simulated outage")
	}
	out := make([]market.Candle, 0, req.Limit)
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += f.step {
		out = append(out, market.Candle{
			OpenTime:  ts,
			CloseTime: ts + f.step - 1,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100,
			Volume:    1,
		})
	}
	return out, nil
}

func newFetchService(t *testing.T, src CandleSource) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"fake": src},
		DefaultExchange: "fake",
		RateLimitPerMin: 60000,
		MaxBatch:        500,
	})
	require.NoError(t, err)
	return svc, store
}

func waitJob(t *testing.T, svc *Service, id string) FetchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := svc.JobSnapshot(id)
		require.True(t, ok)
		switch job.Status {
		case JobStatusDone, JobStatusPartial, JobStatusFailed:
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("fetch job did not finish in time")
	return FetchJob{}
}

func TestService_SubmitFetchFillsGaps(t *testing.T) {
	step := time.Hour.Milliseconds()
	svc, store := newFetchService(t, &fakeSource{step: step})

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "btc/usdt",
		Timeframe: "1h",
		Start:     base,
		End:       base + 23*step,
	})
	require.NoError(t, err)
	// 提交时 symbol 已归一
	assert.Equal(t, "BTCUSDT", job.Params.Symbol)

	final := waitJob(t, svc, job.ID)
	assert.Equal(t, JobStatusDone, final.Status)
	assert.Empty(t, final.Missing)

	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	report, err := store.CheckIntegrity(context.Background(), "BTCUSDT", "1h", tf, base, base+23*step)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.EqualValues(t, 24, report.Present)
}

func TestService_AlreadyCompleteSkipsFetch(t *testing.T) {
	step := time.Hour.Milliseconds()
	src := &fakeSource{step: step}
	svc, store := newFetchService(t, src)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h", hourlyCandles(0, 4))
	require.NoError(t, err)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 3*step,
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.EqualValues(t, 0, atomic.LoadInt32(&src.calls))
}

func TestService_SourceFailureFailsJob(t *testing.T) {
	step := time.Hour.Milliseconds()
	svc, _ := newFetchService(t, &fakeSource{step: step, failures: 100})

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 5*step,
	})
	require.NoError(t, err)

	final := waitJob(t, svc, job.ID)
	assert.Equal(t, JobStatusFailed, final.Status)
	assert.Contains(t, final.Message, "拉取失败")
}

func TestService_UnknownExchangeRejected(t *testing.T) {
	svc, _ := newFetchService(t, &fakeSource{step: time.Hour.Milliseconds()})
	_, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Exchange:  "nope",
		Start:     0,
		End:       time.Hour.Milliseconds(),
	})
	assert.Error(t, err)
}
