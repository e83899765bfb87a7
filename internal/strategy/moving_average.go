package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"quantdesk/internal/market"
)

// MovingAverageParams 配置双均线交叉策略。
type MovingAverageParams struct {
	ShortPeriod int `json:"short_period"`
	LongPeriod  int `json:"long_period"`
}

func (p *MovingAverageParams) applyDefaults() {
	if p.ShortPeriod <= 0 {
		p.ShortPeriod = 10
	}
	if p.LongPeriod <= 0 {
		p.LongPeriod = 30
	}
}

// MovingAverage 在短均线上穿长均线时买入，下穿时卖出。
type MovingAverage struct {
	params MovingAverageParams
}

func NewMovingAverage(params MovingAverageParams) (*MovingAverage, error) {
	params.applyDefaults()
	if params.ShortPeriod >= params.LongPeriod {
		return nil, fmt.Errorf("short_period %d must be < long_period %d", params.ShortPeriod, params.LongPeriod)
	}
	return &MovingAverage{params: params}, nil
}

func (m *MovingAverage) Name() string { return TypeMovingAverage }

func (m *MovingAverage) WarmupBars() int { return m.params.LongPeriod }

func (m *MovingAverage) Signals(candles []market.Candle) ([]Signal, error) {
	signals := make([]Signal, len(candles))
	if len(candles) <= m.params.LongPeriod {
		return signals, nil
	}
	closes := closeSeries(candles)
	short := talib.Sma(closes, m.params.ShortPeriod)
	long := talib.Sma(closes, m.params.LongPeriod)

	// talib 在预热期内输出 0，跳过 long 周期之前的序列
	for i := m.params.LongPeriod; i < len(candles); i++ {
		prevDiff := short[i-1] - long[i-1]
		diff := short[i] - long[i]
		switch {
		case prevDiff <= 0 && diff > 0:
			signals[i] = SignalBuy
		case prevDiff >= 0 && diff < 0:
			signals[i] = SignalSell
		}
	}
	return signals, nil
}
