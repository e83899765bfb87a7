package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"quantdesk/internal/market"
)

// MACDParams 配置 MACD 柱状图翻转策略。
type MACDParams struct {
	FastPeriod   int `json:"fast_period"`
	SlowPeriod   int `json:"slow_period"`
	SignalPeriod int `json:"signal_period"`
}

func (p *MACDParams) applyDefaults() {
	if p.FastPeriod <= 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 26
	}
	if p.SignalPeriod <= 0 {
		p.SignalPeriod = 9
	}
}

// MACD 在柱状图由负转正时买入，由正转负时卖出。
type MACD struct {
	params MACDParams
}

func NewMACD(params MACDParams) (*MACD, error) {
	params.applyDefaults()
	if params.FastPeriod >= params.SlowPeriod {
		return nil, fmt.Errorf("fast_period %d must be < slow_period %d", params.FastPeriod, params.SlowPeriod)
	}
	return &MACD{params: params}, nil
}

func (m *MACD) Name() string { return TypeMACD }

func (m *MACD) WarmupBars() int { return m.params.SlowPeriod + m.params.SignalPeriod }

func (m *MACD) Signals(candles []market.Candle) ([]Signal, error) {
	signals := make([]Signal, len(candles))
	warmup := m.WarmupBars()
	if len(candles) <= warmup {
		return signals, nil
	}
	_, _, hist := talib.Macd(closeSeries(candles), m.params.FastPeriod, m.params.SlowPeriod, m.params.SignalPeriod)
	for i := warmup; i < len(candles); i++ {
		switch {
		case hist[i-1] <= 0 && hist[i] > 0:
			signals[i] = SignalBuy
		case hist[i-1] >= 0 && hist[i] < 0:
			signals[i] = SignalSell
		}
	}
	return signals, nil
}
