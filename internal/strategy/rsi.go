package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"quantdesk/internal/market"
)

// RSIParams 配置 RSI 超买超卖策略。
type RSIParams struct {
	Period     int     `json:"period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
}

func (p *RSIParams) applyDefaults() {
	if p.Period <= 0 {
		p.Period = 14
	}
	if p.Overbought == 0 {
		p.Overbought = 70
	}
	if p.Oversold == 0 {
		p.Oversold = 30
	}
}

// RSI 在指标从超卖区回升时买入，从超买区回落时卖出。
type RSI struct {
	params RSIParams
}

func NewRSI(params RSIParams) (*RSI, error) {
	params.applyDefaults()
	if params.Oversold >= params.Overbought {
		return nil, fmt.Errorf("oversold %.1f must be < overbought %.1f", params.Oversold, params.Overbought)
	}
	return &RSI{params: params}, nil
}

func (r *RSI) Name() string { return TypeRSI }

func (r *RSI) WarmupBars() int { return r.params.Period + 1 }

func (r *RSI) Signals(candles []market.Candle) ([]Signal, error) {
	signals := make([]Signal, len(candles))
	warmup := r.WarmupBars()
	if len(candles) <= warmup {
		return signals, nil
	}
	rsi := talib.Rsi(closeSeries(candles), r.params.Period)
	for i := warmup; i < len(candles); i++ {
		switch {
		case rsi[i-1] < r.params.Oversold && rsi[i] >= r.params.Oversold:
			signals[i] = SignalBuy
		case rsi[i-1] > r.params.Overbought && rsi[i] <= r.params.Overbought:
			signals[i] = SignalSell
		}
	}
	return signals, nil
}
