package strategy

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"quantdesk/internal/market"
)

// Signal 是策略在单根 K 线上的判定结果。
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// 内置策略类型。
const (
	TypeMovingAverage = "moving_average"
	TypeRSI           = "rsi"
	TypeMACD          = "macd"
)

// Strategy 基于完整 K 线序列逐根产出信号。
// 返回的信号切片与输入等长，预热期内为 SignalHold。
type Strategy interface {
	Name() string
	WarmupBars() int
	Signals(candles []market.Candle) ([]Signal, error)
}

// New 按类型与参数构造策略。params 来自 HTTP 请求或策略库，
// 数字可能以字符串形式出现，按弱类型解码。
func New(strategyType string, params map[string]any) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(strategyType)) {
	case TypeMovingAverage, "ma", "ma_cross":
		var p MovingAverageParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMovingAverage(p)
	case TypeRSI:
		var p RSIParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewRSI(p)
	case TypeMACD:
		var p MACDParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMACD(p)
	default:
		return nil, fmt.Errorf("unknown strategy type: %s", strategyType)
	}
}

// Types 返回全部内置策略类型。
func Types() []string {
	return []string{TypeMovingAverage, TypeRSI, TypeMACD}
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode strategy params failed: %w", err)
	}
	return nil
}

func closeSeries(candles []market.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
