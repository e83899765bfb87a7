package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"ETH/USDT:USDT", "ETH", "USDT"},
		{"SOLBTC", "SOL", "BTC"},
		{"  bnbusdc ", "BNB", "USDC"},
		{"", "", ""},
		{"USDT", "", ""},
	}
	for _, tc := range cases {
		sym := Parse(tc.in)
		assert.Equal(t, tc.base, sym.Base, tc.in)
		assert.Equal(t, tc.quote, sym.Quote, tc.in)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc/usdt"))
	assert.Equal(t, "BTCUSDT", Normalize("BTCUSDT"))
	// 解析不了的输入原样大写返回
	assert.Equal(t, "FOO", Normalize("foo"))
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"btc/usdt", "BTCUSDT", "eth/usdt", ""})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTC/USDT"))
	assert.False(t, IsValid("FOO"))
}
