package signal

import (
	"testing"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func candle(close float64) core.Candle {
	v := decimal.NewFromFloat(close)
	return core.Candle{
		Symbol:    "tBTCUSD",
		Timeframe: "1m",
		Open:      v,
		Close:     v,
		High:      v.Add(decimal.NewFromFloat(1)),
		Low:       v.Sub(decimal.NewFromFloat(1)),
		Volume:    decimal.NewFromFloat(10),
		Timestamp: time.Now(),
	}
}

func TestSeriesAppendTrimsToCapacity(t *testing.T) {
	s := NewSeries(3)
	for _, v := range []float64{1, 2, 3, 4} {
		s.Append(candle(v))
	}
	assert.Len(t, s.Candles, 3)
	assert.True(t, s.Candles[0].Close.Equal(decimal.NewFromFloat(2)))
}

func TestSMAInsufficientHistoryReturnsZero(t *testing.T) {
	s := NewSeries(10)
	s.Append(candle(100))
	assert.True(t, s.SMA(5).IsZero())
}

func TestSMAAverages(t *testing.T) {
	s := NewSeries(10)
	for _, v := range []float64{10, 20, 30} {
		s.Append(candle(v))
	}
	assert.True(t, s.SMA(3).Equal(decimal.NewFromFloat(20)))
}

func TestRSIAllGainsReturnsHundred(t *testing.T) {
	s := NewSeries(10)
	for _, v := range []float64{10, 11, 12, 13, 14} {
		s.Append(candle(v))
	}
	assert.True(t, s.RSI(4).Equal(decimal.NewFromInt(100)))
}

func TestATRPositiveWithVolatility(t *testing.T) {
	s := NewSeries(10)
	for _, v := range []float64{100, 102, 98, 105, 95} {
		s.Append(candle(v))
	}
	assert.True(t, s.ATR(3).GreaterThan(decimal.Zero))
}

func TestADXWithinZeroToHundred(t *testing.T) {
	s := NewSeries(20)
	for _, v := range []float64{100, 101, 103, 104, 106, 108, 107, 109, 111, 113} {
		s.Append(candle(v))
	}
	adx := s.ADX(9)
	assert.True(t, adx.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, adx.LessThanOrEqual(decimal.NewFromInt(100)))
}
