// Package signal computes the technical indicators the signal engine
// scores trend, momentum and volatility from: exponential and simple
// moving averages, RSI, ATR, and ADX, all against the decimal candle
// series a symbol's market data feed accumulates.
package signal

import (
	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
)

// Series holds a fixed-capacity rolling window of closed candles for one
// symbol/timeframe pair. Callers append new candles as they close;
// Append trims the oldest entry once the window is full.
type Series struct {
	Capacity int
	Candles  []core.Candle
}

// NewSeries builds a Series that retains at most capacity candles.
func NewSeries(capacity int) *Series {
	return &Series{Capacity: capacity, Candles: make([]core.Candle, 0, capacity)}
}

// Append adds a closed candle, dropping the oldest once Capacity is
// exceeded.
func (s *Series) Append(c core.Candle) {
	s.Candles = append(s.Candles, c)
	if len(s.Candles) > s.Capacity {
		s.Candles = s.Candles[len(s.Candles)-s.Capacity:]
	}
}

// SMA returns the simple moving average of the last n closes, or zero if
// fewer than n candles are available.
func (s *Series) SMA(n int) decimal.Decimal {
	if len(s.Candles) < n || n <= 0 {
		return decimal.Zero
	}
	window := s.Candles[len(s.Candles)-n:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// EMA returns the exponential moving average over the full series using
// smoothing period n.
func (s *Series) EMA(n int) decimal.Decimal {
	if len(s.Candles) == 0 || n <= 0 {
		return decimal.Zero
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(n + 1)))
	ema := s.Candles[0].Close
	for _, c := range s.Candles[1:] {
		ema = c.Close.Sub(ema).Mul(k).Add(ema)
	}
	return ema
}

// RSI returns the Wilder relative strength index over the last n+1
// candles, or zero if there is insufficient history.
func (s *Series) RSI(n int) decimal.Decimal {
	if len(s.Candles) < n+1 || n <= 0 {
		return decimal.Zero
	}
	window := s.Candles[len(s.Candles)-(n+1):]

	gain := decimal.Zero
	loss := decimal.Zero
	for i := 1; i < len(window); i++ {
		delta := window[i].Close.Sub(window[i-1].Close)
		if delta.IsPositive() {
			gain = gain.Add(delta)
		} else {
			loss = loss.Add(delta.Abs())
		}
	}

	if loss.IsZero() {
		return decimal.NewFromInt(100)
	}
	avgGain := gain.Div(decimal.NewFromInt(int64(n)))
	avgLoss := loss.Div(decimal.NewFromInt(int64(n)))
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// ATR returns the average true range over the last n candles using the
// standard Max(H-L, |H-PrevClose|, |L-PrevClose|) true range formula.
func (s *Series) ATR(n int) decimal.Decimal {
	if len(s.Candles) < n+1 || n <= 0 {
		return decimal.Zero
	}

	trSum := decimal.Zero
	count := 0
	for i := len(s.Candles) - 1; i > 0 && count < n; i-- {
		tr := trueRange(s.Candles[i], s.Candles[i-1])
		trSum = trSum.Add(tr)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return trSum.Div(decimal.NewFromInt(int64(count)))
}

func trueRange(current, prev core.Candle) decimal.Decimal {
	tr := current.High.Sub(current.Low)
	if hc := current.High.Sub(prev.Close).Abs(); hc.GreaterThan(tr) {
		tr = hc
	}
	if lc := current.Low.Sub(prev.Close).Abs(); lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// ADX returns the directional index (DX) computed from the summed +DM,
// -DM and true range of the last n candles, measuring trend strength
// independent of direction. It is a single-window value: the DX is not
// further averaged or Wilder-smoothed across periods. Returns zero until
// at least n+1 candles are available.
func (s *Series) ADX(n int) decimal.Decimal {
	if len(s.Candles) < n+1 || n <= 0 {
		return decimal.Zero
	}

	window := s.Candles[len(s.Candles)-(n+1):]
	var plusDM, minusDM, trSum decimal.Decimal

	for i := 1; i < len(window); i++ {
		upMove := window[i].High.Sub(window[i-1].High)
		downMove := window[i-1].Low.Sub(window[i].Low)

		if upMove.GreaterThan(downMove) && upMove.IsPositive() {
			plusDM = plusDM.Add(upMove)
		}
		if downMove.GreaterThan(upMove) && downMove.IsPositive() {
			minusDM = minusDM.Add(downMove)
		}
		trSum = trSum.Add(trueRange(window[i], window[i-1]))
	}

	if trSum.IsZero() {
		return decimal.Zero
	}

	plusDI := plusDM.Div(trSum).Mul(decimal.NewFromInt(100))
	minusDI := minusDM.Div(trSum).Mul(decimal.NewFromInt(100))

	sum := plusDI.Add(minusDI)
	if sum.IsZero() {
		return decimal.Zero
	}
	return plusDI.Sub(minusDI).Abs().Div(sum).Mul(decimal.NewFromInt(100))
}
