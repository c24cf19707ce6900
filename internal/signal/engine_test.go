package signal

import (
	"context"
	"testing"

	"bitfinex-trader/internal/config"
	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})                     {}
func (stubLogger) Info(string, ...interface{})                      {}
func (stubLogger) Warn(string, ...interface{})                      {}
func (stubLogger) Error(string, ...interface{})                     {}
func (stubLogger) Fatal(string, ...interface{})                     {}
func (s stubLogger) WithField(string, interface{}) core.ILogger     { return s }
func (s stubLogger) WithFields(map[string]interface{}) core.ILogger { return s }

type stubFacade struct {
	candles []core.Candle
	err     error
	calls   int
}

func (s *stubFacade) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	return core.Ticker{}, nil
}

func (s *stubFacade) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	s.calls++
	return s.candles, s.err
}

func (s *stubFacade) IsStale(symbol string) bool { return false }

func testConfig() config.SignalConfig {
	return config.SignalConfig{
		FastEMAPeriod:     3,
		SlowEMAPeriod:     5,
		RSIPeriod:         4,
		RSIUpperThreshold: 55,
		RSILowerThreshold: 45,
		ATRPeriod:         4,
		ADXPeriod:         4,
		CacheTTLSeconds:   30,
		SeriesCapacity:    50,
	}
}

func risingCandles(n int, start float64) []core.Candle {
	out := make([]core.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candle(start+float64(i)))
	}
	return out
}

func fallingCandles(n int, start float64) []core.Candle {
	out := make([]core.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candle(start-float64(i)))
	}
	return out
}

func TestGetSignalSeedsFromFacadeWhenSeriesEmpty(t *testing.T) {
	facade := &stubFacade{candles: risingCandles(20, 100)}
	e := New(testConfig(), facade, stubLogger{}, "")

	score, err := e.GetSignal(context.Background(), "tBTCUSD", "1m")
	require.NoError(t, err)
	assert.Equal(t, 1, facade.calls)
	assert.Equal(t, core.SignalBuy, score.Side)
	assert.True(t, score.Probability.Equal(score.Confidence))
}

func TestGetSignalUptrendYieldsBuy(t *testing.T) {
	facade := &stubFacade{candles: risingCandles(20, 100)}
	e := New(testConfig(), facade, stubLogger{}, "")

	score, err := e.GetSignal(context.Background(), "tBTCUSD", "1m")
	require.NoError(t, err)
	assert.Equal(t, core.SignalBuy, score.Side)
	assert.True(t, score.Confidence.GreaterThan(decimal.Zero))
}

func TestGetSignalDowntrendYieldsSell(t *testing.T) {
	facade := &stubFacade{candles: fallingCandles(20, 200)}
	e := New(testConfig(), facade, stubLogger{}, "")

	score, err := e.GetSignal(context.Background(), "tETHUSD", "1m")
	require.NoError(t, err)
	assert.Equal(t, core.SignalSell, score.Side)
}

func TestGetSignalCachesWithinTTL(t *testing.T) {
	facade := &stubFacade{candles: risingCandles(20, 100)}
	e := New(testConfig(), facade, stubLogger{}, "")

	_, err := e.GetSignal(context.Background(), "tBTCUSD", "1m")
	require.NoError(t, err)
	_, err = e.GetSignal(context.Background(), "tBTCUSD", "1m")
	require.NoError(t, err)

	assert.Equal(t, 1, facade.calls, "second call within TTL must not reseed from the facade")
}

func TestOnCandleCloseInvalidatesCache(t *testing.T) {
	facade := &stubFacade{candles: risingCandles(20, 100)}
	e := New(testConfig(), facade, stubLogger{}, "")

	_, err := e.GetSignal(context.Background(), "tBTCUSD", "1m")
	require.NoError(t, err)

	e.OnCandleClose("tBTCUSD", "1m", candle(500))

	e.mu.Lock()
	_, cached := e.cache[seriesKey{"tBTCUSD", "1m"}]
	e.mu.Unlock()
	assert.False(t, cached, "OnCandleClose must invalidate the cached score")
}

func TestOnCandleCloseAppendsWithoutFacadeCall(t *testing.T) {
	facade := &stubFacade{candles: risingCandles(20, 100)}
	e := New(testConfig(), facade, stubLogger{}, "")

	e.OnCandleClose("tBTCUSD", "1m", candle(1))
	e.OnCandleClose("tBTCUSD", "1m", candle(2))

	e.mu.Lock()
	n := len(e.series[seriesKey{"tBTCUSD", "1m"}].Candles)
	e.mu.Unlock()
	assert.Equal(t, 2, n)
}

func TestProbabilityFallsBackToConfidenceWithoutModel(t *testing.T) {
	e := New(testConfig(), &stubFacade{}, stubLogger{}, "")
	confidence := decimal.NewFromFloat(0.42)
	got := e.probability(confidence, nil)
	assert.True(t, got.Equal(confidence))
}

func TestProbabilityUsesCalibratedModelWhenPresent(t *testing.T) {
	e := New(testConfig(), &stubFacade{}, stubLogger{}, "")
	e.model = &Model{
		Weights:   map[string]float64{"rsi": 0.1},
		Intercept: 0,
		PlattA:    1,
		PlattB:    0,
	}
	features := map[string]decimal.Decimal{"rsi": decimal.NewFromInt(70)}
	got := e.probability(decimal.NewFromFloat(0.5), features)
	assert.True(t, got.GreaterThan(decimal.NewFromFloat(0.9)))
}

func TestLoadModelMissingFileReturnsError(t *testing.T) {
	_, err := loadModel("/nonexistent/path/model.json")
	assert.Error(t, err)
}
