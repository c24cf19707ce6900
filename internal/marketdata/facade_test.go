package marketdata

import (
	"context"
	"testing"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})           {}
func (stubLogger) Info(string, ...interface{})            {}
func (stubLogger) Warn(string, ...interface{})            {}
func (stubLogger) Error(string, ...interface{})           {}
func (stubLogger) Fatal(string, ...interface{})           {}
func (s stubLogger) WithField(string, interface{}) core.ILogger     { return s }
func (s stubLogger) WithFields(map[string]interface{}) core.ILogger { return s }

type stubExchange struct {
	restTicker core.Ticker
	restErr    error
	restCalls  int
}

func (s *stubExchange) Name() string { return "stub" }
func (s *stubExchange) PlaceOrder(ctx context.Context, intent core.OrderIntent) (core.Order, error) {
	return core.Order{}, nil
}
func (s *stubExchange) CancelOrder(ctx context.Context, id int64) error              { return nil }
func (s *stubExchange) CancelOrderByClientID(ctx context.Context, id string) error   { return nil }
func (s *stubExchange) GetOrder(ctx context.Context, id int64) (core.Order, error)   { return core.Order{}, nil }
func (s *stubExchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return nil, nil
}
func (s *stubExchange) GetWalletBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubExchange) GetEquity(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (s *stubExchange) GetTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	s.restCalls++
	return s.restTicker, s.restErr
}
func (s *stubExchange) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	return nil, nil
}
func (s *stubExchange) GetSymbols(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubExchange) EndpointClass(op string) string                  { return "public" }

func TestTickerServesFromCacheWhenFresh(t *testing.T) {
	exch := &stubExchange{}
	f := New(exch, stubLogger{}, 5*time.Second, time.Minute)
	f.OnTicker(core.Ticker{Symbol: "tBTCUSD", Last: decimal.NewFromInt(100)})

	got, err := f.Ticker(context.Background(), "tBTCUSD")
	require.NoError(t, err)
	assert.True(t, got.Last.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, exch.restCalls)
}

func TestTickerFallsBackToRESTWhenStale(t *testing.T) {
	exch := &stubExchange{restTicker: core.Ticker{Symbol: "tBTCUSD", Last: decimal.NewFromInt(200)}}
	f := New(exch, stubLogger{}, time.Millisecond, time.Minute)
	f.OnTicker(core.Ticker{Symbol: "tBTCUSD", Last: decimal.NewFromInt(100)})
	time.Sleep(5 * time.Millisecond)

	got, err := f.Ticker(context.Background(), "tBTCUSD")
	require.NoError(t, err)
	assert.True(t, got.Last.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 1, exch.restCalls)
}

func TestIsStaleReportsMissingSymbol(t *testing.T) {
	f := New(&stubExchange{}, stubLogger{}, time.Second, time.Minute)
	assert.True(t, f.IsStale("tETHUSD"))
}
