package risk

import (
	"context"
	"testing"

	"bitfinex-trader/internal/config"
	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})             {}
func (stubLogger) Info(string, ...interface{})              {}
func (stubLogger) Warn(string, ...interface{})              {}
func (stubLogger) Error(string, ...interface{})             {}
func (stubLogger) Fatal(string, ...interface{})             {}
func (s stubLogger) WithField(string, interface{}) core.ILogger       { return s }
func (s stubLogger) WithFields(map[string]interface{}) core.ILogger   { return s }

func newTestEngine(t *testing.T, cfg config.RiskConfig) *Engine {
	t.Helper()
	e := NewEngine(cfg, stubLogger{})
	e.SetStartOfDayEquity(decimal.NewFromInt(10000))
	return e
}

func intent(symbol string, amount, price float64) core.OrderIntent {
	return core.OrderIntent{
		Symbol: symbol,
		Side:   core.OrderSideBuy,
		Amount: decimal.NewFromFloat(amount),
		Price:  decimal.NewFromFloat(price),
	}
}

func TestEngineAllowsWithinLimits(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		MaxTradesPerDay:          10,
		MaxTradesPerSymbolPerDay: 10,
		TradingWindows:           []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	assert.NoError(t, err)
}

func TestEngineKillSwitchDeniesEverything(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{TradingWindows: []config.TradingWindow{{StartHour: 0, EndHour: 24}}})
	e.EngageKillSwitch("manual test")
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	var riskErr *apperrors.RiskDenied
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "kill_switch", riskErr.Gate)
}

func TestEngineDailyTradeCapDenies(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		MaxTradesPerDay: 1,
		TradingWindows:  []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	e.RecordFill("tBTCUSD", decimal.NewFromInt(10))
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	var riskErr *apperrors.RiskDenied
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "daily_trade_cap", riskErr.Gate)
}

func TestEngineCooldownDenies(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		TradeCooldownSeconds: 60,
		TradingWindows:       []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	e.RecordFill("tBTCUSD", decimal.Zero)
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	var riskErr *apperrors.RiskDenied
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "trade_cooldown", riskErr.Gate)
}

func TestEngineDailyLossLimitDenies(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		MaxDailyLossPct: 0.01,
		TradingWindows:  []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	e.RecordFill("tBTCUSD", decimal.NewFromInt(-200))
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	var riskErr *apperrors.RiskDenied
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "daily_loss_limit", riskErr.Gate)
	assert.True(t, e.Status().KillSwitchEngaged)
}

func TestEngineDrawdownEngagesKillSwitch(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		KillSwitchDrawdownPct: 0.05,
		TradingWindows:        []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	e.RecordFill("tBTCUSD", decimal.NewFromInt(-600))
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	assert.True(t, e.Status().KillSwitchEngaged)
}

func TestEngineExposureGateDenies(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		MaxExposurePerSymbolQuote: 100,
		TradingWindows:            []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 1, 50000))
	require.Error(t, err)
	var riskErr *apperrors.RiskDenied
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "max_exposure", riskErr.Gate)
}

func TestEngineTradingWindowDenies(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		TradingWindows: []config.TradingWindow{{StartHour: 0, EndHour: 0}},
	})
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	var riskErr *apperrors.RiskDenied
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "trading_window", riskErr.Gate)
}

func TestEngineResetDailyClearsCounters(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{
		MaxTradesPerDay: 1,
		TradingWindows:  []config.TradingWindow{{StartHour: 0, EndHour: 24}},
	})
	e.RecordFill("tBTCUSD", decimal.Zero)
	e.ResetDailyAt(decimal.NewFromInt(10000))
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	assert.NoError(t, err)
}

func TestEngineResumeClearsPause(t *testing.T) {
	e := newTestEngine(t, config.RiskConfig{TradingWindows: []config.TradingWindow{{StartHour: 0, EndHour: 24}}})
	e.Pause()
	err := e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	require.Error(t, err)
	e.Resume()
	err = e.Evaluate(context.Background(), intent("tBTCUSD", 0.01, 50000))
	assert.NoError(t, err)
}
