// Package risk runs every order intent through an ordered chain of
// policy gates before it reaches the pipeline's submit stage: a manual
// kill switch, a paused-trading flag, the configured trading window,
// daily and per-symbol trade caps, a cooldown between trades on the
// same symbol, a daily loss limit, a drawdown-triggered kill switch,
// and a per-symbol notional exposure cap. Each gate is
// independently testable and the engine stops at the first denial.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitfinex-trader/internal/config"
	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/apperrors"
	"bitfinex-trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Engine owns the mutable risk state (today's trade counts, running PnL,
// peak equity) and evaluates every gate against it in a fixed order.
type Engine struct {
	cfg    config.RiskConfig
	logger core.ILogger
	clock  func() time.Time

	mu             sync.RWMutex
	killSwitch     bool
	paused         bool
	tradesToday    map[string]int
	lastTradeAt    map[string]time.Time
	dailyPnL       decimal.Decimal
	startOfDayEquity decimal.Decimal
	peakEquity     decimal.Decimal
	exposure       map[string]decimal.Decimal
	lastReset      time.Time

	gates []core.IRiskGate
}

// NewEngine builds an Engine wired with the standard gate chain, in the
// order  requires.
func NewEngine(cfg config.RiskConfig, logger core.ILogger) *Engine {
	e := &Engine{
		cfg:           cfg,
		logger:        logger.WithField("component", "risk_engine"),
		clock:         time.Now,
		tradesToday:   make(map[string]int),
		lastTradeAt:   make(map[string]time.Time),
		exposure:      make(map[string]decimal.Decimal),
		lastReset:     time.Now(),
	}
	e.gates = []core.IRiskGate{
		killSwitchGate{e},
		pausedGate{e},
		tradingWindowGate{e},
		dailyTradeCapGate{e},
		symbolTradeCapGate{e},
		cooldownGate{e},
		dailyLossGate{e},
		drawdownGate{e},
		exposureGate{e},
	}
	return e
}

// Evaluate runs intent through every gate and records a metric for
// whichever one denies it, if any.
func (e *Engine) Evaluate(ctx context.Context, intent core.OrderIntent) error {
	status := e.Status()
	for _, gate := range e.gates {
		if err := gate.Check(ctx, intent, status); err != nil {
			telemetry.GetGlobalMetrics().RecordRiskDenied(ctx, gate.Name())
			e.logger.Warn("risk gate denied intent", "gate", gate.Name(), "symbol", intent.Symbol, "error", err)
			return err
		}
	}
	return nil
}

// Status returns a read-only snapshot of the engine's current state.
func (e *Engine) Status() core.RiskStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	trades := make(map[string]int, len(e.tradesToday))
	for k, v := range e.tradesToday {
		trades[k] = v
	}

	drawdown := decimal.Zero
	if !e.peakEquity.IsZero() {
		drawdown = e.peakEquity.Sub(e.startOfDayEquity.Add(e.dailyPnL)).Div(e.peakEquity)
	}

	return core.RiskStatus{
		KillSwitchEngaged:  e.killSwitch,
		TradingPaused:      e.paused,
		TradesToday:        trades,
		DailyPnL:           e.dailyPnL,
		DailyLossLimitPct:  decimal.NewFromFloat(e.cfg.MaxDailyLossPct),
		DrawdownPct:        drawdown,
		KillSwitchDrawdown: decimal.NewFromFloat(e.cfg.KillSwitchDrawdownPct),
		LastResetAt:        e.lastReset,
	}
}

// RecordFill updates trade counters, cooldown timestamps, and realized
// PnL after an order fills. The order pipeline does not call it; the
// counters and PnL change only when a caller reports a fill here.
func (e *Engine) RecordFill(symbol string, realizedPnL decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tradesToday[symbol]++
	e.lastTradeAt[symbol] = e.clock()
	e.dailyPnL = e.dailyPnL.Add(realizedPnL)

	equity := e.startOfDayEquity.Add(e.dailyPnL)
	if equity.GreaterThan(e.peakEquity) {
		e.peakEquity = equity
	}
}

// UpdateExposure sets the current notional exposure for symbol. The
// order pipeline does not call it; exposure holds whatever a caller last
// set here.
func (e *Engine) UpdateExposure(symbol string, notional decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exposure[symbol] = notional
}

// SetStartOfDayEquity seeds the baseline the daily loss and drawdown
// gates measure against; called once at startup. ResetDailyAt re-seeds
// the baseline itself without going through this method.
func (e *Engine) SetStartOfDayEquity(equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startOfDayEquity = equity
	if equity.GreaterThan(e.peakEquity) {
		e.peakEquity = equity
	}
}

// EngageKillSwitch latches the kill switch; it stays engaged across
// ResetDaily until an operator calls DisengageKillSwitch.
func (e *Engine) EngageKillSwitch(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.killSwitch {
		e.logger.Error("kill switch engaged", "reason", reason)
	}
	e.killSwitch = true
}

// DisengageKillSwitch clears the kill switch, whether an operator or a
// risk gate engaged it.
func (e *Engine) DisengageKillSwitch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = false
}

// Pause and Resume toggle the trading-paused flag independent of the
// kill switch, for maintenance windows or operator intervention.
func (e *Engine) Pause()  { e.mu.Lock(); e.paused = true; e.mu.Unlock() }
func (e *Engine) Resume() { e.mu.Lock(); e.paused = false; e.mu.Unlock() }

// ResetDailyAt clears trade counters and PnL at the start of a new
// trading day and re-seeds the equity baseline and peak. The kill switch
// is left as it is, whether a risk gate or an operator engaged it.
func (e *Engine) ResetDailyAt(equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tradesToday = make(map[string]int)
	e.dailyPnL = decimal.Zero
	e.startOfDayEquity = equity
	e.peakEquity = equity
	e.lastReset = e.clock()
}

// ResetDaily satisfies core.IRiskEngine by re-seeding at the last known
// equity baseline; callers that have a fresh equity figure should call
// ResetDailyAt instead.
func (e *Engine) ResetDaily() {
	e.mu.RLock()
	equity := e.startOfDayEquity.Add(e.dailyPnL)
	e.mu.RUnlock()
	e.ResetDailyAt(equity)
}

var _ core.IRiskEngine = (*Engine)(nil)

func denied(gate, reason string) error {
	return &apperrors.RiskDenied{Gate: gate, Reason: reason}
}

func inWindow(windows []config.TradingWindow, hour int) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if hour >= w.StartHour && hour < w.EndHour {
			return true
		}
	}
	return false
}

type killSwitchGate struct{ e *Engine }

func (killSwitchGate) Name() string { return "kill_switch" }
func (g killSwitchGate) Check(_ context.Context, _ core.OrderIntent, status core.RiskStatus) error {
	if status.KillSwitchEngaged {
		return denied(g.Name(), "kill switch is engaged")
	}
	return nil
}

type pausedGate struct{ e *Engine }

func (pausedGate) Name() string { return "trading_paused" }
func (g pausedGate) Check(_ context.Context, _ core.OrderIntent, status core.RiskStatus) error {
	if status.TradingPaused {
		return denied(g.Name(), "trading is paused")
	}
	return nil
}

type tradingWindowGate struct{ e *Engine }

func (tradingWindowGate) Name() string { return "trading_window" }
func (g tradingWindowGate) Check(_ context.Context, _ core.OrderIntent, _ core.RiskStatus) error {
	if !inWindow(g.e.cfg.TradingWindows, g.e.clock().UTC().Hour()) {
		return denied(g.Name(), "outside configured trading window")
	}
	return nil
}

type dailyTradeCapGate struct{ e *Engine }

func (dailyTradeCapGate) Name() string { return "daily_trade_cap" }
func (g dailyTradeCapGate) Check(_ context.Context, _ core.OrderIntent, status core.RiskStatus) error {
	if g.e.cfg.MaxTradesPerDay <= 0 {
		return nil
	}
	total := 0
	for _, n := range status.TradesToday {
		total += n
	}
	if total >= g.e.cfg.MaxTradesPerDay {
		return denied(g.Name(), fmt.Sprintf("%d trades already placed today (max %d)", total, g.e.cfg.MaxTradesPerDay))
	}
	return nil
}

type symbolTradeCapGate struct{ e *Engine }

func (symbolTradeCapGate) Name() string { return "symbol_trade_cap" }
func (g symbolTradeCapGate) Check(_ context.Context, intent core.OrderIntent, status core.RiskStatus) error {
	if g.e.cfg.MaxTradesPerSymbolPerDay <= 0 {
		return nil
	}
	if status.TradesToday[intent.Symbol] >= g.e.cfg.MaxTradesPerSymbolPerDay {
		return denied(g.Name(), fmt.Sprintf("%s already traded %d times today (max %d)", intent.Symbol, status.TradesToday[intent.Symbol], g.e.cfg.MaxTradesPerSymbolPerDay))
	}
	return nil
}

type cooldownGate struct{ e *Engine }

func (cooldownGate) Name() string { return "trade_cooldown" }
func (g cooldownGate) Check(_ context.Context, intent core.OrderIntent, _ core.RiskStatus) error {
	if g.e.cfg.TradeCooldownSeconds <= 0 {
		return nil
	}
	g.e.mu.RLock()
	last, seen := g.e.lastTradeAt[intent.Symbol]
	g.e.mu.RUnlock()
	if !seen {
		return nil
	}
	elapsed := g.e.clock().Sub(last)
	cooldown := time.Duration(g.e.cfg.TradeCooldownSeconds) * time.Second
	if elapsed < cooldown {
		return denied(g.Name(), fmt.Sprintf("%s traded %s ago, cooldown is %s", intent.Symbol, elapsed, cooldown))
	}
	return nil
}

type dailyLossGate struct{ e *Engine }

func (dailyLossGate) Name() string { return "daily_loss_limit" }
func (g dailyLossGate) Check(_ context.Context, _ core.OrderIntent, status core.RiskStatus) error {
	if status.DailyLossLimitPct.IsZero() {
		return nil
	}
	g.e.mu.RLock()
	baseline := g.e.startOfDayEquity
	g.e.mu.RUnlock()
	if baseline.IsZero() {
		return nil
	}
	lossPct := status.DailyPnL.Neg().Div(baseline)
	if lossPct.GreaterThanOrEqual(status.DailyLossLimitPct) {
		g.e.EngageKillSwitch(fmt.Sprintf("daily loss %s exceeds limit %s", lossPct, status.DailyLossLimitPct))
		return denied(g.Name(), fmt.Sprintf("daily loss %s exceeds limit %s", lossPct, status.DailyLossLimitPct))
	}
	return nil
}

type drawdownGate struct{ e *Engine }

func (drawdownGate) Name() string { return "kill_switch_drawdown" }
func (g drawdownGate) Check(_ context.Context, _ core.OrderIntent, status core.RiskStatus) error {
	if status.KillSwitchDrawdown.IsZero() {
		return nil
	}
	if status.DrawdownPct.GreaterThanOrEqual(status.KillSwitchDrawdown) {
		g.e.EngageKillSwitch(fmt.Sprintf("drawdown %s reached kill switch threshold %s", status.DrawdownPct, status.KillSwitchDrawdown))
		return denied(g.Name(), fmt.Sprintf("drawdown %s reached kill switch threshold %s", status.DrawdownPct, status.KillSwitchDrawdown))
	}
	return nil
}

type exposureGate struct{ e *Engine }

func (exposureGate) Name() string { return "max_exposure" }
func (g exposureGate) Check(_ context.Context, intent core.OrderIntent, _ core.RiskStatus) error {
	if g.e.cfg.MaxExposurePerSymbolQuote <= 0 {
		return nil
	}
	g.e.mu.RLock()
	current := g.e.exposure[intent.Symbol]
	g.e.mu.RUnlock()

	notional := intent.Amount.Mul(intent.Price).Abs()
	projected := current.Add(notional)
	limit := decimal.NewFromFloat(g.e.cfg.MaxExposurePerSymbolQuote)
	if projected.GreaterThan(limit) {
		return denied(g.Name(), fmt.Sprintf("%s projected exposure %s exceeds limit %s", intent.Symbol, projected, limit))
	}
	return nil
}
