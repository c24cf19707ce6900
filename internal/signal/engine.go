package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"bitfinex-trader/internal/config"
	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
)

// Model is an optional calibrated logistic model: a linear combination of
// named indicator features run through a Platt-scaled sigmoid. Loaded
// from PersistenceConfig.ProbModelFile; absent a file, the engine falls
// back to a heuristic mapping from confidence.
type Model struct {
	Weights   map[string]float64 `json:"weights"`
	Intercept float64            `json:"intercept"`
	PlattA    float64            `json:"platt_a"`
	PlattB    float64            `json:"platt_b"`
}

func loadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("signal: parse model file %s: %w", path, err)
	}
	return &m, nil
}

type seriesKey struct {
	symbol    string
	timeframe string
}

type cacheEntry struct {
	score     core.SignalScore
	expiresAt time.Time
}

// Engine computes SignalScore per (symbol, timeframe), keeping one
// indicator Series per pair and caching the derived score until either
// its TTL expires or a new closed candle invalidates it. Implements
// core.ISignalEngine.
type Engine struct {
	cfg    config.SignalConfig
	facade core.IMarketDataFacade
	logger core.ILogger
	model  *Model

	mu     sync.Mutex
	series map[seriesKey]*Series
	cache  map[seriesKey]cacheEntry
}

// New builds an Engine. modelPath may be empty, in which case the engine
// always falls back to its heuristic probability mapping. A model file
// that fails to load is logged and treated the same as an absent one.
func New(cfg config.SignalConfig, facade core.IMarketDataFacade, logger core.ILogger, modelPath string) *Engine {
	e := &Engine{
		cfg:    cfg,
		facade: facade,
		logger: logger.WithField("component", "signal_engine"),
		series: make(map[seriesKey]*Series),
		cache:  make(map[seriesKey]cacheEntry),
	}
	if modelPath != "" {
		m, err := loadModel(modelPath)
		if err != nil {
			e.logger.Warn("failed to load probability model, using heuristic fallback", "path", modelPath, "error", err)
		} else {
			e.model = m
		}
	}
	return e
}

// OnCandleClose feeds a newly closed candle into the series for its
// symbol/timeframe and invalidates any cached score, so the next
// GetSignal call recomputes against the fresh candle.
func (e *Engine) OnCandleClose(symbol, timeframe string, candle core.Candle) {
	key := seriesKey{symbol, timeframe}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[key]
	if !ok {
		s = NewSeries(e.cfg.SeriesCapacity)
		e.series[key] = s
	}
	s.Append(candle)
	delete(e.cache, key)
}

// GetSignal returns the cached SignalScore for symbol/timeframe if it's
// still within its TTL, otherwise recomputes it — seeding the series
// from the market data facade first if nothing has been accumulated
// from live candle closes yet.
func (e *Engine) GetSignal(ctx context.Context, symbol, timeframe string) (core.SignalScore, error) {
	key := seriesKey{symbol, timeframe}

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		score := entry.score
		e.mu.Unlock()
		return score, nil
	}
	series, haveSeries := e.series[key]
	needed := e.cfg.SlowEMAPeriod + 1
	e.mu.Unlock()

	if !haveSeries || len(series.Candles) < needed {
		if err := e.seedSeries(ctx, symbol, timeframe); err != nil {
			return core.SignalScore{}, fmt.Errorf("signal: seed series for %s/%s: %w", symbol, timeframe, err)
		}
		e.mu.Lock()
		series = e.series[key]
		e.mu.Unlock()
	}

	score := e.compute(symbol, timeframe, series)

	e.mu.Lock()
	e.cache[key] = cacheEntry{
		score:     score,
		expiresAt: time.Now().Add(time.Duration(e.cfg.CacheTTLSeconds) * time.Second),
	}
	e.mu.Unlock()

	return score, nil
}

func (e *Engine) seedSeries(ctx context.Context, symbol, timeframe string) error {
	candles, err := e.facade.Candles(ctx, symbol, timeframe, e.cfg.SeriesCapacity)
	if err != nil {
		return err
	}

	key := seriesKey{symbol, timeframe}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		s = NewSeries(e.cfg.SeriesCapacity)
		e.series[key] = s
	}
	for _, c := range candles {
		s.Append(c)
	}
	return nil
}

// compute derives a SignalScore from series: side from EMA trend and RSI
// momentum agreement, confidence from how far each indicator sits past
// its decision threshold, and probability from the calibrated model when
// one is loaded or the confidence itself otherwise.
func (e *Engine) compute(symbol, timeframe string, series *Series) core.SignalScore {
	fastEMA := series.EMA(e.cfg.FastEMAPeriod)
	slowEMA := series.EMA(e.cfg.SlowEMAPeriod)
	rsi := series.RSI(e.cfg.RSIPeriod)
	atr := series.ATR(e.cfg.ATRPeriod)
	adx := series.ADX(e.cfg.ADXPeriod)

	upperThreshold := decimal.NewFromFloat(e.cfg.RSIUpperThreshold)
	lowerThreshold := decimal.NewFromFloat(e.cfg.RSILowerThreshold)

	trendUp := fastEMA.GreaterThan(slowEMA)
	trendDown := fastEMA.LessThan(slowEMA)
	momentumUp := rsi.GreaterThan(upperThreshold)
	momentumDown := rsi.LessThan(lowerThreshold)

	side := core.SignalHold
	switch {
	case trendUp && momentumUp:
		side = core.SignalBuy
	case trendDown && momentumDown:
		side = core.SignalSell
	}

	confidence := e.confidence(side, fastEMA, slowEMA, rsi)

	features := map[string]decimal.Decimal{
		"ema_fast": fastEMA,
		"ema_slow": slowEMA,
		"rsi":      rsi,
		"atr":      atr,
		"adx":      adx,
	}

	return core.SignalScore{
		Symbol:      symbol,
		Timeframe:   timeframe,
		Side:        side,
		Confidence:  confidence,
		Probability: e.probability(confidence, features),
		Features:    features,
		ComputedAt:  time.Now().UTC(),
	}
}

// confidence normalizes the EMA spread and RSI's distance from the
// midline into [0,1] and averages them; a hold (neither threshold
// crossed) always scores zero.
func (e *Engine) confidence(side core.SignalSide, fastEMA, slowEMA, rsi decimal.Decimal) decimal.Decimal {
	if side == core.SignalHold {
		return decimal.Zero
	}

	emaSpread := decimal.Zero
	if !slowEMA.IsZero() {
		emaSpread = fastEMA.Sub(slowEMA).Abs().Div(slowEMA).Abs()
	}
	// A 5% EMA spread is treated as full trend confidence.
	trendScore := clampUnit(emaSpread.Mul(decimal.NewFromInt(20)))

	mid := decimal.NewFromInt(50)
	momentumScore := clampUnit(rsi.Sub(mid).Abs().Div(mid))

	return trendScore.Add(momentumScore).Div(decimal.NewFromInt(2))
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}

// probability runs the loaded model's linear-plus-Platt-scaling formula
// over features when a model is present; absent a model, confidence
// itself is the heuristic probability mapping.
func (e *Engine) probability(confidence decimal.Decimal, features map[string]decimal.Decimal) decimal.Decimal {
	if e.model == nil {
		return confidence
	}

	raw := e.model.Intercept
	for name, weight := range e.model.Weights {
		f, ok := features[name]
		if !ok {
			continue
		}
		v, _ := f.Float64()
		raw += weight * v
	}

	calibrated := e.model.PlattA*raw + e.model.PlattB
	return decimal.NewFromFloat(1 / (1 + math.Exp(-calibrated)))
}

var _ core.ISignalEngine = (*Engine)(nil)
