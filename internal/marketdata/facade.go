// Package marketdata is the WS-first, REST-fallback read path for
// tickers and candles: every update pushed over the streaming
// socket lands in an in-memory cache tagged with its source and
// arrival time; a read that finds the cached value older than its
// configured staleness bound falls through to a REST call instead of
// serving a stale number, the same hot/warm tier split a cache-backed
// data facade uses to keep reads cheap without giving up freshness.
package marketdata

import (
	"context"
	"sync"
	"time"

	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/telemetry"
)

type tickerEntry struct {
	value     core.Ticker
	updatedAt time.Time
}

type candleKey struct {
	symbol    string
	timeframe string
}

type candleEntry struct {
	value     core.Candle
	updatedAt time.Time
}

// Facade serves Ticker/Candles reads from a WS-fed cache, falling back
// to REST through exchange when the cached value has aged past the
// configured staleness bound.
type Facade struct {
	exchange core.IExchangeClient
	logger   core.ILogger

	tickerStale time.Duration
	candleStale time.Duration

	mu      sync.RWMutex
	tickers map[string]tickerEntry
	candles map[candleKey]candleEntry
}

// New builds a Facade. tickerStale and candleStale bound how old a
// cached value may be before a read falls back to REST.
func New(exchange core.IExchangeClient, logger core.ILogger, tickerStale, candleStale time.Duration) *Facade {
	return &Facade{
		exchange:    exchange,
		logger:      logger.WithField("component", "marketdata"),
		tickerStale: tickerStale,
		candleStale: candleStale,
		tickers:     make(map[string]tickerEntry),
		candles:     make(map[candleKey]candleEntry),
	}
}

// OnTicker is the callback to hand the WS subscription manager; it just
// refreshes the cache entry with the newly-arrived value.
func (f *Facade) OnTicker(t core.Ticker) {
	f.mu.Lock()
	f.tickers[t.Symbol] = tickerEntry{value: t, updatedAt: time.Now()}
	f.mu.Unlock()
	telemetry.GetGlobalMetrics().RecordMarketdataWS(context.Background(), t.Symbol)
	telemetry.GetGlobalMetrics().SetMarketdataStale(t.Symbol, false)
}

// OnCandle is the callback to hand the WS subscription manager for
// candle updates.
func (f *Facade) OnCandle(c core.Candle) {
	f.mu.Lock()
	f.candles[candleKey{symbol: c.Symbol, timeframe: c.Timeframe}] = candleEntry{value: c, updatedAt: time.Now()}
	f.mu.Unlock()
	telemetry.GetGlobalMetrics().RecordMarketdataWS(context.Background(), c.Symbol)
}

// Ticker returns the freshest known ticker for symbol, serving from the
// WS-fed cache when it is within tickerStale and falling back to REST
// otherwise.
func (f *Facade) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	f.mu.RLock()
	entry, ok := f.tickers[symbol]
	f.mu.RUnlock()

	if ok && time.Since(entry.updatedAt) <= f.tickerStale {
		telemetry.GetGlobalMetrics().RecordMarketdataCache(ctx, symbol)
		return entry.value, nil
	}

	telemetry.GetGlobalMetrics().SetMarketdataStale(symbol, true)
	telemetry.GetGlobalMetrics().RecordMarketdataREST(ctx, symbol)
	t, err := f.exchange.GetTicker(ctx, symbol)
	if err != nil {
		if ok {
			f.logger.Warn("REST ticker fallback failed, serving stale cache", "symbol", symbol, "error", err)
			return entry.value, nil
		}
		return core.Ticker{}, err
	}

	t.Source = core.DataSourceREST
	f.mu.Lock()
	f.tickers[symbol] = tickerEntry{value: t, updatedAt: time.Now()}
	f.mu.Unlock()
	telemetry.GetGlobalMetrics().SetMarketdataStale(symbol, false)
	return t, nil
}

// Candles returns up to limit candles for symbol/timeframe. The cache
// only ever holds one candle per pair, the latest one pushed over WS or
// the last one of the most recent REST response, so anything beyond one
// bar of history always goes to REST.
func (f *Facade) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	if limit <= 1 {
		f.mu.RLock()
		entry, ok := f.candles[candleKey{symbol: symbol, timeframe: timeframe}]
		f.mu.RUnlock()
		if ok && time.Since(entry.updatedAt) <= f.candleStale {
			telemetry.GetGlobalMetrics().RecordMarketdataCache(ctx, symbol)
			return []core.Candle{entry.value}, nil
		}
	}

	telemetry.GetGlobalMetrics().RecordMarketdataREST(ctx, symbol)
	candles, err := f.exchange.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		last.Source = core.DataSourceREST
		f.mu.Lock()
		f.candles[candleKey{symbol: symbol, timeframe: timeframe}] = candleEntry{value: last, updatedAt: time.Now()}
		f.mu.Unlock()
	}
	return candles, nil
}

// IsStale reports whether symbol's cached ticker is older than the
// configured staleness bound, or missing entirely.
func (f *Facade) IsStale(symbol string) bool {
	f.mu.RLock()
	entry, ok := f.tickers[symbol]
	f.mu.RUnlock()
	if !ok {
		return true
	}
	return time.Since(entry.updatedAt) > f.tickerStale
}

var _ core.IMarketDataFacade = (*Facade)(nil)
