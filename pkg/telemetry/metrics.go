package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRateLimitTokensAvailable = "ratelimit_tokens_available"
	MetricRateLimitUtilizationPct  = "ratelimit_utilization_pct"
	MetricBreakerState             = "breaker_state"
	MetricBreakerOpenTotal         = "breaker_open_total"
	MetricBreakerHalfOpenTotal     = "breaker_half_open_trial_total"
	MetricOrderPlacedTotal         = "orderpipeline_placed_total"
	MetricOrderRejectedTotal       = "orderpipeline_rejected_total"
	MetricOrderRetryTotal          = "orderpipeline_retry_total"
	MetricOrderFailedTotal         = "orderpipeline_failed_total"
	MetricOrderSubmitLatency       = "orderpipeline_submit_latency_seconds"
	MetricRiskDeniedTotal          = "risk_denied_total"
	MetricMarketdataWSTotal        = "marketdata_ws_total"
	MetricMarketdataRESTTotal      = "marketdata_rest_total"
	MetricMarketdataCacheTotal     = "marketdata_cache_total"
	MetricMarketdataStale          = "marketdata_stale"
	MetricNonceBumpTotal           = "nonce_bump_total"
)

// breakerStateClosed, breakerStateHalfOpen and breakerStateOpen are the
// values published on the breaker_state gauge.
const (
	breakerStateClosed   = 0
	breakerStateHalfOpen = 1
	breakerStateOpen     = 2
)

// MetricsHolder holds every instrument published by the trading core. State
// for observable gauges lives in the maps below and is read back by the
// callback registered against each gauge.
type MetricsHolder struct {
	RateLimitTokensAvailable metric.Float64ObservableGauge
	RateLimitUtilizationPct  metric.Float64ObservableGauge
	BreakerState             metric.Float64ObservableGauge
	BreakerOpenTotal         metric.Int64Counter
	BreakerHalfOpenTotal     metric.Int64Counter
	OrderPlacedTotal         metric.Int64Counter
	OrderRejectedTotal       metric.Int64Counter
	OrderRetryTotal          metric.Int64Counter
	OrderFailedTotal         metric.Int64Counter
	OrderSubmitLatency       metric.Float64Histogram
	RiskDeniedTotal          metric.Int64Counter
	MarketdataWSTotal        metric.Int64Counter
	MarketdataRESTTotal      metric.Int64Counter
	MarketdataCacheTotal     metric.Int64Counter
	MarketdataStale          metric.Float64ObservableGauge
	NonceBumpTotal           metric.Int64Counter

	// State for observable gauges
	mu                sync.RWMutex
	rlTokensMap       map[string]float64
	rlUtilizationMap  map[string]float64
	breakerStateMap   map[string]float64
	marketdataStaleMap map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			rlTokensMap:        make(map[string]float64),
			rlUtilizationMap:   make(map[string]float64),
			breakerStateMap:    make(map[string]float64),
			marketdataStaleMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.BreakerOpenTotal, err = meter.Int64Counter(MetricBreakerOpenTotal, metric.WithDescription("transitions of a breaker into the open state"))
	if err != nil {
		return err
	}

	m.BreakerHalfOpenTotal, err = meter.Int64Counter(MetricBreakerHalfOpenTotal, metric.WithDescription("half-open trial requests issued"))
	if err != nil {
		return err
	}

	m.OrderPlacedTotal, err = meter.Int64Counter(MetricOrderPlacedTotal, metric.WithDescription("orders accepted by the exchange"))
	if err != nil {
		return err
	}

	m.OrderRejectedTotal, err = meter.Int64Counter(MetricOrderRejectedTotal, metric.WithDescription("order intents rejected before submission"))
	if err != nil {
		return err
	}

	m.OrderRetryTotal, err = meter.Int64Counter(MetricOrderRetryTotal, metric.WithDescription("submission attempts retried after a transient failure"))
	if err != nil {
		return err
	}

	m.OrderFailedTotal, err = meter.Int64Counter(MetricOrderFailedTotal, metric.WithDescription("submissions that exhausted retries or hit a fatal exchange error"))
	if err != nil {
		return err
	}

	m.OrderSubmitLatency, err = meter.Float64Histogram(MetricOrderSubmitLatency, metric.WithDescription("end-to-end latency of an order submission attempt"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.RiskDeniedTotal, err = meter.Int64Counter(MetricRiskDeniedTotal, metric.WithDescription("order intents denied by the risk policy gate"))
	if err != nil {
		return err
	}

	m.MarketdataWSTotal, err = meter.Int64Counter(MetricMarketdataWSTotal, metric.WithDescription("market data values served from the live websocket feed"))
	if err != nil {
		return err
	}

	m.MarketdataRESTTotal, err = meter.Int64Counter(MetricMarketdataRESTTotal, metric.WithDescription("market data values served via REST fallback"))
	if err != nil {
		return err
	}

	m.MarketdataCacheTotal, err = meter.Int64Counter(MetricMarketdataCacheTotal, metric.WithDescription("market data values served from the last-known-good cache"))
	if err != nil {
		return err
	}

	m.NonceBumpTotal, err = meter.Int64Counter(MetricNonceBumpTotal, metric.WithDescription("forced nonce bumps after an exchange nonce-too-small rejection"))
	if err != nil {
		return err
	}

	// Observables
	m.RateLimitTokensAvailable, err = meter.Float64ObservableGauge(MetricRateLimitTokensAvailable, metric.WithDescription("tokens currently available in the per-class token bucket"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for class, val := range m.rlTokensMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("endpoint_class", class)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RateLimitUtilizationPct, err = meter.Float64ObservableGauge(MetricRateLimitUtilizationPct, metric.WithDescription("fraction of the token bucket capacity consumed, per endpoint class"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for class, val := range m.rlUtilizationMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("endpoint_class", class)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BreakerState, err = meter.Float64ObservableGauge(MetricBreakerState, metric.WithDescription("breaker state per endpoint class: 0=closed 1=half-open 2=open"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for class, val := range m.breakerStateMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("endpoint_class", class)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.MarketdataStale, err = meter.Float64ObservableGauge(MetricMarketdataStale, metric.WithDescription("1 if the most recent value for a symbol is older than its freshness bound"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for symbol, val := range m.marketdataStaleMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", symbol)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetRateLimiterState(class string, tokensAvailable, utilizationPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rlTokensMap[class] = tokensAvailable
	m.rlUtilizationMap[class] = utilizationPct
}

func (m *MetricsHolder) SetBreakerClosed(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerStateMap[class] = breakerStateClosed
}

func (m *MetricsHolder) SetBreakerHalfOpen(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerStateMap[class] = breakerStateHalfOpen
}

func (m *MetricsHolder) SetBreakerOpen(ctx context.Context, class string) {
	m.mu.Lock()
	m.breakerStateMap[class] = breakerStateOpen
	m.mu.Unlock()
	m.BreakerOpenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint_class", class)))
}

func (m *MetricsHolder) RecordBreakerHalfOpenTrial(ctx context.Context, class string) {
	m.BreakerHalfOpenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint_class", class)))
}

func (m *MetricsHolder) SetMarketdataStale(symbol string, stale bool) {
	val := 0.0
	if stale {
		val = 1.0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketdataStaleMap[symbol] = val
}

func (m *MetricsHolder) RecordOrderPlaced(ctx context.Context, symbol string) {
	m.OrderPlacedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordOrderRejected(ctx context.Context, reason string) {
	m.OrderRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *MetricsHolder) RecordOrderRetry(ctx context.Context, symbol string) {
	m.OrderRetryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordOrderFailed(ctx context.Context, symbol, reason string) {
	m.OrderFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol), attribute.String("reason", reason)))
}

func (m *MetricsHolder) ObserveOrderLatency(ctx context.Context, symbol string, seconds float64) {
	m.OrderSubmitLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordRiskDenied(ctx context.Context, gate string) {
	m.RiskDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", gate)))
}

func (m *MetricsHolder) RecordMarketdataWS(ctx context.Context, symbol string) {
	m.MarketdataWSTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordMarketdataREST(ctx context.Context, symbol string) {
	m.MarketdataRESTTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordMarketdataCache(ctx context.Context, symbol string) {
	m.MarketdataCacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordNonceBump(ctx context.Context) {
	m.NonceBumpTotal.Add(ctx, 1)
}

func (m *MetricsHolder) GetRateLimiterTokens() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.rlTokensMap))
	for k, v := range m.rlTokensMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetBreakerStates() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.breakerStateMap))
	for k, v := range m.breakerStateMap {
		res[k] = v
	}
	return res
}
