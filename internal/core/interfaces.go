// Package core defines the interfaces and shared domain types the rest of
// the trading core is built against.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide identifies which side of the book an order or fill sits on.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType mirrors the Bitfinex order type vocabulary this core submits.
type OrderType string

const (
	OrderTypeLimit    OrderType = "EXCHANGE LIMIT"
	OrderTypeMarket   OrderType = "EXCHANGE MARKET"
	OrderTypeStop     OrderType = "EXCHANGE STOP"
	OrderTypeStopLimit OrderType = "EXCHANGE STOP LIMIT"
)

// OrderStatus tracks an order through its lifecycle as reported by the
// exchange or inferred locally before acknowledgement.
type OrderStatus string

const (
	OrderStatusPendingSubmit OrderStatus = "pending_submit"
	OrderStatusActive        OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled        OrderStatus = "filled"
	OrderStatusCanceled      OrderStatus = "canceled"
	OrderStatusRejected      OrderStatus = "rejected"
)

// DataSource labels where a market data value was sourced from, published
// alongside every Ticker/Candle for freshness accounting.
type DataSource string

const (
	DataSourceWS    DataSource = "ws"
	DataSourceREST  DataSource = "rest"
	DataSourceCache DataSource = "cache"
)

// Ticker is a last-price/bid/ask snapshot for one symbol.
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Volume24h decimal.Decimal
	Source    DataSource
	Timestamp time.Time
}

// Candle is one OHLCV bar for a symbol/timeframe pair.
type Candle struct {
	Symbol    string
	Timeframe string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Source    DataSource
	Timestamp time.Time
}

// OrderIntent is the caller-supplied request to place an order, before the
// pipeline assigns it a client order id or runs it through risk gates.
type OrderIntent struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Amount        decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	PostOnly      bool
	ReduceOnly    bool
	BracketGroup  string // non-empty for entry/SL/TP legs belonging to one bracket
}

// Order is the local record of an order the pipeline has submitted or is
// tracking, reconciled against exchange-reported state.
type Order struct {
	ExchangeOrderID int64
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Amount          decimal.Decimal
	Price           decimal.Decimal
	FilledAmount    decimal.Decimal
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RiskStatus is the read-only snapshot the risk policy gate exposes to the
// Core API and the health surface.
type RiskStatus struct {
	KillSwitchEngaged  bool
	TradingPaused      bool
	TradesToday        map[string]int
	DailyPnL           decimal.Decimal
	DailyLossLimitPct  decimal.Decimal
	DrawdownPct        decimal.Decimal
	KillSwitchDrawdown decimal.Decimal
	LastResetAt        time.Time
}

// BreakerState is the circuit breaker's externally visible state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// IExchangeClient is the wire-level contract one exchange adapter fulfils:
// signed/unsigned REST calls plus the WS subscription surface. A single
// Bitfinex implementation satisfies it today; the seam exists so the
// order pipeline and market data facade never import exchange/bitfinex
// directly.
type IExchangeClient interface {
	Name() string

	PlaceOrder(ctx context.Context, intent OrderIntent) (Order, error)
	CancelOrder(ctx context.Context, exchangeOrderID int64) error
	CancelOrderByClientID(ctx context.Context, clientOrderID string) error
	GetOrder(ctx context.Context, exchangeOrderID int64) (Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	GetWalletBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetEquity(ctx context.Context) (decimal.Decimal, error)

	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	GetSymbols(ctx context.Context) ([]string, error)

	// EndpointClass classifies a logical operation into the rate-limit /
	// circuit-breaker bucket it belongs to.
	EndpointClass(operation string) string
}

// IRateLimiter gates outbound calls by endpoint class before they reach
// the wire: Acquire blocks on both the class's token bucket and its
// concurrency semaphore, Release returns the semaphore slot.
type IRateLimiter interface {
	Acquire(ctx context.Context, class string) error
	Release(class string)
	Tokens(class string) float64
	Utilization(class string) float64
}

// ICircuitBreakerRegistry tracks per-endpoint-class breaker state.
type ICircuitBreakerRegistry interface {
	Allow(class string) error
	RecordSuccess(class string)
	RecordFailure(class string)
	RecordFailureWithRetryAfter(class string, retryAfter time.Duration)
	State(class string) BreakerState
	ResetBreaker(class string)
	ForceRecovery()
}

// INonceService hands out strictly increasing nonces for authenticated
// requests and can be bumped forward after an exchange rejection.
type INonceService interface {
	Next() int64
	BumpTo(minimum int64)
}

// IIdempotencyCache remembers the outcome of an order submission keyed by
// client_order_id so a retried submit returns the original result instead
// of double-placing.
type IIdempotencyCache interface {
	Lookup(clientOrderID string) (Order, bool)
	Store(clientOrderID string, order Order)
}

// IRiskGate is one stage in the ordered risk policy pipeline. Each
// gate either allows the intent through or returns a RiskDenied error
// naming itself.
type IRiskGate interface {
	Name() string
	Check(ctx context.Context, intent OrderIntent, status RiskStatus) error
}

// IRiskEngine runs an OrderIntent through every configured gate in order
// and exposes the aggregate status.
type IRiskEngine interface {
	Evaluate(ctx context.Context, intent OrderIntent) error
	Status() RiskStatus
	RecordFill(symbol string, realizedPnL decimal.Decimal)
	ResetDaily()
}

// ISignalEngine computes SignalScore per symbol/timeframe from the
// candle series the market data facade feeds it, caching each result
// until either its TTL expires or a new closed candle invalidates it.
type ISignalEngine interface {
	GetSignal(ctx context.Context, symbol, timeframe string) (SignalScore, error)
	OnCandleClose(symbol, timeframe string, candle Candle)
}

// IOrderPipeline is the Core API surface consumers (scheduler jobs,
// signal engine, bracket manager) submit orders through.
type IOrderPipeline interface {
	Submit(ctx context.Context, intent OrderIntent) (Order, error)
	Cancel(ctx context.Context, exchangeOrderID int64) error
}

// IMarketDataFacade is the WS-first, REST-fallback read path for tickers
// and candles.
type IMarketDataFacade interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	IsStale(symbol string) bool
}

// IBracketManager owns entry/stop-loss/take-profit order groups and their
// one-cancels-other behaviour.
type IBracketManager interface {
	Open(ctx context.Context, entry, stopLoss, takeProfit OrderIntent) (string, error)
	OnFill(ctx context.Context, exchangeOrderID int64, filledAmount decimal.Decimal) error
	Reconcile(ctx context.Context) error
}

// IScheduler runs periodic maintenance jobs under a priority class.
type IScheduler interface {
	Run(ctx context.Context) error
	RegisterJob(name string, priority string, fn func(ctx context.Context) error) error
}

// IPersistence is the append-only audit trail: every order state
// transition, every periodic equity mark, and every submission that
// exhausted its retries lands here for operator inspection and crash
// recovery.
type IPersistence interface {
	RecordOrderEvent(ctx context.Context, event OrderEvent) error
	RecordEquitySnapshot(ctx context.Context, snapshot EquitySnapshot) error
	RecordDeadLetter(ctx context.Context, entry DeadLetterEntry) error
	OrderEvents(ctx context.Context, clientOrderID string) ([]OrderEvent, error)
	LatestEquity(ctx context.Context) (EquitySnapshot, error)
	DeadLetters(ctx context.Context) ([]DeadLetterEntry, error)
	Close() error
}

// IHealthMonitor aggregates component health checks into a single
// queryable surface.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger is the structured logging interface every component logs
// through; never a package-level global.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
