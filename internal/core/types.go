package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolInfo is one row of the symbol registry, refreshed periodically
// from exchange pair config.
type SymbolInfo struct {
	Symbol         string
	PriceDecimals  int
	AmountDecimals int
	MinOrderSize   decimal.Decimal
	MaxOrderSize   decimal.Decimal
}

// OrderEvent is one row appended to the order audit log — every state
// transition an order passes through.
type OrderEvent struct {
	ClientOrderID   string
	ExchangeOrderID int64
	Symbol          string
	EventType       string // submitted, accepted, rejected, filled, canceled, retried
	Detail          string
	OccurredAt      time.Time
}

// EquitySnapshot is one row of the equity time-series, taken by the
// scheduler's equity_snapshot job.
type EquitySnapshot struct {
	Equity  decimal.Decimal
	Source  DataSource
	TakenAt time.Time
}

// DeadLetterEntry is an order submission that could not be delivered
// after exhausting retries, held for operator inspection.
type DeadLetterEntry struct {
	ClientOrderID string
	Symbol        string
	Reason        string
	Payload       OrderIntent
	FailedAt      time.Time
}

// SignalSide is the directional call the signal engine makes for a
// symbol/timeframe pair.
type SignalSide string

const (
	SignalBuy  SignalSide = "buy"
	SignalSell SignalSide = "sell"
	SignalHold SignalSide = "hold"
)

// SignalScore is the signal engine's per-symbol, per-timeframe output:
// a directional call, a confidence in that call derived from indicator
// distance from their thresholds, and a probability either read from a
// calibrated model or heuristically mapped from confidence.
type SignalScore struct {
	Symbol      string
	Timeframe   string
	Side        SignalSide
	Confidence  decimal.Decimal
	Probability decimal.Decimal
	Features    map[string]decimal.Decimal
	ComputedAt  time.Time
}
