// Package orderpipeline is the Core API's order submission path: validate
// the intent, serve a duplicate from the idempotency cache, run it past
// the risk policy gate chain, submit with bounded exponential-backoff
// retry, and record every outcome to the audit trail. A submission that
// exhausts its retries is handed to the dead letter queue instead of
// being silently dropped.
package orderpipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/apperrors"
	"bitfinex-trader/pkg/telemetry"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Pipeline implements core.IOrderPipeline.
type Pipeline struct {
	exchange    core.IExchangeClient
	idempotency core.IIdempotencyCache
	risk        core.IRiskEngine
	store       core.IPersistence // may be nil; audit writes are best-effort
	logger      core.ILogger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	tracer trace.Tracer

	// submitGroup coalesces concurrent Submit calls sharing a
	// client_order_id into a single in-flight exchange call, so two
	// racing retries of the same intent never both reach PlaceOrder.
	submitGroup singleflight.Group
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithRetryPolicy overrides the default bounded exponential backoff.
func WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(p *Pipeline) {
		p.maxRetries = maxRetries
		p.baseDelay = baseDelay
		p.maxDelay = maxDelay
	}
}

// New builds a Pipeline. store may be nil, in which case audit writes are
// skipped rather than failing the submission.
func New(exchange core.IExchangeClient, idempotency core.IIdempotencyCache, risk core.IRiskEngine, store core.IPersistence, logger core.ILogger, opts ...Option) *Pipeline {
	p := &Pipeline{
		exchange:    exchange,
		idempotency: idempotency,
		risk:        risk,
		store:       store,
		logger:      logger.WithField("component", "order_pipeline"),
		maxRetries:  5,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    10 * time.Second,
		tracer:      telemetry.GetTracer("order-pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit runs intent through validation, the idempotency cache, the risk
// gate chain, and finally submission to the exchange. Concurrent Submit
// calls sharing a client_order_id are coalesced by submitGroup so only
// one ever reaches the exchange, and every later duplicate — racing or
// sequential — is served the same result.
func (p *Pipeline) Submit(ctx context.Context, intent core.OrderIntent) (core.Order, error) {
	ctx, span := p.tracer.Start(ctx, "orderpipeline.Submit")
	defer span.End()

	if err := validate(intent); err != nil {
		return core.Order{}, err
	}

	v, err, _ := p.submitGroup.Do(intent.ClientOrderID, func() (interface{}, error) {
		return p.doSubmit(ctx, intent)
	})
	if err != nil {
		return core.Order{}, err
	}
	return v.(core.Order), nil
}

func (p *Pipeline) doSubmit(ctx context.Context, intent core.OrderIntent) (core.Order, error) {
	if cached, ok := p.idempotency.Lookup(intent.ClientOrderID); ok {
		p.logger.Debug("serving cached order for duplicate submission", "client_order_id", intent.ClientOrderID)
		return cached, nil
	}

	if err := p.risk.Evaluate(ctx, intent); err != nil {
		p.recordEvent(ctx, intent, 0, "rejected", err.Error())
		return core.Order{}, err
	}

	p.recordEvent(ctx, intent, 0, "submitted", "")
	telemetry.GetGlobalMetrics().RecordOrderPlaced(ctx, intent.Symbol)

	order, err := p.submitWithRetry(ctx, intent, 0)
	if err != nil {
		if isRetryable(err) {
			p.recordDeadLetter(ctx, intent, err)
		}
		telemetry.GetGlobalMetrics().RecordOrderFailed(ctx, intent.Symbol, err.Error())
		return core.Order{}, err
	}

	p.idempotency.Store(intent.ClientOrderID, order)
	p.recordEvent(ctx, intent, order.ExchangeOrderID, "accepted", "")
	return order, nil
}

// Cancel cancels a live order by its exchange-assigned id, retrying
// transient failures with the same backoff as Submit.
func (p *Pipeline) Cancel(ctx context.Context, exchangeOrderID int64) error {
	return p.cancelWithRetry(ctx, exchangeOrderID, 0)
}

func (p *Pipeline) submitWithRetry(ctx context.Context, intent core.OrderIntent, attempt int) (core.Order, error) {
	order, err := p.exchange.PlaceOrder(ctx, intent)
	if err == nil {
		return order, nil
	}

	p.logger.Warn("order submission failed", "symbol", intent.Symbol, "client_order_id", intent.ClientOrderID, "attempt", attempt+1, "error", err)

	if attempt >= p.maxRetries || !isRetryable(err) {
		return core.Order{}, fmt.Errorf("order submission exhausted: %w", err)
	}

	telemetry.GetGlobalMetrics().RecordOrderRetry(ctx, intent.Symbol)
	delay := backoff(attempt, p.baseDelay, p.maxDelay)
	select {
	case <-ctx.Done():
		return core.Order{}, ctx.Err()
	case <-time.After(delay):
		return p.submitWithRetry(ctx, intent, attempt+1)
	}
}

func (p *Pipeline) cancelWithRetry(ctx context.Context, exchangeOrderID int64, attempt int) error {
	err := p.exchange.CancelOrder(ctx, exchangeOrderID)
	if err == nil {
		return nil
	}

	p.logger.Warn("order cancel failed", "exchange_order_id", exchangeOrderID, "attempt", attempt+1, "error", err)

	if attempt >= p.maxRetries || !isRetryable(err) {
		return fmt.Errorf("order cancel exhausted: %w", err)
	}

	delay := backoff(attempt, p.baseDelay, p.maxDelay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return p.cancelWithRetry(ctx, exchangeOrderID, attempt+1)
	}
}

func (p *Pipeline) recordEvent(ctx context.Context, intent core.OrderIntent, exchangeOrderID int64, eventType, detail string) {
	if p.store == nil {
		return
	}
	event := core.OrderEvent{
		ClientOrderID:   intent.ClientOrderID,
		ExchangeOrderID: exchangeOrderID,
		Symbol:          intent.Symbol,
		EventType:       eventType,
		Detail:          detail,
		OccurredAt:      time.Now().UTC(),
	}
	if err := p.store.RecordOrderEvent(ctx, event); err != nil {
		p.logger.Warn("failed to record order event", "client_order_id", intent.ClientOrderID, "event_type", eventType, "error", err)
	}
}

func (p *Pipeline) recordDeadLetter(ctx context.Context, intent core.OrderIntent, cause error) {
	if p.store == nil {
		return
	}
	entry := core.DeadLetterEntry{
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Reason:        cause.Error(),
		Payload:       intent,
		FailedAt:      time.Now().UTC(),
	}
	if err := p.store.RecordDeadLetter(ctx, entry); err != nil {
		p.logger.Error("failed to record dead letter", "client_order_id", intent.ClientOrderID, "error", err)
	}
}

// validate rejects structurally invalid intents before they reach any
// network call or risk gate.
func validate(intent core.OrderIntent) error {
	if intent.ClientOrderID == "" {
		return &apperrors.ValidationError{Field: "client_order_id", Reason: "required"}
	}
	if intent.Symbol == "" {
		return &apperrors.ValidationError{Field: "symbol", Reason: "required"}
	}
	if intent.Side != core.OrderSideBuy && intent.Side != core.OrderSideSell {
		return &apperrors.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if !intent.Amount.IsPositive() {
		return &apperrors.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	needsPrice := intent.Type == core.OrderTypeLimit || intent.Type == core.OrderTypeStopLimit
	if needsPrice && !intent.Price.IsPositive() {
		return &apperrors.ValidationError{Field: "price", Reason: "required for limit order types"}
	}
	return nil
}

// isRetryable reports whether err represents a transient failure worth
// retrying rather than a fatal rejection. Validation errors, auth
// failures, and risk denials are never retryable; transport-level
// failures, timeouts, and rate limiting are.
func isRetryable(err error) bool {
	var validationErr *apperrors.ValidationError
	var authErr *apperrors.AuthError
	var riskErr *apperrors.RiskDenied
	if errors.As(err, &validationErr) || errors.As(err, &authErr) || errors.As(err, &riskErr) {
		return false
	}

	var transportErr *apperrors.TransportError
	var timeoutErr *apperrors.Timeout
	var rateLimitedErr *apperrors.RateLimited
	if errors.As(err, &transportErr) || errors.As(err, &timeoutErr) || errors.As(err, &rateLimitedErr) {
		return true
	}

	// An unclassified exchange rejection (bad symbol, insufficient funds,
	// margin) is treated as fatal; only the above known-transient kinds
	// get retried.
	var exchangeErr *apperrors.ExchangeError
	if errors.As(err, &exchangeErr) {
		return false
	}

	return false
}

func backoff(attempt int, base, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := (rand.Float64()*0.2 - 0.1) * delay
	return time.Duration(delay + jitter)
}

var _ core.IOrderPipeline = (*Pipeline)(nil)
