// Package breaker maintains one circuit breaker per endpoint class,
// tripping to open on a burst of failures and trialing a half-open probe
// before closing again. It wraps failsafe-go's breaker in a registry keyed
// by class so every REST call of the same class shares one breaker
// state. The WS client does not consult it.
package breaker

import (
	"sync"
	"time"

	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/apperrors"
	"bitfinex-trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// Config bounds one endpoint class's breaker.
type Config struct {
	FailureThreshold int           // numerator
	FailureWindow    int           // denominator — failures out of this many calls
	SuccessThreshold int           // consecutive successes to close from half-open
	Cooldown         time.Duration // minimum time open before trialing half-open
}

// Registry owns one circuitbreaker.CircuitBreaker[any] per endpoint class,
// created lazily on first use from the supplied per-class Config.
type Registry struct {
	mu            sync.Mutex
	configs       map[string]Config
	defaultConfig Config
	breakers      map[string]circuitbreaker.CircuitBreaker[any]
	logger        core.ILogger

	// extendedUntil holds, per class, a deadline later than the
	// breaker's own configured cooldown — set when the exchange's
	// Retry-After response header asked for a longer wait than this
	// class's cooldown would otherwise give.
	extendedUntil map[string]time.Time
}

// NewRegistry builds a Registry. classConfigs maps endpoint class name to
// its breaker Config; a class with no entry gets defaultConfig.
func NewRegistry(classConfigs map[string]Config, defaultConfig Config, logger core.ILogger) *Registry {
	r := &Registry{
		configs:       make(map[string]Config),
		defaultConfig: defaultConfig,
		breakers:      make(map[string]circuitbreaker.CircuitBreaker[any]),
		extendedUntil: make(map[string]time.Time),
		logger:        logger,
	}
	for class, cfg := range classConfigs {
		r.configs[class] = cfg
	}
	return r
}

func (r *Registry) breakerFor(class string) circuitbreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[class]; ok {
		return b
	}

	cfg, ok := r.configs[class]
	if !ok {
		cfg = r.defaultConfig
	}

	builder := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(uint(cfg.FailureThreshold), uint(cfg.FailureWindow)).
		WithSuccessThreshold(uint(cfg.SuccessThreshold)).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			r.reportState(class, event.NewState)
		})
	if cfg.Cooldown > 0 {
		builder = builder.WithDelay(cfg.Cooldown)
	}

	b := builder.Build()
	r.breakers[class] = b
	return b
}

func (r *Registry) reportState(class string, state circuitbreaker.State) {
	metrics := telemetry.GetGlobalMetrics()
	switch state {
	case circuitbreaker.OpenState:
		if r.logger != nil {
			r.logger.Warn("circuit breaker opened", "class", class)
		}
	case circuitbreaker.HalfOpenState:
		metrics.SetBreakerHalfOpen(class)
	case circuitbreaker.ClosedState:
		metrics.SetBreakerClosed(class)
	}
}

// Allow reports whether a call against class may proceed, returning
// apperrors.TransportError wrapping the open-circuit condition otherwise.
// A class held open by an exchange Retry-After hint longer than its
// configured cooldown stays blocked until that deadline even if the
// underlying breaker would otherwise allow a half-open trial.
func (r *Registry) Allow(class string) error {
	r.mu.Lock()
	until, extended := r.extendedUntil[class]
	r.mu.Unlock()
	if extended && time.Now().Before(until) {
		return &apperrors.TransportError{Op: "circuit_breaker:" + class, Err: circuitbreaker.ErrOpen}
	}

	b := r.breakerFor(class)
	if !b.TryAcquirePermit() {
		return &apperrors.TransportError{Op: "circuit_breaker:" + class, Err: circuitbreaker.ErrOpen}
	}
	return nil
}

// RecordSuccess reports a successful call against class.
func (r *Registry) RecordSuccess(class string) {
	r.breakerFor(class).RecordSuccess()
}

// RecordFailure reports a failed call against class.
func (r *Registry) RecordFailure(class string) {
	r.breakerFor(class).RecordFailure()
}

// RecordFailureWithRetryAfter reports a failed call against class that
// came with the exchange's own Retry-After hint. If retryAfter exceeds
// the class's configured cooldown, Allow stays closed-to-calls until
// retryAfter elapses even after the breaker itself would permit a
// half-open trial.
func (r *Registry) RecordFailureWithRetryAfter(class string, retryAfter time.Duration) {
	r.breakerFor(class).RecordFailure()

	r.mu.Lock()
	cfg, ok := r.configs[class]
	if !ok {
		cfg = r.defaultConfig
	}
	if retryAfter > cfg.Cooldown {
		r.extendedUntil[class] = time.Now().Add(retryAfter)
	}
	r.mu.Unlock()
}

// State reports the externally visible breaker state for class.
func (r *Registry) State(class string) core.BreakerState {
	switch r.breakerFor(class).State() {
	case circuitbreaker.OpenState:
		return core.BreakerOpen
	case circuitbreaker.HalfOpenState:
		return core.BreakerHalfOpen
	default:
		return core.BreakerClosed
	}
}

// ResetBreaker forces class's breaker closed and clears any Retry-After
// extended cooldown, for operator-triggered recovery once the underlying
// condition is known fixed. An empty class resets every breaker created
// so far.
func (r *Registry) ResetBreaker(class string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if class == "" {
		for _, b := range r.breakers {
			b.Close()
		}
		for k := range r.extendedUntil {
			delete(r.extendedUntil, k)
		}
		return
	}

	if b, ok := r.breakers[class]; ok {
		b.Close()
	}
	delete(r.extendedUntil, class)
}

// ForceRecovery resets every breaker this registry has created back to
// closed, the operator's emergency override for a stuck-open condition
// that's confirmed resolved out of band.
func (r *Registry) ForceRecovery() {
	r.ResetBreaker("")
}

var _ core.ICircuitBreakerRegistry = (*Registry)(nil)
