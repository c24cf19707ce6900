// Package restclient is the signed/unsigned REST transport every Bitfinex
// call goes through: retry policy, per-class circuit breaker, and
// per-class rate limiting wrap the plain net/http call, a failsafe-go
// pipeline generalized from one client-wide breaker to a per-endpoint-class
// registry.
package restclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bitfinex-trader/internal/breaker"
	"bitfinex-trader/internal/nonce"
	"bitfinex-trader/internal/ratelimit"
	"bitfinex-trader/pkg/apperrors"
	"bitfinex-trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Client issues signed and public requests against the Bitfinex v2 REST
// API.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	nonces    *nonce.Service
	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	pipeline  failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// New builds a Client. Every request, whatever its endpoint class, goes
// through the same retry policy (up to three retries with backoff on
// network errors, 5xx and 429); all classes share the breaker registry's
// per-class state.
func New(baseURL, apiKey, apiSecret string, timeout time.Duration, nonces *nonce.Service, limiter *ratelimit.Limiter, breakers *breaker.Registry) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	tracer := telemetry.GetTracer("restclient")
	meter := telemetry.GetMeter("restclient")

	reqCounter, _ := meter.Int64Counter("restclient_requests_total", metric.WithDescription("REST requests issued"))
	errCounter, _ := meter.Int64Counter("restclient_errors_total", metric.WithDescription("REST requests that failed"))
	latencyHist, _ := meter.Float64Histogram("restclient_request_duration_seconds", metric.WithDescription("REST request latency"), metric.WithUnit("s"))

	return &Client{
		http:        &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		nonces:      nonces,
		limiter:     limiter,
		breakers:    breakers,
		pipeline:    failsafe.With[*http.Response](retryPolicy),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Public issues an unsigned GET request against path (no leading slash,
// e.g. "v2/ticker/tBTCUSD") under endpoint class class ( classifies
// public reads separately from authenticated writes).
func (c *Client) Public(ctx context.Context, class, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("restclient: build request: %w", err)
	}
	return c.do(ctx, class, req)
}

// Signed issues a POST request against path (no leading slash), signed
// with the Bitfinex v2 HMAC-SHA384 scheme: the payload is
// `/api/<path><nonce><body>`, keyed by the API secret, hex-encoded into
// the bfx-signature header.
//
// An exchange rejection whose code IsRetryable accepts ("nonce: small"
// or the rate-limit code) is retried here rather than handed to the
// caller: Signed bumps the nonce generator past the current wall clock
// and re-signs the request exactly once, with no backoff in between.
// Every other exchange rejection is returned as-is.
func (c *Client) Signed(ctx context.Context, class, path string, body interface{}) ([]byte, error) {
	resp, err := c.signedOnce(ctx, class, path, body)
	if err == nil {
		return resp, nil
	}

	var exchErr *apperrors.ExchangeError
	if errors.As(err, &exchErr) && IsRetryable(exchErr) {
		c.nonces.BumpTo(time.Now().UnixMicro())
		return c.signedOnce(ctx, class, path, body)
	}
	return nil, err
}

func (c *Client) signedOnce(ctx context.Context, class, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("restclient: marshal body: %w", err)
	}

	n := c.nonces.Next()
	nonceStr := strconv.FormatInt(n, 10)
	signaturePath := fmt.Sprintf("/api/%s%s%s", path, nonceStr, string(payload))

	mac := hmac.New(sha512.New384, []byte(c.apiSecret))
	mac.Write([]byte(signaturePath))
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("restclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("bfx-nonce", nonceStr)
	req.Header.Set("bfx-apikey", c.apiKey)
	req.Header.Set("bfx-signature", signature)

	return c.do(ctx, class, req)
}

func (c *Client) do(ctx context.Context, class string, req *http.Request) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, class); err != nil {
		return nil, err
	}
	defer c.limiter.Release(class)

	if err := c.breakers.Allow(class); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("endpoint_class", class),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.http.Do(req)
	})

	duration := time.Since(start).Seconds()
	c.reqCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint_class", class)))
	c.latencyHist.Record(ctx, duration, metric.WithAttributes(attribute.String("endpoint_class", class)))

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint_class", class)))
		c.breakers.RecordFailure(class)
		if ctx.Err() != nil {
			return nil, &apperrors.Timeout{Op: req.URL.Path}
		}
		return nil, &apperrors.TransportError{Op: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.breakers.RecordFailure(class)
		return nil, &apperrors.TransportError{Op: req.URL.Path, Err: readErr}
	}

	if resp.StatusCode >= 500 {
		c.breakers.RecordFailure(class)
		return nil, &apperrors.TransportError{Op: req.URL.Path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode == 429 {
		c.breakers.RecordFailureWithRetryAfter(class, retryAfterDuration(resp.Header.Get("Retry-After")))
		return nil, &apperrors.RateLimited{Class: class}
	}
	// A non-429 4xx is a client-side/business rejection (bad credentials,
	// bad symbol, insufficient margin, ...), not a transport fault, so it
	// never trips the breaker and is never retried by the caller.
	if resp.StatusCode == 401 {
		return nil, &apperrors.AuthError{Reason: string(body)}
	}
	if resp.StatusCode >= 400 {
		return nil, classifyExchangeError(body)
	}

	c.breakers.RecordSuccess(class)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return body, nil
}

// retryAfterDuration parses a Retry-After header given as a number of
// seconds (Bitfinex's form). A missing or unparseable header yields zero,
// which never extends a breaker's configured cooldown.
func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
