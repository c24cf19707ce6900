package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"bitfinex-trader/internal/breaker"
	"bitfinex-trader/internal/config"
	"bitfinex-trader/internal/core"
	"bitfinex-trader/internal/nonce"
	"bitfinex-trader/internal/ratelimit"
	"bitfinex-trader/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})                     {}
func (stubLogger) Info(string, ...interface{})                      {}
func (stubLogger) Warn(string, ...interface{})                      {}
func (stubLogger) Error(string, ...interface{})                     {}
func (stubLogger) Fatal(string, ...interface{})                     {}
func (s stubLogger) WithField(string, interface{}) core.ILogger     { return s }
func (s stubLogger) WithFields(map[string]interface{}) core.ILogger { return s }

func newTestClient(t *testing.T, baseURL string) (*Client, *breaker.Registry) {
	t.Helper()
	nonces, err := nonce.NewService(filepath.Join(t.TempDir(), "nonce.json"))
	require.NoError(t, err)

	limiter := ratelimit.New([]config.RateLimitPattern{
		{Class: "order_submit", RequestsPerSec: 1000, Burst: 1000, MaxConcurrent: 5},
	})
	breakers := breaker.NewRegistry(nil, breaker.Config{
		FailureThreshold: 5, FailureWindow: 5, SuccessThreshold: 1, Cooldown: time.Minute,
	}, stubLogger{})

	return New(baseURL, "key", "secret", 2*time.Second, nonces, limiter, breakers), breakers
}

func exchangeErrorBody(code int, message string) []byte {
	body, _ := json.Marshal([]interface{}{"error", code, message})
	return body
}

// TestSignedRetriesOnceAfterNonceTooSmall exercises the mandatory
// one-shot nonce-bump-and-retry: a 10020 ("nonce: small") rejection is
// retried exactly once and the retry's success is returned to the
// caller.
func TestSignedRetriesOnceAfterNonceTooSmall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write(exchangeErrorBody(10020, "nonce: small"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	resp, err := client.Signed(context.Background(), "order_submit", "v2/auth/w/order/submit", map[string]string{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestSignedDoesNotRetryFatalExchangeRejection exercises the mirror
// case: a non-retryable exchange rejection (e.g. bad symbol) must be
// returned to the caller after exactly one attempt.
func TestSignedDoesNotRetryFatalExchangeRejection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(exchangeErrorBody(10001, "invalid symbol"))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	_, err := client.Signed(context.Background(), "order_submit", "v2/auth/w/order/submit", map[string]string{})
	require.Error(t, err)
	var exchErr *apperrors.ExchangeError
	require.ErrorAs(t, err, &exchErr)
	assert.Equal(t, 10001, exchErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestNonRetryable4xxDoesNotTripBreaker exercises the correctness fix:
// an ordinary business rejection must never open the transport breaker.
func TestNonRetryable4xxDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(exchangeErrorBody(10001, "invalid symbol"))
	}))
	defer srv.Close()

	client, breakers := newTestClient(t, srv.URL)
	for i := 0; i < 10; i++ {
		_, _ = client.Signed(context.Background(), "order_submit", "v2/auth/w/order/submit", map[string]string{})
	}

	assert.Equal(t, core.BreakerClosed, breakers.State("order_submit"))
}

// TestAuthErrorDoesNotTripBreaker exercises the same rule for a 401.
func TestAuthErrorDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`unauthorized`))
	}))
	defer srv.Close()

	client, breakers := newTestClient(t, srv.URL)
	for i := 0; i < 10; i++ {
		_, err := client.Signed(context.Background(), "order_submit", "v2/auth/w/order/submit", map[string]string{})
		var authErr *apperrors.AuthError
		require.ErrorAs(t, err, &authErr)
	}

	assert.Equal(t, core.BreakerClosed, breakers.State("order_submit"))
}

// TestServerErrorTripsBreaker confirms transport-level 5xx failures
// still trip the breaker, the counterpart to the 4xx/401 fix above.
func TestServerErrorTripsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, breakers := newTestClient(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, _ = client.Public(context.Background(), "order_submit", "v2/ticker/tBTCUSD")
	}

	assert.Equal(t, core.BreakerOpen, breakers.State("order_submit"))
}

func TestPublicSuccessRecordsBreakerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, breakers := newTestClient(t, srv.URL)
	_, err := client.Public(context.Background(), "public", "v2/tickers")
	require.NoError(t, err)
	assert.Equal(t, core.BreakerClosed, breakers.State("public"))
}
