package breaker

import (
	"sync"
	"testing"
	"time"

	"bitfinex-trader/internal/core"

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

func testConfig() Config {
	return Config{FailureThreshold: 2, FailureWindow: 2, SuccessThreshold: 1, Cooldown: 20 * time.Millisecond}
}

func TestAllowClosedByDefault(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	assert.NoError(t, r.Allow("public"))
	assert.Equal(t, core.BreakerClosed, r.State("public"))
}

// TestRecordFailureTripsBreakerAfterThreshold exercises P4: a class
// whose failure ratio meets its configured threshold must open and
// reject further calls until its cooldown elapses.
func TestRecordFailureTripsBreakerAfterThreshold(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})

	r.RecordFailure("public")
	r.RecordFailure("public")

	assert.Equal(t, core.BreakerOpen, r.State("public"))
	assert.Error(t, r.Allow("public"))
}

func TestBreakerClosesAfterCooldownAndSuccess(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	r.RecordFailure("public")
	r.RecordFailure("public")
	require.Equal(t, core.BreakerOpen, r.State("public"))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.Allow("public")) // half-open trial permit
	r.RecordSuccess("public")

	assert.Equal(t, core.BreakerClosed, r.State("public"))
}

func TestPerClassConfigsAreIndependent(t *testing.T) {
	classConfigs := map[string]Config{
		"order_submit": {FailureThreshold: 1, FailureWindow: 1, SuccessThreshold: 1, Cooldown: time.Minute},
	}
	r := NewRegistry(classConfigs, testConfig(), stubLogger{})

	r.RecordFailure("order_submit")
	assert.Equal(t, core.BreakerOpen, r.State("order_submit"))
	assert.Equal(t, core.BreakerClosed, r.State("public"), "an unrelated class must not be affected")
}

func TestRecordFailureWithRetryAfterExtendsBeyondCooldown(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	r.RecordFailure("public")
	r.RecordFailureWithRetryAfter("public", time.Hour)

	assert.Error(t, r.Allow("public"), "Retry-After longer than cooldown must keep the class blocked")
}

func TestRecordFailureWithRetryAfterShorterThanCooldownDoesNotExtend(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	r.RecordFailureWithRetryAfter("public", time.Millisecond)

	r.mu.Lock()
	_, extended := r.extendedUntil["public"]
	r.mu.Unlock()
	assert.False(t, extended, "a Retry-After shorter than the configured cooldown must not override it")
}

func TestResetBreakerSingleClass(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	r.RecordFailure("public")
	r.RecordFailure("public")
	require.Equal(t, core.BreakerOpen, r.State("public"))

	r.ResetBreaker("public")
	assert.Equal(t, core.BreakerClosed, r.State("public"))
}

func TestResetBreakerEmptyClassResetsAll(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	r.RecordFailure("public")
	r.RecordFailure("public")
	r.RecordFailure("account")
	r.RecordFailure("account")
	require.Equal(t, core.BreakerOpen, r.State("public"))
	require.Equal(t, core.BreakerOpen, r.State("account"))

	r.ResetBreaker("")

	assert.Equal(t, core.BreakerClosed, r.State("public"))
	assert.Equal(t, core.BreakerClosed, r.State("account"))
}

func TestForceRecoveryResetsEveryBreaker(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	r.RecordFailure("public")
	r.RecordFailure("public")
	require.Equal(t, core.BreakerOpen, r.State("public"))

	r.ForceRecovery()
	assert.Equal(t, core.BreakerClosed, r.State("public"))
	assert.NoError(t, r.Allow("public"))
}

func TestConcurrentRecordFailureAndAllowIsRaceFree(t *testing.T) {
	r := NewRegistry(nil, testConfig(), stubLogger{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				r.RecordFailure("public")
			} else {
				_ = r.Allow("public")
			}
		}(i)
	}
	wg.Wait()
}
