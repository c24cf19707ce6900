package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/stretchr/testify/assert"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})           {}
func (noopLogger) Info(string, ...interface{})            {}
func (noopLogger) Warn(string, ...interface{})            {}
func (noopLogger) Error(string, ...interface{})           {}
func (noopLogger) Fatal(string, ...interface{})           {}
func (n noopLogger) WithField(string, interface{}) core.ILogger     { return n }
func (n noopLogger) WithFields(map[string]interface{}) core.ILogger { return n }

func TestRegisterIntervalRunsJob(t *testing.T) {
	s := New(noopLogger{})
	var calls int32

	require := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	err := s.RegisterInterval("test-job", 20*time.Millisecond, PriorityHigh, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require(err == nil, "RegisterInterval should not error")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	<-done

	assert.True(t, atomic.LoadInt32(&calls) >= 1)
}

func TestRegisterJobRejectsUnknownPriority(t *testing.T) {
	s := New(noopLogger{})
	err := s.RegisterJob("bad", "critical", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}
