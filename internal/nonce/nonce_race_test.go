package nonce

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNextStrictlyIncreasingUnderConcurrency exercises P1: every value
// Next returns across many concurrent callers must be strictly greater
// than every value already returned, with no duplicates.
func TestNextStrictlyIncreasingUnderConcurrency(t *testing.T) {
	svc, err := NewService(filepath.Join(t.TempDir(), "nonce.json"))
	require.NoError(t, err)

	const goroutines = 50
	const perGoroutine = 200
	results := make(chan int64, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- svc.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, goroutines*perGoroutine)
	for v := range results {
		assert.False(t, seen[v], "nonce %d issued more than once", v)
		seen[v] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

// TestBumpToConcurrentWithNextNeverRegresses exercises the nonce-too-small
// recovery path under load: concurrent BumpTo calls racing with Next must
// never cause a Next call to return a value below a prior BumpTo minimum.
func TestBumpToConcurrentWithNextNeverRegresses(t *testing.T) {
	svc, err := NewService(filepath.Join(t.TempDir(), "nonce.json"))
	require.NoError(t, err)

	far := time.Now().Add(time.Hour).UnixMicro()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.BumpTo(far)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			svc.Next()
		}
	}()
	wg.Wait()

	assert.GreaterOrEqual(t, svc.Next(), far)
}

func TestNewServiceSeedsAtWallClockWhenNoSnapshot(t *testing.T) {
	before := time.Now().UnixMicro()
	svc, err := NewService(filepath.Join(t.TempDir(), "nonce.json"))
	require.NoError(t, err)

	n := svc.Next()
	assert.Greater(t, n, before)
}

func TestNewServiceRestoresPersistedHighWaterMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.json")
	first, err := NewService(path)
	require.NoError(t, err)
	first.BumpTo(time.Now().Add(24 * time.Hour).UnixMicro())
	bumped := first.Next()

	second, err := NewService(path)
	require.NoError(t, err)
	assert.Greater(t, second.Next(), bumped)
}
