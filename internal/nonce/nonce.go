// Package nonce issues strictly increasing nonces for Bitfinex's
// authenticated request signing and persists the high-water mark to disk
// so a process restart never reuses a value the exchange has already
// seen.
package nonce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/telemetry"
)

// snapshot is the on-disk representation, a single integer high-water
// mark written with write-then-rename atomicity so a crash mid-write
// never leaves a torn file behind.
type snapshot struct {
	LastNonce int64 `json:"last_nonce"`
}

// Service hands out nonces derived from wall-clock microseconds, bumped
// forward whenever persisted state or an exchange rejection demands it.
// Next is safe for concurrent use from every goroutine submitting
// authenticated requests.
type Service struct {
	path    string
	current int64 // atomic; last nonce handed out
}

// NewService loads the persisted high-water mark (if any) and seeds the
// generator at max(persisted, now-in-microseconds) so a clock that moved
// backward since the last run can never regress the sequence.
func NewService(path string) (*Service, error) {
	s := &Service{path: path}

	persisted, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("nonce: loading snapshot: %w", err)
	}

	now := time.Now().UnixMicro()
	start := persisted
	if now > start {
		start = now
	}
	atomic.StoreInt64(&s.current, start)
	return s, nil
}

// Next returns a value strictly greater than every value previously
// returned by this Service, and persists the new high-water mark.
func (s *Service) Next() int64 {
	next := atomic.AddInt64(&s.current, 1)
	// Persistence failure doesn't block issuing nonces — the next
	// successful save catches the sequence up, and `current` remains the
	// source of truth for the running process either way.
	_ = save(s.path, next)
	return next
}

// BumpTo forces the generator ahead of minimum, used after the exchange
// rejects a request as "nonce: small". The configured telemetry counter
// records every forced bump since a high bump rate indicates nonce
// state drifted from the exchange's view.
func (s *Service) BumpTo(minimum int64) {
	for {
		cur := atomic.LoadInt64(&s.current)
		if cur >= minimum {
			return
		}
		if atomic.CompareAndSwapInt64(&s.current, cur, minimum) {
			_ = save(s.path, minimum)
			telemetry.GetGlobalMetrics().RecordNonceBump(context.Background())
			return
		}
	}
}

func load(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("corrupt nonce snapshot at %s: %w", path, err)
	}
	return snap.LastNonce, nil
}

func save(path string, value int64) error {
	data, err := json.Marshal(snapshot{LastNonce: value})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".nonce-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

var _ core.INonceService = (*Service)(nil)
