// Package persistence is the append-only audit trail backing the trading
// core: every order state transition, every periodic equity mark, and
// every submission that exhausted its retries is written to a local
// sqlite database so an operator can reconstruct what happened across a
// crash or restart.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id   TEXT NOT NULL,
	exchange_order_id INTEGER NOT NULL,
	symbol            TEXT NOT NULL,
	event_type        TEXT NOT NULL,
	detail            TEXT NOT NULL,
	occurred_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_cid ON order_events(client_order_id);

CREATE TABLE IF NOT EXISTS equity_snapshots (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	equity   TEXT NOT NULL,
	source   TEXT NOT NULL,
	taken_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	reason          TEXT NOT NULL,
	payload_json    TEXT NOT NULL,
	failed_at       INTEGER NOT NULL
);
`

// Store is a sqlite-backed implementation of core.IPersistence. Every
// write is a plain append; nothing is ever updated or deleted, so callers
// never race each other over row ownership.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, enables
// WAL so readers never block the append-only writer, and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("persistence: ping %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("persistence: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("persistence: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordOrderEvent appends one row to the order audit log.
func (s *Store) RecordOrderEvent(ctx context.Context, event core.OrderEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_events (client_order_id, exchange_order_id, symbol, event_type, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ClientOrderID, event.ExchangeOrderID, event.Symbol, event.EventType, event.Detail, event.OccurredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("persistence: record order event: %w", err)
	}
	return nil
}

// RecordEquitySnapshot appends one row to the equity time series.
func (s *Store) RecordEquitySnapshot(ctx context.Context, snapshot core.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_snapshots (equity, source, taken_at) VALUES (?, ?, ?)`,
		snapshot.Equity.String(), string(snapshot.Source), snapshot.TakenAt.UnixNano())
	if err != nil {
		return fmt.Errorf("persistence: record equity snapshot: %w", err)
	}
	return nil
}

// RecordDeadLetter appends one row for an order submission that
// exhausted its retries.
func (s *Store) RecordDeadLetter(ctx context.Context, entry core.DeadLetterEntry) error {
	payload, err := encodeIntent(entry.Payload)
	if err != nil {
		return fmt.Errorf("persistence: encode dead letter payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (client_order_id, symbol, reason, payload_json, failed_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ClientOrderID, entry.Symbol, entry.Reason, payload, entry.FailedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("persistence: record dead letter: %w", err)
	}
	return nil
}

// OrderEvents returns every event recorded for clientOrderID, oldest
// first.
func (s *Store) OrderEvents(ctx context.Context, clientOrderID string) ([]core.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_order_id, exchange_order_id, symbol, event_type, detail, occurred_at
		 FROM order_events WHERE client_order_id = ? ORDER BY id ASC`, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("persistence: query order events: %w", err)
	}
	defer rows.Close()

	var events []core.OrderEvent
	for rows.Next() {
		var e core.OrderEvent
		var occurredAtNanos int64
		if err := rows.Scan(&e.ClientOrderID, &e.ExchangeOrderID, &e.Symbol, &e.EventType, &e.Detail, &occurredAtNanos); err != nil {
			return nil, fmt.Errorf("persistence: scan order event: %w", err)
		}
		e.OccurredAt = time.Unix(0, occurredAtNanos).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestEquity returns the most recently recorded equity snapshot.
func (s *Store) LatestEquity(ctx context.Context) (core.EquitySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT equity, source, taken_at FROM equity_snapshots ORDER BY id DESC LIMIT 1`)

	var equityStr, source string
	var takenAtNanos int64
	if err := row.Scan(&equityStr, &source, &takenAtNanos); err != nil {
		if err == sql.ErrNoRows {
			return core.EquitySnapshot{}, nil
		}
		return core.EquitySnapshot{}, fmt.Errorf("persistence: scan latest equity: %w", err)
	}

	equity, err := decimal.NewFromString(equityStr)
	if err != nil {
		return core.EquitySnapshot{}, fmt.Errorf("persistence: parse equity %q: %w", equityStr, err)
	}
	return core.EquitySnapshot{
		Equity:  equity,
		Source:  core.DataSource(source),
		TakenAt: time.Unix(0, takenAtNanos).UTC(),
	}, nil
}

// DeadLetters returns every unresolved dead letter, oldest first.
func (s *Store) DeadLetters(ctx context.Context) ([]core.DeadLetterEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_order_id, symbol, reason, payload_json, failed_at FROM dead_letters ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("persistence: query dead letters: %w", err)
	}
	defer rows.Close()

	var entries []core.DeadLetterEntry
	for rows.Next() {
		var e core.DeadLetterEntry
		var payload string
		var failedAtNanos int64
		if err := rows.Scan(&e.ClientOrderID, &e.Symbol, &e.Reason, &payload, &failedAtNanos); err != nil {
			return nil, fmt.Errorf("persistence: scan dead letter: %w", err)
		}
		intent, err := decodeIntent(payload)
		if err != nil {
			return nil, fmt.Errorf("persistence: decode dead letter payload: %w", err)
		}
		e.Payload = intent
		e.FailedAt = time.Unix(0, failedAtNanos).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ core.IPersistence = (*Store)(nil)
