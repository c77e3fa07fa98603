// Package monitoring - journal.go persists per-operation usage rows.
//
// DESIGN: The journal is an append-only sqlite table of completed operations
// (credits, latency, outcome) for after-the-fact billing audits and the
// /usage/recent endpoint. It is observability only: journal failures are
// logged and never fail a request, and the gateway is fully functional with
// the journal disabled.
package monitoring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// UsageEvent is one journal row.
type UsageEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Transport string    `json:"transport"`
	Status    string    `json:"status"`
	Credits   float64   `json:"credits"`
	LatencyMS int64     `json:"latency_ms"`
}

// Journal records usage events to a sqlite database.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening usage journal: %w", err)
	}

	// Single writer; sqlite serializes concurrent writes poorly otherwise.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	operation  TEXT NOT NULL,
	transport  TEXT NOT NULL,
	status     TEXT NOT NULL,
	credits    REAL NOT NULL,
	latency_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_ts ON usage_events(ts);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating usage journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one usage event. Errors are logged, not returned: the
// journal must never fail an operation.
func (j *Journal) Record(ev UsageEvent) {
	if j == nil {
		return
	}
	_, err := j.db.Exec(
		`INSERT INTO usage_events (ts, operation, transport, status, credits, latency_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UnixMilli(), ev.Operation, ev.Transport, ev.Status, ev.Credits, ev.LatencyMS,
	)
	if err != nil {
		log.Warn().Err(err).Str("operation", ev.Operation).Msg("usage journal write failed")
	}
}

// Recent returns the most recent n usage events, newest first.
func (j *Journal) Recent(n int) ([]UsageEvent, error) {
	if j == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 50
	}

	rows, err := j.db.Query(
		`SELECT ts, operation, transport, status, credits, latency_ms FROM usage_events ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying usage journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []UsageEvent
	for rows.Next() {
		var ev UsageEvent
		var ts int64
		if err := rows.Scan(&ts, &ev.Operation, &ev.Transport, &ev.Status, &ev.Credits, &ev.LatencyMS); err != nil {
			return nil, fmt.Errorf("scanning usage event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
