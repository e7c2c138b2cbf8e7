// Package ledger implements the C6 write-ahead-logged embedded relational
// ledger: every terminal pipeline outcome writes a telemetry event
// unconditionally, and a behavioral event additionally when C2's
// determinism gate reports the run reproducible. Writes for one ledger
// handle are serialized through a single writer goroutine (message-passing,
// not a mutex around the *sql.DB handle), giving total ordering within a
// handle and best-effort ordering across concurrent handles.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// DriverSQLite and DriverPostgres name the two supported database/sql
// drivers. Open selects between them based on whether a DATABASE_URL is
// configured, mirroring the teacher's dual-backend store convention.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open opens the ledger's backing database: Postgres via lib/pq when
// databaseURL is non-empty, otherwise an embedded modernc.org/sqlite file
// at path. It returns the opened handle and the driver name Ledger needs
// to pick the right SQL placeholder style.
func Open(databaseURL, sqlitePath string) (*sql.DB, string, error) {
	if databaseURL != "" {
		db, err := sql.Open(DriverPostgres, databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("ledger: open postgres: %w", err)
		}
		return db, DriverPostgres, nil
	}
	db, err := sql.Open(DriverSQLite, sqlitePath)
	if err != nil {
		return nil, "", fmt.Errorf("ledger: open sqlite: %w", err)
	}
	return db, DriverSQLite, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	event_id         TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL,
	fingerprint_hash TEXT NOT NULL,
	reproducible     BOOLEAN NOT NULL,
	signal_type      TEXT NOT NULL,
	failure_class    TEXT NOT NULL,
	summary          TEXT NOT NULL,
	behavioral       BOOLEAN NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	schema_version   TEXT NOT NULL
);
`

type writeJob struct {
	ctx   context.Context
	event contracts.LedgerEvent
	reply chan error
}

// Ledger owns one *sql.DB handle and the single goroutine permitted to
// write through it.
type Ledger struct {
	db      *sql.DB
	driver  string
	writeCh chan writeJob
	stopped chan struct{}
}

// New initializes the ledger schema and starts its writer goroutine.
func New(db *sql.DB, driver string) (*Ledger, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}
	l := &Ledger{
		db:      db,
		driver:  driver,
		writeCh: make(chan writeJob),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *Ledger) run() {
	defer close(l.stopped)
	for job := range l.writeCh {
		job.reply <- l.insert(job.ctx, job.event)
	}
}

// Close stops the writer goroutine and closes the database handle. It
// blocks until every queued write has been serviced.
func (l *Ledger) Close() error {
	close(l.writeCh)
	<-l.stopped
	return l.db.Close()
}

// Append enqueues one LedgerEvent for the writer goroutine and blocks for
// its result, so callers observe write failures synchronously without
// holding a lock on the shared database handle themselves.
func (l *Ledger) Append(ctx context.Context, event contracts.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	select {
	case l.writeCh <- writeJob{ctx: ctx, event: event, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordOutcome writes the telemetry copy of event unconditionally, and a
// second, behavioral copy (event_id suffixed "-behavioral") iff
// event.Reproducible is true. Only the behavioral copy is permitted to
// feed the memory system per spec §6.
func (l *Ledger) RecordOutcome(ctx context.Context, event contracts.LedgerEvent) error {
	telemetry := event
	telemetry.Behavioral = false
	if err := l.Append(ctx, telemetry); err != nil {
		return fmt.Errorf("ledger: telemetry write: %w", err)
	}

	if !event.Reproducible {
		return nil
	}

	behavioral := event
	behavioral.EventID = event.EventID + "-behavioral"
	behavioral.Behavioral = true
	if err := l.Append(ctx, behavioral); err != nil {
		return fmt.Errorf("ledger: behavioral write: %w", err)
	}
	return nil
}

func (l *Ledger) insert(ctx context.Context, event contracts.LedgerEvent) error {
	query := insertQuery(l.driver)
	_, err := l.db.ExecContext(ctx, query,
		event.EventID,
		event.RequestID,
		event.FingerprintHash,
		event.Reproducible,
		string(event.SignalType),
		event.FailureClass.String(),
		event.Summary,
		event.Behavioral,
		event.CreatedAt,
		event.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert event %s: %w", event.EventID, err)
	}
	return nil
}

func insertQuery(driver string) string {
	cols := "event_id, request_id, fingerprint_hash, reproducible, signal_type, failure_class, summary, behavioral, created_at, schema_version"
	if driver == DriverPostgres {
		return fmt.Sprintf(
			"INSERT INTO ledger_events (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)", cols,
		)
	}
	return fmt.Sprintf(
		"INSERT INTO ledger_events (%s) VALUES (?,?,?,?,?,?,?,?,?,?)", cols,
	)
}

// EventsForRequest returns every event recorded for requestID, in the
// order written. Primarily a test and operator-tooling helper; the
// pipeline itself only ever writes.
func (l *Ledger) EventsForRequest(ctx context.Context, requestID string) ([]contracts.LedgerEvent, error) {
	query := "SELECT event_id, request_id, fingerprint_hash, reproducible, signal_type, failure_class, summary, behavioral, created_at, schema_version FROM ledger_events WHERE request_id = " + placeholderFor(l.driver, 1)
	rows, err := l.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events for %s: %w", requestID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []contracts.LedgerEvent
	for rows.Next() {
		var e contracts.LedgerEvent
		var signalType, failureClass string
		if err := rows.Scan(
			&e.EventID, &e.RequestID, &e.FingerprintHash, &e.Reproducible,
			&signalType, &failureClass, &e.Summary, &e.Behavioral, &e.CreatedAt, &e.SchemaVersion,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan event: %w", err)
		}
		e.SignalType = contracts.SignalType(signalType)
		if err := (&e.FailureClass).UnmarshalJSON([]byte(`"` + failureClass + `"`)); err != nil {
			return nil, fmt.Errorf("ledger: decode failure_class %q: %w", failureClass, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate events for %s: %w", requestID, err)
	}
	return events, nil
}

func placeholderFor(driver string, n int) string {
	if driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
