package userstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

// AuditLog is an append-only record of authentication and
// connection-acquire outcomes per username, backed by SQLite so an
// operator can inspect login history without parsing logs.
//
// Grounded on ManuGH-xg2g's internal/library.Store: modernc.org/sqlite
// opened with WAL + busy_timeout pragmas, schema applied via a plain
// CREATE TABLE IF NOT EXISTS exec.
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens (or creates) the audit database at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("userstore: open audit log: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: ping audit log: %w", err)
	}
	a := &AuditLog{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *AuditLog) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS auth_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		event TEXT NOT NULL CHECK(event IN ('auth_ok', 'auth_denied', 'stream_acquired', 'stream_rejected')),
		remote_addr TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_events_username ON auth_events(username);
	CREATE INDEX IF NOT EXISTS idx_auth_events_occurred_at ON auth_events(occurred_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Record appends one event for username.
func (a *AuditLog) Record(username, event, remoteAddr string) {
	_, _ = a.db.ExecContext(context.Background(),
		`INSERT INTO auth_events (username, event, remote_addr, occurred_at) VALUES (?, ?, ?, ?)`,
		username, event, remoteAddr, time.Now().UTC().Format(time.RFC3339))
}

// Recent returns a username's most recent events, newest first, capped
// at limit rows.
func (a *AuditLog) Recent(ctx context.Context, username string, limit int) ([]AuthEvent, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT event, remote_addr, occurred_at FROM auth_events
		 WHERE username = ? ORDER BY id DESC LIMIT ?`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuthEvent
	for rows.Next() {
		var e AuthEvent
		var occurred string
		if err := rows.Scan(&e.Event, &e.RemoteAddr, &occurred); err != nil {
			return nil, err
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurred)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (a *AuditLog) Close() error { return a.db.Close() }

// AuthEvent is one recorded row from Recent.
type AuthEvent struct {
	Event      string
	RemoteAddr string
	OccurredAt time.Time
}

// AuditedStore wraps a Store with AuditLog recording on every
// authenticate/acquire decision, implementing the same surface
// internal/xtreamapi.UserStore expects.
type AuditedStore struct {
	*Store
	Audit *AuditLog
}

func (s *AuditedStore) Authenticate(username, password string) (*model.Credential, bool) {
	cred, ok := s.Store.Authenticate(username, password)
	if ok {
		s.Audit.Record(username, "auth_ok", "")
	} else {
		s.Audit.Record(username, "auth_denied", "")
	}
	return cred, ok
}

func (s *AuditedStore) Acquire(username string) bool {
	ok := s.Store.Acquire(username)
	if ok {
		s.Audit.Record(username, "stream_acquired", "")
	} else {
		s.Audit.Record(username, "stream_rejected", "")
	}
	return ok
}
