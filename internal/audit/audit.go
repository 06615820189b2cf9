// fleetwatch is a multi-process game-server supervisor.
// Copyright (C) 2026 The fleetwatch authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package audit is an append-only log of fleet-level events: processes
// spawning and exiting, crash-triggered restarts, configuration changes,
// and slave connections. It never stores process stdout/stderr — spec.md's
// non-goals exclude output persistence, only the supervisor's own
// decisions are recorded here.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Kinds of events the log records.
const (
	KindProcessSpawned    = "process.spawned"
	KindProcessExited     = "process.exited"
	KindRestartScheduled  = "restart.scheduled"
	KindConfigChanged     = "config.changed"
	KindSlaveConnected    = "slave.connected"
	KindSlaveDisconnected = "slave.disconnected"
)

// Event is one append-only audit record.
type Event struct {
	ID         string
	OccurredAt time.Time
	Kind       string
	ServerName string
	Detail     string
}

// Log wraps the audit database connection.
type Log struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the audit database at dbPath and runs
// its migration.
func Open(ctx context.Context, dbPath string) (*Log, error) {
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	log := &Log{conn: conn}
	if err := log.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return log, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.conn.Close()
}

func (l *Log) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		kind TEXT NOT NULL,
		server_name TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	)`
	if _, err := l.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit database: %w", err)
	}
	const index = `CREATE INDEX IF NOT EXISTS idx_events_server ON events(server_name, occurred_at)`
	if _, err := l.conn.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("migrate audit database: %w", err)
	}
	return nil
}

// Record appends one event to the log.
func (l *Log) Record(ctx context.Context, kind, serverName, detail string) error {
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO events (id, kind, server_name, detail) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), kind, serverName, detail)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// RecordProcessSpawned records a server starting, whether from auto_start,
// stdinInput, or a restart.
func (l *Log) RecordProcessSpawned(ctx context.Context, serverName, specialization string) error {
	return l.Record(ctx, KindProcessSpawned, serverName, fmt.Sprintf("specialization=%s", specialization))
}

// RecordProcessExited records a server exiting, with its exit code.
func (l *Log) RecordProcessExited(ctx context.Context, serverName string, code int) error {
	return l.Record(ctx, KindProcessExited, serverName, fmt.Sprintf("code=%d", code))
}

// RecordRestartScheduled records the supervisor scheduling a crash-triggered
// restart for serverName.
func (l *Log) RecordRestartScheduled(ctx context.Context, serverName string) error {
	return l.Record(ctx, KindRestartScheduled, serverName, "")
}

// RecordConfigChanged records a configChange message being applied.
func (l *Log) RecordConfigChanged(ctx context.Context, summary string) error {
	return l.Record(ctx, KindConfigChanged, "", summary)
}

// RecordSlaveConnected records a master successfully dialing a slave.
func (l *Log) RecordSlaveConnected(ctx context.Context, address string) error {
	return l.Record(ctx, KindSlaveConnected, "", address)
}

// RecordSlaveDisconnected records a slave dial failing at boot.
func (l *Log) RecordSlaveDisconnected(ctx context.Context, address, reason string) error {
	return l.Record(ctx, KindSlaveDisconnected, "", fmt.Sprintf("%s: %s", address, reason))
}

// List returns events in reverse-chronological order, optionally filtered
// to a single server name, bounded to limit rows (0 means the default of
// 200).
func (l *Log) List(ctx context.Context, serverFilter string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT id, occurred_at, kind, server_name, detail FROM events
		WHERE (? = '' OR server_name = ?)
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?`

	rows, err := l.conn.QueryContext(ctx, query, serverFilter, serverFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Kind, &e.ServerName, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
