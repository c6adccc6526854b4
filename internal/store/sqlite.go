// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/finfleet/policyd/internal/device"
)

const schemaVersion = 1

// SqliteStore implements Repository on a single SQLite database. WAL mode
// and busy_timeout are set via DSN pragmas so they apply to every pooled
// connection.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens (and if necessary creates) the database at dbPath
// and migrates the schema.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("policy store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		serial TEXT PRIMARY KEY,
		state  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		serial     TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state   TEXT NOT NULL,
		event      TEXT NOT NULL,
		actor      TEXT NOT NULL,
		ts         TEXT NOT NULL,
		txn        TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_serial ON audit(serial, seq);

	CREATE TABLE IF NOT EXISTS commands (
		id         TEXT PRIMARY KEY,
		seq        INTEGER NOT NULL,
		serial     TEXT NOT NULL,
		command    TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		acked      INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_commands_serial ON commands(serial, seq);

	CREATE TABLE IF NOT EXISTS processed_txns (
		txn TEXT PRIMARY KEY
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) GetState(ctx context.Context, serial string) (device.State, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM devices WHERE serial = ?", serial).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return device.State(state), true, nil
}

func (s *SqliteStore) PutState(ctx context.Context, serial string, state device.State) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO devices(serial, state) VALUES(?, ?) ON CONFLICT(serial) DO UPDATE SET state = excluded.state",
		serial, string(state))
	return err
}

func (s *SqliteStore) DeleteDevice(ctx context.Context, serial string) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE serial = ?", serial)
	if err != nil {
		return 0, 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, 0, err
	} else if n == 0 {
		return 0, 0, ErrNotFound
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM audit WHERE serial = ?", serial)
	if err != nil {
		return 0, 0, err
	}
	removedAudit, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM commands WHERE serial = ?", serial)
	if err != nil {
		return 0, 0, err
	}
	removedCommands, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return int(removedAudit), int(removedCommands), nil
}

func insertAudit(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, rec AuditRecord) error {
	var txn any
	if rec.TransactionID != "" {
		txn = rec.TransactionID
	}
	_, err := ex.ExecContext(ctx,
		"INSERT INTO audit(serial, from_state, to_state, event, actor, ts, txn) VALUES(?, ?, ?, ?, ?, ?, ?)",
		rec.Serial, string(rec.FromState), string(rec.ToState), string(rec.Event),
		rec.Actor, rec.Timestamp.UTC().Format(time.RFC3339Nano), txn)
	return err
}

func (s *SqliteStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	return insertAudit(ctx, s.db, rec)
}

func (s *SqliteStore) ListAudit(ctx context.Context, serial string) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT serial, from_state, to_state, event, actor, ts, txn FROM audit WHERE serial = ? ORDER BY seq",
		serial)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]AuditRecord, 0)
	for rows.Next() {
		var rec AuditRecord
		var from, to, event, ts string
		var txn sql.NullString
		if err := rows.Scan(&rec.Serial, &from, &to, &event, &rec.Actor, &ts, &txn); err != nil {
			return nil, err
		}
		rec.FromState = device.State(from)
		rec.ToState = device.State(to)
		rec.Event = device.EventType(event)
		rec.TransactionID = txn.String
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("policy store: corrupt audit timestamp %q: %w", ts, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertCommand(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, entry CommandEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	acked := 0
	if entry.Acknowledged {
		acked = 1
	}
	_, err = ex.ExecContext(ctx,
		"INSERT INTO commands(id, seq, serial, command, payload, created_at, acked) VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM commands), ?, ?, ?, ?, ?)",
		entry.ID, entry.Serial, string(entry.Command), string(payload),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano), acked)
	return err
}

func (s *SqliteStore) EnqueueCommand(ctx context.Context, entry CommandEntry) error {
	return insertCommand(ctx, s.db, entry)
}

func (s *SqliteStore) ListPendingCommands(ctx context.Context, serial string) ([]CommandEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, serial, command, payload, created_at, acked FROM commands WHERE serial = ? AND acked = 0 ORDER BY seq",
		serial)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]CommandEntry, 0)
	for rows.Next() {
		entry, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (CommandEntry, error) {
	var entry CommandEntry
	var command, payload, createdAt string
	var acked int
	if err := row.Scan(&entry.ID, &entry.Serial, &command, &payload, &createdAt, &acked); err != nil {
		return CommandEntry{}, err
	}
	entry.Command = device.Command(command)
	entry.Acknowledged = acked != 0
	if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
		return CommandEntry{}, fmt.Errorf("policy store: corrupt command payload: %w", err)
	}
	var err error
	entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return CommandEntry{}, fmt.Errorf("policy store: corrupt command timestamp %q: %w", createdAt, err)
	}
	return entry, nil
}

func (s *SqliteStore) AckCommand(ctx context.Context, id string) (CommandEntry, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE commands SET acked = 1 WHERE id = ?", id)
	if err != nil {
		return CommandEntry{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return CommandEntry{}, err
	} else if n == 0 {
		return CommandEntry{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT id, serial, command, payload, created_at, acked FROM commands WHERE id = ?", id)
	return scanCommand(row)
}

func (s *SqliteStore) MarkTxn(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_txns(txn) VALUES(?) ON CONFLICT(txn) DO NOTHING", id)
	return err
}

func (s *SqliteStore) HasTxn(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM processed_txns WHERE txn = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SqliteStore) ListDevices(ctx context.Context) ([]DeviceStatus, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT serial, state FROM devices ORDER BY serial")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanDevices(rows)
}

func (s *SqliteStore) ScanDevicesInStates(ctx context.Context, states []device.State) ([]DeviceStatus, error) {
	if len(states) == 0 {
		return []DeviceStatus{}, nil
	}
	query := "SELECT serial, state FROM devices WHERE state IN (?" // at least one
	args := []any{string(states[0])}
	for _, st := range states[1:] {
		query += ", ?"
		args = append(args, string(st))
	}
	query += ") ORDER BY serial"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanDevices(rows)
}

func scanDevices(rows *sql.Rows) ([]DeviceStatus, error) {
	out := make([]DeviceStatus, 0)
	for rows.Next() {
		var d DeviceStatus
		var state string
		if err := rows.Scan(&d.Serial, &state); err != nil {
			return nil, err
		}
		d.State = device.State(state)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SqliteStore) CommitTransition(ctx context.Context, tr Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO devices(serial, state) VALUES(?, ?) ON CONFLICT(serial) DO UPDATE SET state = excluded.state",
		tr.Serial, string(tr.NewState)); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, tr.Audit); err != nil {
		return err
	}
	if tr.Command != nil {
		if err := insertCommand(ctx, tx, *tr.Command); err != nil {
			return err
		}
	}
	if tr.TransactionID != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO processed_txns(txn) VALUES(?) ON CONFLICT(txn) DO NOTHING", tr.TransactionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
