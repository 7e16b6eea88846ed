package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/syntrise/dropcore/internal/dropcore"
)

// SQLiteStore backs the KV, LedgerStore, and QueueStore interfaces with
// a single on-device database file.
type SQLiteStore struct {
	db *sql.DB

	// Serializes writers; modernc sqlite allows one writer at a time and
	// the ledger append path must never race on the chain tail anyway.
	mu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger (
	seq INTEGER PRIMARY KEY,
	ts INTEGER NOT NULL,
	op TEXT NOT NULL,
	resource TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	meta BLOB,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_resource ON ledger(resource) WHERE resource != '';
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON ledger(ts);

CREATE TABLE IF NOT EXISTS local_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	doc BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_user ON local_records(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS retry_queue (
	record_id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL
);
`

// OpenSQLite opens (creating if needed) the store at path. Use ":memory:"
// in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma %q: %v", dropcore.ErrStorageUnavailable, pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema: %v", dropcore.ErrStorageUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---------- KV ----------

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return v, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, val)
	if err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

// ---------- Ledger ----------

func (s *SQLiteStore) AppendRow(ctx context.Context, row LedgerRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger(seq, ts, op, resource, content_hash, meta, prev_hash, hash)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Seq, row.TS, row.Op, row.Resource, row.ContentHash, row.MetaJSON, row.PrevHash, row.Hash)
	if err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) ScanRows(ctx context.Context, fn func(LedgerRow) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ts, op, resource, content_hash, meta, prev_hash, hash
		 FROM ledger ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r LedgerRow
		if err := rows.Scan(&r.Seq, &r.TS, &r.Op, &r.Resource, &r.ContentHash,
			&r.MetaJSON, &r.PrevHash, &r.Hash); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) RowsByResource(ctx context.Context, resource string) ([]LedgerRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ts, op, resource, content_hash, meta, prev_hash, hash
		 FROM ledger WHERE resource = ? ORDER BY seq ASC`, resource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []LedgerRow
	for rows.Next() {
		var r LedgerRow
		if err := rows.Scan(&r.Seq, &r.TS, &r.Op, &r.Resource, &r.ContentHash,
			&r.MetaJSON, &r.PrevHash, &r.Hash); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TailRow(ctx context.Context) (LedgerRow, bool, error) {
	var r LedgerRow
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, ts, op, resource, content_hash, meta, prev_hash, hash
		 FROM ledger ORDER BY seq DESC LIMIT 1`).
		Scan(&r.Seq, &r.TS, &r.Op, &r.Resource, &r.ContentHash, &r.MetaJSON, &r.PrevHash, &r.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerRow{}, false, nil
	}
	if err != nil {
		return LedgerRow{}, false, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return r, true, nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoffNanos int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger WHERE ts < ?`, cutoffNanos)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---------- Records ----------

func (s *SQLiteStore) SaveRecord(ctx context.Context, row RecordRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_records(id, user_id, updated_at, deleted, doc) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id = excluded.user_id, updated_at = excluded.updated_at,
		   deleted = excluded.deleted, doc = excluded.doc`,
		row.ID, row.UserID, row.UpdatedAt, row.Deleted, row.Doc)
	if err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (RecordRow, error) {
	var r RecordRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, updated_at, deleted, doc FROM local_records WHERE id = ?`, id).
		Scan(&r.ID, &r.UserID, &r.UpdatedAt, &r.Deleted, &r.Doc)
	if errors.Is(err, sql.ErrNoRows) {
		return RecordRow{}, ErrNotFound
	}
	if err != nil {
		return RecordRow{}, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, userID string) ([]RecordRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, updated_at, deleted, doc FROM local_records
		 WHERE user_id = ? AND deleted = 0 ORDER BY updated_at DESC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []RecordRow
	for rows.Next() {
		var r RecordRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.UpdatedAt, &r.Deleted, &r.Doc); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

// ---------- Retry queue ----------

func (s *SQLiteStore) UpsertTask(ctx context.Context, row QueueRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_queue(record_id, action, enqueued_at) VALUES(?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET action = excluded.action, enqueued_at = excluded.enqueued_at`,
		row.RecordID, row.Action, row.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]QueueRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, action, enqueued_at FROM retry_queue ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []QueueRow
	for rows.Next() {
		var r QueueRow
		if err := rows.Scan(&r.RecordID, &r.Action, &r.EnqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemoveTask(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}
