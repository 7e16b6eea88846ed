// Package storage defines the device-local persistence boundary: a
// small key/value capability for key material, an ordered append store
// for the audit ledger, and a per-record retry queue. Any embedded store
// with a secondary index satisfies these.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: not found")

// KV is get/put/delete by key. Get returns ErrNotFound when absent.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}

// LedgerRow is the persisted shape of one audit entry. Meta is stored
// pre-serialized so the store stays schema-agnostic about allowed keys.
type LedgerRow struct {
	Seq         uint64
	TS          int64 // unix nanos
	Op          string
	Resource    string
	ContentHash string
	MetaJSON    []byte
	PrevHash    string
	Hash        string
}

// LedgerStore persists the hash chain in sequence order.
type LedgerStore interface {
	AppendRow(ctx context.Context, row LedgerRow) error
	// ScanRows visits retained rows in ascending sequence order.
	ScanRows(ctx context.Context, fn func(LedgerRow) error) error
	RowsByResource(ctx context.Context, resource string) ([]LedgerRow, error)
	// TailRow returns the highest-sequence row, or ok=false on an empty chain.
	TailRow(ctx context.Context) (row LedgerRow, ok bool, err error)
	// DeleteBefore removes rows with TS older than cutoff and reports the count.
	DeleteBefore(ctx context.Context, cutoffNanos int64) (int, error)
}

// RecordRow is the local cache of one encrypted record. Doc holds the
// serialized record with its sensitive fields already sealed; the store
// never sees plaintext.
type RecordRow struct {
	ID        string
	UserID    string
	UpdatedAt int64 // unix seconds
	Deleted   bool
	Doc       []byte
}

// RecordStore is the device-local record cache. Save implements
// last-write-wins per id.
type RecordStore interface {
	SaveRecord(ctx context.Context, row RecordRow) error
	GetRecord(ctx context.Context, id string) (RecordRow, error)
	// ListRecords returns rows for userID newest-first, excluding deleted ones.
	ListRecords(ctx context.Context, userID string) ([]RecordRow, error)
	DeleteRecord(ctx context.Context, id string) error
}

// QueueRow is one pending retry. Later rows for the same record id
// replace earlier ones.
type QueueRow struct {
	RecordID   string
	Action     string
	EnqueuedAt int64 // unix seconds
}

// QueueStore is the durable retry queue. Upsert implements
// last-write-wins per record id.
type QueueStore interface {
	UpsertTask(ctx context.Context, row QueueRow) error
	ListTasks(ctx context.Context) ([]QueueRow, error)
	RemoveTask(ctx context.Context, recordID string) error
}
