package storage

import (
	"context"
	"bytes"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("got %q, want v2", got)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}
}

func TestLedgerRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.TailRow(ctx); err != nil || ok {
		t.Fatalf("empty tail = (%v, %v), want (false, nil)", ok, err)
	}
	base := time.Now().UnixNano()
	for i := uint64(1); i <= 3; i++ {
		row := LedgerRow{
			Seq: i, TS: base + int64(i), Op: "create",
			Resource: "r1", PrevHash: "p", Hash: "h",
		}
		if err := s.AppendRow(ctx, row); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	tail, ok, err := s.TailRow(ctx)
	if err != nil || !ok || tail.Seq != 3 {
		t.Fatalf("tail = (%+v, %v, %v), want seq 3", tail, ok, err)
	}
	var seqs []uint64
	if err := s.ScanRows(ctx, func(r LedgerRow) error {
		seqs = append(seqs, r.Seq)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("scan order = %v", seqs)
	}
	byRes, err := s.RowsByResource(ctx, "r1")
	if err != nil || len(byRes) != 3 {
		t.Fatalf("by resource = (%d, %v)", len(byRes), err)
	}
	removed, err := s.DeleteBefore(ctx, base+3)
	if err != nil || removed != 2 {
		t.Fatalf("delete before = (%d, %v), want 2", removed, err)
	}
}

func TestRecordCache(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.GetRecord(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	rows := []RecordRow{
		{ID: "a", UserID: "u1", UpdatedAt: 10, Doc: []byte("da")},
		{ID: "b", UserID: "u1", UpdatedAt: 30, Doc: []byte("db")},
		{ID: "c", UserID: "u1", UpdatedAt: 20, Deleted: true, Doc: []byte("dc")},
		{ID: "d", UserID: "u2", UpdatedAt: 40, Doc: []byte("dd")},
	}
	for _, r := range rows {
		if err := s.SaveRecord(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}
	// Last write wins per id.
	if err := s.SaveRecord(ctx, RecordRow{ID: "a", UserID: "u1", UpdatedAt: 50, Doc: []byte("da2")}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.GetRecord(ctx, "a")
	if err != nil || !bytes.Equal(got.Doc, []byte("da2")) {
		t.Fatalf("get a = (%+v, %v), want updated doc", got, err)
	}
	list, err := s.ListRecords(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// "c" is tombstoned, "d" belongs to another user; newest first.
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("list = %+v, want [a b]", list)
	}
	if err := s.DeleteRecord(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetRecord(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
}

func TestQueueLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertTask(ctx, QueueRow{RecordID: "a", Action: "upsert", EnqueuedAt: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertTask(ctx, QueueRow{RecordID: "a", Action: "delete", EnqueuedAt: 2}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Action != "delete" {
		t.Fatalf("tasks = %+v, want single delete", tasks)
	}
	if err := s.RemoveTask(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	tasks, _ = s.ListTasks(ctx)
	if len(tasks) != 0 {
		t.Fatalf("expected empty queue, got %+v", tasks)
	}
}
