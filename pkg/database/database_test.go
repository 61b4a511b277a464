package database

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriteBufferFlush(t *testing.T) {
	db := newTestDB(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	db.WriteBuffer.RecordSessionEvent("AB12", "created", 1, at)
	db.WriteBuffer.RecordSessionEvent("AB12", "started", 2, at.Add(time.Second))
	db.WriteBuffer.RecordSessionEvent("CD34", "created", 1, at)
	db.WriteBuffer.Flush()

	if n := db.WriteBuffer.Pending(); n != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", n)
	}

	events, err := db.ListSessionEvents("AB12")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != "created" || events[1].Kind != "started" {
		t.Errorf("unexpected order: %q, %q", events[0].Kind, events[1].Kind)
	}
	if events[1].Players != 2 {
		t.Errorf("expected 2 players, got %d", events[1].Players)
	}
	if events[0].CreatedAt != at.UnixMilli() {
		t.Errorf("expected created_at %d, got %d", at.UnixMilli(), events[0].CreatedAt)
	}

	count, err := db.CountSessionEvents("created")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 created events, got %d", count)
	}
}

func TestCloseFlushesPendingEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	db.WriteBuffer.RecordSessionEvent("AB12", "created", 1, time.Now())
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.ListSessionEvents("AB12")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after reopen, got %d", len(events))
	}
}

func TestPruneSessionEvents(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	db.WriteBuffer.RecordSessionEvent("OLD1", "created", 1, now.Add(-48*time.Hour))
	db.WriteBuffer.RecordSessionEvent("NEW1", "created", 1, now)
	db.WriteBuffer.Flush()

	removed, err := db.PruneSessionEvents(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned event, got %d", removed)
	}

	count, err := db.CountSessionEvents("created")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining event, got %d", count)
	}
}

func TestSnowflakeMonotonic(t *testing.T) {
	sf := NewSnowflake(0, 5)
	ms := int64(1000)
	sf.now = func() int64 { return ms }

	prev := sf.NextID()
	for i := 0; i < 5000; i++ {
		if i == 2500 {
			ms = 900 // clock steps backwards
		}
		id := sf.NextID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d at step %d", id, prev, i)
		}
		prev = id
	}
}

func TestSnowflakeWorkerIDBounds(t *testing.T) {
	if sf := NewSnowflake(0, 5000); sf.workerID != 0 {
		t.Errorf("expected out-of-range worker id to reset to 0, got %d", sf.workerID)
	}
}
