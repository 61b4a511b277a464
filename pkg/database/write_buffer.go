package database

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// WriteBuffer batches history inserts so the lobby never waits on SQLite
type WriteBuffer struct {
	db            *DB
	flushInterval time.Duration

	mu      sync.Mutex
	pending []SessionEvent

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriteBuffer creates a write buffer and starts its flush loop
func NewWriteBuffer(db *DB, flushInterval time.Duration) *WriteBuffer {
	wb := &WriteBuffer{
		db:            db,
		flushInterval: flushInterval,
		pending:       make([]SessionEvent, 0, 64),
		shutdown:      make(chan struct{}),
	}

	wb.wg.Add(1)
	go wb.flushLoop()

	return wb
}

// RecordSessionEvent queues one session lifecycle event
func (wb *WriteBuffer) RecordSessionEvent(sessionCode, kind string, players int, at time.Time) {
	wb.mu.Lock()
	wb.pending = append(wb.pending, SessionEvent{
		ID:          wb.db.snowflake.NextID(),
		SessionCode: sessionCode,
		Kind:        kind,
		Players:     players,
		CreatedAt:   at.UnixMilli(),
	})
	wb.mu.Unlock()
}

// Pending returns the number of queued events
func (wb *WriteBuffer) Pending() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.pending)
}

// Flush writes queued events immediately
func (wb *WriteBuffer) Flush() {
	wb.flush()
}

// Close stops the flush loop after a final flush
func (wb *WriteBuffer) Close() {
	wb.closeOnce.Do(func() {
		close(wb.shutdown)
		wb.wg.Wait()
	})
}

func (wb *WriteBuffer) flushLoop() {
	defer wb.wg.Done()

	ticker := time.NewTicker(wb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wb.flush()
		case <-wb.shutdown:
			wb.flush()
			return
		}
	}
}

// flush writes all queued events in a single transaction. On failure the
// batch is put back for the next tick.
func (wb *WriteBuffer) flush() {
	wb.mu.Lock()
	batch := wb.pending
	wb.pending = make([]SessionEvent, 0, 64)
	wb.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	if err := wb.insert(batch); err != nil {
		wb.db.logger.Error("failed to flush session events",
			zap.Int("events", len(batch)),
			zap.Error(err))
		wb.mu.Lock()
		wb.pending = append(batch, wb.pending...)
		wb.mu.Unlock()
		return
	}

	wb.db.logger.Debug("flushed session events",
		zap.Int("events", len(batch)),
		zap.Duration("took", time.Since(start)))
}

func (wb *WriteBuffer) insert(batch []SessionEvent) error {
	tx, err := wb.db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO SessionEvent (id, session_code, kind, players, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.ID, e.SessionCode, e.Kind, e.Players, e.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}
