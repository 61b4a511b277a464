package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite match history database
type DB struct {
	conn        *sql.DB // Read connection pool
	writeConn   *sql.DB // Dedicated write connection (1 connection)
	snowflake   *Snowflake
	logger      *zap.Logger
	WriteBuffer *WriteBuffer
}

// SessionEvent is one recorded lifecycle event of a game session
type SessionEvent struct {
	ID          int64
	SessionCode string
	Kind        string
	Players     int
	CreatedAt   int64 // Unix timestamp in milliseconds
}

// Applied to every pooled connection through the DSN
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// Open opens the SQLite database at the given path and applies pending
// migrations
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("database")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := openConn(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	writeConn, err := openConn(path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := runMigrations(conn, path, logger); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		snowflake: NewSnowflake(epoch, 0),
		logger:    logger,
	}
	db.WriteBuffer = NewWriteBuffer(db, 500*time.Millisecond)

	return db, nil
}

func openConn(path string) (*sql.DB, error) {
	params := url.Values{}
	for _, pragma := range connPragmas {
		params.Add("_pragma", pragma)
	}

	conn, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Close flushes pending writes and closes the database
func (db *DB) Close() error {
	db.WriteBuffer.Close()
	db.writeConn.Close()
	return db.conn.Close()
}

// ListSessionEvents returns the recorded events of one session, oldest first
func (db *DB) ListSessionEvents(sessionCode string) ([]SessionEvent, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_code, kind, players, created_at
		FROM SessionEvent
		WHERE session_code = ?
		ORDER BY created_at, id
	`, sessionCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionCode, &e.Kind, &e.Players, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountSessionEvents returns how many events of the given kind were recorded
func (db *DB) CountSessionEvents(kind string) (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM SessionEvent WHERE kind = ?", kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session events: %w", err)
	}
	return count, nil
}

// PruneSessionEvents deletes events recorded before the cutoff
func (db *DB) PruneSessionEvents(before time.Time) (int64, error) {
	result, err := db.writeConn.Exec("DELETE FROM SessionEvent WHERE created_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune session events: %w", err)
	}
	return result.RowsAffected()
}

// RecordSessionEvent queues a session lifecycle event on the write buffer
func (db *DB) RecordSessionEvent(sessionCode, kind string, players int, at time.Time) {
	db.WriteBuffer.RecordSessionEvent(sessionCode, kind, players, at)
}
