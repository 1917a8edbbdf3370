package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded SQL backend.
type SQLiteStore struct {
	ttl time.Duration
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_cache (
			instance_id TEXT PRIMARY KEY,
			snapshot BLOB NOT NULL,
			written_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		ttl: ttl,
		log: slog.With("component", "sqlite-store"),
	}, nil
}

// Save stores a snapshot record for the instance.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot, instanceID string) error {
	var value bytes.Buffer
	if err := gob.NewEncoder(&value).Encode(snap); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO catalog_cache (instance_id, snapshot, written_at)
		VALUES (?, ?, ?)
	`, instanceID, value.Bytes(), snap.WrittenAt.Unix())
	return err
}

// Load retrieves the instance's snapshot, applying TTL semantics.
func (s *SQLiteStore) Load(ctx context.Context, instanceID string, allowStale bool) (*Snapshot, error) {
	var blob []byte
	var writtenAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot, written_at FROM catalog_cache WHERE instance_id = ?
	`, instanceID).Scan(&blob, &writtenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&snap); err != nil {
		s.log.Error("failed to decode snapshot", "error", err)
		return nil, nil
	}

	if time.Since(time.Unix(writtenAt, 0)) >= s.ttl {
		if allowStale {
			s.log.Warn("loading stale snapshot",
				"instance", instanceID,
				"written_at", snap.WrittenAt)
			return &snap, nil
		}
		s.log.Info("snapshot expired, deleting", "instance", instanceID)
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM catalog_cache WHERE instance_id = ?", instanceID); err != nil {
			s.log.Error("failed to delete expired snapshot", "error", err)
		}
		return nil, nil
	}

	return &snap, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
