package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is the networked backend, for deployments where several
// hosts mount the same catalog and share one cache.
type PostgresStore struct {
	ttl time.Duration
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the cache table
// exists.
func NewPostgresStore(dsn string, ttl time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_cache (
			instance_id TEXT PRIMARY KEY,
			snapshot BYTEA NOT NULL,
			written_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &PostgresStore{
		db:  db,
		ttl: ttl,
		log: slog.With("component", "postgres-store"),
	}, nil
}

// Save stores a snapshot record for the instance.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot, instanceID string) error {
	var value bytes.Buffer
	if err := gob.NewEncoder(&value).Encode(snap); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_cache (instance_id, snapshot, written_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, written_at = EXCLUDED.written_at
	`, instanceID, value.Bytes(), snap.WrittenAt)
	return err
}

// Load retrieves the instance's snapshot, applying TTL semantics.
func (s *PostgresStore) Load(ctx context.Context, instanceID string, allowStale bool) (*Snapshot, error) {
	var blob []byte
	var writtenAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot, written_at FROM catalog_cache WHERE instance_id = $1
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

	if time.Since(writtenAt) >= s.ttl {
		if allowStale {
			s.log.Warn("loading stale snapshot",
				"instance", instanceID,
				"written_at", writtenAt)
			return &snap, nil
		}
		s.log.Info("snapshot expired, deleting", "instance", instanceID)
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM catalog_cache WHERE instance_id = $1", instanceID); err != nil {
			s.log.Error("failed to delete expired snapshot", "error", err)
		}
		return nil, nil
	}

	return &snap, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
