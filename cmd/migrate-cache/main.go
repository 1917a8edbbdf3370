// migrate-cache copies snapshot cache records from an embedded SQLite
// cache into PostgreSQL, for moving a single-host deployment onto a
// shared cache without losing the bootstrap snapshots.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func main() {
	sqlitePath := flag.String("sqlite-path", "", "Path to the SQLite cache file")
	pgURL := flag.String("pg-url", "", "PostgreSQL connection URL")
	flag.Parse()

	if *sqlitePath == "" || *pgURL == "" {
		fmt.Fprintf(os.Stderr, "Usage: migrate-cache --sqlite-path /path/to/cache.db --pg-url postgres://...\n")
		os.Exit(1)
	}

	sqliteDB, err := sql.Open("sqlite", *sqlitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteDB.Close()

	if err := sqliteDB.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite: %v", err)
	}
	log.Println("Connected to SQLite")

	pgDB, err := sql.Open("pgx", *pgURL)
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL: %v", err)
	}
	defer pgDB.Close()

	if err := pgDB.Ping(); err != nil {
		log.Fatalf("Failed to ping PostgreSQL: %v", err)
	}
	log.Println("Connected to PostgreSQL")

	if _, err := pgDB.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_cache (
			instance_id TEXT PRIMARY KEY,
			snapshot BYTEA NOT NULL,
			written_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		log.Fatalf("Failed to create target table: %v", err)
	}

	rows, err := sqliteDB.Query("SELECT instance_id, snapshot, written_at FROM catalog_cache")
	if err != nil {
		log.Fatalf("Failed to read source cache: %v", err)
	}
	defer rows.Close()

	tx, err := pgDB.Begin()
	if err != nil {
		log.Fatalf("Failed to start transaction: %v", err)
	}
	defer tx.Rollback()

	migrated := 0
	for rows.Next() {
		var instanceID string
		var blob []byte
		var writtenAt int64
		if err := rows.Scan(&instanceID, &blob, &writtenAt); err != nil {
			log.Fatalf("Failed to scan row: %v", err)
		}

		// Existing records win: the shared cache may already hold a
		// newer snapshot written by another host.
		res, err := tx.Exec(`
			INSERT INTO catalog_cache (instance_id, snapshot, written_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (instance_id) DO UPDATE
			SET snapshot = EXCLUDED.snapshot, written_at = EXCLUDED.written_at
			WHERE catalog_cache.written_at < EXCLUDED.written_at
		`, instanceID, blob, time.Unix(writtenAt, 0))
		if err != nil {
			log.Fatalf("Failed to insert record for %s: %v", instanceID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			migrated++
		}
		log.Printf("Processed instance %s (written %s)", instanceID, time.Unix(writtenAt, 0).Format(time.RFC3339))
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Failed while iterating source rows: %v", err)
	}

	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}
	log.Printf("Migration complete: %d record(s) written", migrated)
}
