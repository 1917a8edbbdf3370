// Package store persists catalog snapshots so the filesystem can come
// back after a restart without waiting for a live scan. Records carry
// their write timestamp; an expired record is still readable when the
// caller explicitly allows stale data.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/plexmount/plexmount/internal/config"
	"github.com/plexmount/plexmount/internal/index"
)

// Snapshot is a serialized index plus its write timestamp.
type Snapshot struct {
	Entries   map[string]index.Entry
	Children  map[string][]string
	WrittenAt time.Time
}

// FromIndex captures an index into a snapshot stamped with now.
func FromIndex(ix *index.Index) *Snapshot {
	entries, children := ix.Export()
	return &Snapshot{
		Entries:   entries,
		Children:  children,
		WrittenAt: time.Now(),
	}
}

// Index rebuilds the index held by the snapshot.
func (s *Snapshot) Index() *index.Index {
	return index.FromMaps(s.Entries, s.Children)
}

// Store is the persistence contract shared by all backends.
//
// Load returns (nil, nil) on a miss. A record past its TTL is a miss
// unless allowStale is set; in the non-stale case the expired record is
// deleted as a side effect. Save and Load errors are for the caller to
// log — persistence failures must never take down the filesystem.
type Store interface {
	Save(ctx context.Context, snap *Snapshot, instanceID string) error
	Load(ctx context.Context, instanceID string, allowStale bool) (*Snapshot, error)
	Close() error
}

// Open constructs the backend selected by configuration. Selection
// happens once at startup; everything downstream sees only the Store
// interface.
func Open(cfg config.CacheConfig) (Store, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	switch cfg.Backend {
	case "badger":
		return NewBadgerStore(cfg.Path, ttl)
	case "sqlite":
		return NewSQLiteStore(cfg.Path, ttl)
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN, ttl)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
