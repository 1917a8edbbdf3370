package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the embedded file-based backend.
type BadgerStore struct {
	ttl time.Duration
	db  *badger.DB
	log *slog.Logger
}

// badgerLogger adapts slog for Badger's logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(f, "args", v)
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(f, "args", v)
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Info(f, "args", v)
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Debug(f, "args", v)
}

// NewBadgerStore opens (or creates) a Badger database at path.
//
// Record TTL is enforced by this store rather than Badger's own entry
// TTL: an expired record must stay readable for the stale-fallback
// path, which Badger expiry would make impossible.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	log := slog.With("component", "badger-store")

	opts := badger.DefaultOptions(path).
		WithLogger(&badgerLogger{log: log}).
		WithValueLogFileSize(1<<26 - 1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	// Run garbage collection
	err = db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		db.Close()
		return nil, err
	}

	return &BadgerStore{
		db:  db,
		ttl: ttl,
		log: log,
	}, nil
}

func snapshotKey(instanceID string) []byte {
	return []byte("snapshot:" + instanceID)
}

// Save stores a snapshot record for the instance.
func (s *BadgerStore) Save(ctx context.Context, snap *Snapshot, instanceID string) error {
	var value bytes.Buffer
	if err := gob.NewEncoder(&value).Encode(snap); err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(snapshotKey(instanceID), value.Bytes()); err != nil {
		return err
	}
	return tx.Commit()
}

// Load retrieves the instance's snapshot, applying TTL semantics.
func (s *BadgerStore) Load(ctx context.Context, instanceID string, allowStale bool) (*Snapshot, error) {
	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	dbi, err := tx.Get(snapshotKey(instanceID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	valb, err := dbi.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(valb)).Decode(&snap); err != nil {
		// A corrupt record is a miss, not a failure.
		s.log.Error("failed to decode snapshot", "error", err)
		return nil, nil
	}

	if time.Since(snap.WrittenAt) >= s.ttl {
		if allowStale {
			s.log.Warn("loading stale snapshot",
				"instance", instanceID,
				"written_at", snap.WrittenAt)
			return &snap, nil
		}
		s.log.Info("snapshot expired, deleting", "instance", instanceID)
		if err := s.delete(instanceID); err != nil {
			s.log.Error("failed to delete expired snapshot", "error", err)
		}
		return nil, nil
	}

	return &snap, nil
}

func (s *BadgerStore) delete(instanceID string) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Delete(snapshotKey(instanceID)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close shuts down the Badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
