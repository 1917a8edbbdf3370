package index

import "sync"

// Store holds the currently served index. The refresh scheduler is the
// only writer; filesystem operations and the dashboard read. Readers
// and the writer only contend for the duration of the pointer swap, so
// no reader ever observes a partially populated tree.
type Store struct {
	mu      sync.RWMutex
	current *Index
}

// NewStore returns a store serving an empty tree.
func NewStore() *Store {
	return &Store{current: NewBuilder().Build()}
}

// Publish atomically replaces the served index.
func (s *Store) Publish(ix *Index) {
	s.mu.Lock()
	s.current = ix
	s.mu.Unlock()
}

// Snapshot returns the currently served index. The returned index is
// immutable and stays valid after later publishes.
func (s *Store) Snapshot() *Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Lookup resolves a path against the current snapshot.
func (s *Store) Lookup(path string) (Entry, bool) {
	return s.Snapshot().Lookup(path)
}

// List returns the child names of a directory in the current snapshot.
func (s *Store) List(dir string) ([]string, bool) {
	return s.Snapshot().List(dir)
}
