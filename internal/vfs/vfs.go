// Package vfs projects the published path index as a read-only virtual
// filesystem. Directory structure is answered from the index alone;
// file reads translate into byte-range fetches against the remote
// catalog.
package vfs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/plexmount/plexmount/internal/index"
	"github.com/plexmount/plexmount/internal/metrics"
	"github.com/plexmount/plexmount/internal/status"
)

// Streamer fetches file bytes from the remote catalog. Invalidate drops
// the streamer's session after a failed read so the next read
// reconnects.
type Streamer interface {
	ReadRange(ctx context.Context, streamKey string, p []byte, off int64) (int, error)
	Invalidate()
}

// FS is the read-only virtual filesystem over the published index.
type FS struct {
	index    *index.Store
	streamer Streamer
	status   *status.Status
	metrics  *metrics.Metrics
	birth    time.Time
	log      *slog.Logger
}

// New creates a filesystem over the given index store.
func New(ix *index.Store, streamer Streamer, st *status.Status, m *metrics.Metrics) *FS {
	return &FS{
		index:    ix,
		streamer: streamer,
		status:   st,
		metrics:  m,
		birth:    time.Now(),
		log:      slog.With("component", "vfs"),
	}
}

// Open opens a path for reading. Directories open as listable handles,
// files as range-backed streams. Writes are rejected by the transport
// layer before reaching here.
func (f *FS) Open(p string) (File, error) {
	e, ok := f.index.Lookup(p)
	if !ok {
		return nil, os.ErrNotExist
	}
	if e.Kind == index.KindDir {
		return &dirFile{fs: f, path: p}, nil
	}

	f.status.FileOpened()
	f.metrics.FilesOpened.Inc()
	f.log.Debug("file opened", "path", p, "size", e.Size)
	return &streamFile{fs: f, entry: e}, nil
}

// Stat returns metadata for a path without opening it.
func (f *FS) Stat(p string) (os.FileInfo, error) {
	e, ok := f.index.Lookup(p)
	if !ok {
		return nil, os.ErrNotExist
	}
	return f.infoFor(e), nil
}

// ReadDir returns the stat of every child of a directory, sorted by
// name. Listings come from the same index snapshot the lookup hit, so a
// concurrent publish never produces a torn listing.
func (f *FS) ReadDir(p string) ([]os.FileInfo, error) {
	ix := f.index.Snapshot()
	e, ok := ix.Lookup(p)
	if !ok {
		return nil, os.ErrNotExist
	}
	if e.Kind != index.KindDir {
		return nil, os.ErrInvalid
	}
	names, _ := ix.List(p)
	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		childPath := p + "/" + name
		if p == index.Root {
			childPath = "/" + name
		}
		child, ok := ix.Lookup(childPath)
		if !ok {
			continue
		}
		infos = append(infos, f.infoFor(child))
	}
	return infos, nil
}

func (f *FS) infoFor(e index.Entry) os.FileInfo {
	name := basename(e.Path)
	return &fileInfo{
		name:    name,
		size:    e.Size,
		isDir:   e.Kind == index.KindDir,
		modTime: f.birth,
	}
}
