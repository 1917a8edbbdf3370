package vfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/plexmount/plexmount/internal/index"
)

// File is an open handle in the virtual filesystem.
type File interface {
	io.ReaderAt
	io.Closer

	Name() string
	IsDir() bool
	Size() int64
	Stat() (os.FileInfo, error)
}

// dirFile is an open directory handle.
type dirFile struct {
	fs   *FS
	path string
}

func (d *dirFile) Name() string { return basename(d.path) }
func (d *dirFile) IsDir() bool  { return true }
func (d *dirFile) Size() int64  { return 0 }
func (d *dirFile) Close() error { return nil }

func (d *dirFile) Stat() (os.FileInfo, error) {
	return d.fs.Stat(d.path)
}

func (d *dirFile) ReadAt(p []byte, off int64) (int, error) {
	return 0, os.ErrInvalid
}

// streamFile is an open media file backed by remote byte-range fetches.
// The entry is captured at open time, so the handle keeps working even
// if a rescan publishes a new index underneath it.
type streamFile struct {
	fs    *FS
	entry index.Entry
}

func (f *streamFile) Name() string { return basename(f.entry.Path) }
func (f *streamFile) IsDir() bool  { return false }
func (f *streamFile) Size() int64  { return f.entry.Size }
func (f *streamFile) Close() error { return nil }

func (f *streamFile) Stat() (os.FileInfo, error) {
	return f.fs.infoFor(f.entry), nil
}

// ReadAt fetches bytes from the remote catalog. Reads past the indexed
// size are clamped so range requests never overshoot the remote file.
func (f *streamFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.entry.Size {
		return 0, io.EOF
	}
	want := len(p)
	if off+int64(want) > f.entry.Size {
		want = int(f.entry.Size - off)
	}

	n, err := f.fs.streamer.ReadRange(context.Background(), f.entry.StreamKey, p[:want], off)
	if n > 0 {
		f.fs.status.AddBytesStreamed(int64(n))
		f.fs.metrics.StreamedBytes.Add(float64(n))
	}
	if err != nil && err != io.EOF {
		f.fs.metrics.ReadErrors.Inc()
		f.fs.log.Error("range read failed", "path", f.entry.Path, "offset", off, "error", err)
		return n, err
	}
	if err == nil && want < len(p) {
		// Caller asked past the end of the file.
		return n, io.EOF
	}
	return n, err
}

func basename(p string) string {
	if p == index.Root {
		return "/"
	}
	return path.Base(p)
}

// fileInfo implements os.FileInfo for virtual entries.
type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) Sys() interface{}   { return nil }

func (fi *fileInfo) Mode() fs.FileMode {
	if fi.isDir {
		return fs.ModeDir | 0755
	}
	return 0644
}
