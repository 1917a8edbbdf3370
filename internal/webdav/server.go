// Package webdav serves the virtual filesystem over WebDAV. The share
// is strictly read-only: every mutating method is refused before it
// reaches the filesystem.
package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/webdav"

	"github.com/plexmount/plexmount/internal/vfs"
)

// Server exposes a vfs.FS on a WebDAV port.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer creates a WebDAV server for the given filesystem.
func NewServer(port int, filesystem *vfs.FS) *Server {
	log := slog.With("component", "webdav")

	handler := &webdav.Handler{
		FileSystem: &webdavFS{fs: filesystem},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.Debug("request", "method", r.Method, "path", r.URL.Path, "error", err)
			} else {
				log.Debug("request", "method", r.Method, "path", r.URL.Path)
			}
		},
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		},
		log: log,
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("starting WebDAV server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("WebDAV server error", "error", err)
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// webdavFS adapts vfs.FS to webdav.FileSystem.
type webdavFS struct {
	fs *vfs.FS
}

func (wfs *webdavFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (wfs *webdavFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, os.ErrPermission
	}

	name = cleanPath(name)
	file, err := wfs.fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &webdavFile{file: file, fs: wfs.fs, path: name}, nil
}

func (wfs *webdavFS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (wfs *webdavFS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (wfs *webdavFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return wfs.fs.Stat(cleanPath(name))
}

// webdavFile adapts vfs.File to webdav.File.
type webdavFile struct {
	mu   sync.Mutex
	file vfs.File
	fs   *vfs.FS
	path string
	pos  int64

	dirMu      sync.Mutex
	dirEntries []os.FileInfo
	dirPos     int
}

func (f *webdavFile) Close() error {
	return f.file.Close()
}

func (f *webdavFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.file.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *webdavFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := f.file.Size()
	switch whence {
	case 0: // SeekStart
		f.pos = offset
	case 1: // SeekCurrent
		f.pos += offset
	case 2: // SeekEnd
		f.pos = size + offset
	}
	if f.pos < 0 {
		f.pos = 0
	}
	if f.pos > size {
		f.pos = size
	}
	return f.pos, nil
}

func (f *webdavFile) Readdir(count int) ([]os.FileInfo, error) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()

	if !f.file.IsDir() {
		return nil, os.ErrInvalid
	}

	if f.dirEntries == nil {
		entries, err := f.fs.ReadDir(f.path)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name() < entries[j].Name()
		})
		f.dirEntries = entries
	}

	if count <= 0 {
		entries := f.dirEntries[f.dirPos:]
		f.dirPos = len(f.dirEntries)
		return entries, nil
	}
	end := f.dirPos + count
	if end > len(f.dirEntries) {
		end = len(f.dirEntries)
	}
	entries := f.dirEntries[f.dirPos:end]
	f.dirPos = end
	return entries, nil
}

func (f *webdavFile) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}

func (f *webdavFile) Write(p []byte) (int, error) {
	return 0, os.ErrPermission
}

// ContentType returns the MIME type for the file.
func (f *webdavFile) ContentType(ctx context.Context) (string, error) {
	if f.file.IsDir() {
		return "text/html; charset=utf-8", nil
	}
	switch strings.ToLower(path.Ext(f.file.Name())) {
	case ".mp4", ".m4v":
		return "video/mp4", nil
	case ".mkv":
		return "video/x-matroska", nil
	case ".avi":
		return "video/x-msvideo", nil
	case ".mov":
		return "video/quicktime", nil
	case ".webm":
		return "video/webm", nil
	case ".srt", ".ass", ".ssa":
		return "text/plain; charset=utf-8", nil
	case ".vtt":
		return "text/vtt", nil
	default:
		return "application/octet-stream", nil
	}
}

// ETag returns the entity tag for the file.
func (f *webdavFile) ETag(ctx context.Context) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return `"` + info.Name() + "-" + strconv.FormatInt(info.Size(), 10) + `"`, nil
}

func (f *webdavFile) DeadProps() (map[string][]byte, error) {
	return nil, nil
}

func (f *webdavFile) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	return nil, os.ErrPermission
}

func cleanPath(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
