package vfs

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexmount/plexmount/internal/index"
	"github.com/plexmount/plexmount/internal/metrics"
	"github.com/plexmount/plexmount/internal/status"
)

// fakeStreamer serves each stream key from an in-memory byte slice.
type fakeStreamer struct {
	mu          sync.Mutex
	content     map[string][]byte
	err         error
	invalidated int
	lastKey     string
	lastOff     int64
}

func (s *fakeStreamer) ReadRange(ctx context.Context, streamKey string, p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKey = streamKey
	s.lastOff = off
	if s.err != nil {
		return 0, s.err
	}
	data := s.content[streamKey]
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	return n, nil
}

func (s *fakeStreamer) Invalidate() {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}

func testFS(t *testing.T, streamer Streamer) (*FS, *index.Store, *status.Status) {
	t.Helper()
	ixStore := index.NewStore()
	st := status.New("server-1")
	m := metrics.New(prometheus.NewRegistry())

	b := index.NewBuilder()
	b.AddFile("/Movies/Heat (1995).mkv", 16, "/library/parts/1")
	b.AddFile("/Movies/Alien (1979).mkv", 8, "/library/parts/2")
	b.AddDir("/TV Shows")
	ixStore.Publish(b.Build())

	return New(ixStore, streamer, st, m), ixStore, st
}

func TestOpenMissingPath(t *testing.T) {
	fs, _, _ := testFS(t, &fakeStreamer{})
	if _, err := fs.Open("/Movies/Nope.mkv"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestReadDir(t *testing.T) {
	fs, _, _ := testFS(t, &fakeStreamer{})

	infos, err := fs.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir(/): %v", err)
	}
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
		if !fi.IsDir() {
			t.Errorf("%s: library roots must be directories", fi.Name())
		}
	}
	if len(names) != 2 || names[0] != "Movies" || names[1] != "TV Shows" {
		t.Fatalf("root listing = %v, want [Movies, TV Shows]", names)
	}

	infos, err = fs.ReadDir("/Movies")
	if err != nil {
		t.Fatalf("ReadDir(/Movies): %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("movie listing = %d entries, want 2", len(infos))
	}
	// Sorted by name, so Alien first.
	if infos[0].Name() != "Alien (1979).mkv" || infos[0].Size() != 8 || infos[0].IsDir() {
		t.Fatalf("first entry = %s size=%d dir=%v", infos[0].Name(), infos[0].Size(), infos[0].IsDir())
	}
}

func TestReadDirOnFile(t *testing.T) {
	fs, _, _ := testFS(t, &fakeStreamer{})
	if _, err := fs.ReadDir("/Movies/Heat (1995).mkv"); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("err = %v, want os.ErrInvalid", err)
	}
}

func TestStreamReadAt(t *testing.T) {
	streamer := &fakeStreamer{content: map[string][]byte{
		"/library/parts/1": []byte("0123456789abcdef"),
	}}
	fs, _, st := testFS(t, streamer)

	f, err := fs.Open("/Movies/Heat (1995).mkv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	p := make([]byte, 4)
	n, err := f.ReadAt(p, 6)
	if err != nil || n != 4 {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if string(p) != "6789" {
		t.Fatalf("read %q, want %q", p, "6789")
	}
	if streamer.lastKey != "/library/parts/1" || streamer.lastOff != 6 {
		t.Fatalf("streamer saw key=%q off=%d", streamer.lastKey, streamer.lastOff)
	}

	rep := st.Report()
	if rep.FilesOpened != 1 || rep.BytesStreamed != 4 {
		t.Fatalf("status = opened %d, streamed %d", rep.FilesOpened, rep.BytesStreamed)
	}
}

func TestReadAtClampsAtSize(t *testing.T) {
	streamer := &fakeStreamer{content: map[string][]byte{
		"/library/parts/1": []byte("0123456789abcdef"),
	}}
	fs, _, _ := testFS(t, streamer)

	f, err := fs.Open("/Movies/Heat (1995).mkv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	// Read straddling the end: clamped with io.EOF.
	p := make([]byte, 8)
	n, err := f.ReadAt(p, 12)
	if n != 4 || err != io.EOF {
		t.Fatalf("ReadAt = %d, %v, want 4, io.EOF", n, err)
	}
	if string(p[:n]) != "cdef" {
		t.Fatalf("read %q, want %q", p[:n], "cdef")
	}

	// Read entirely past the end.
	n, err = f.ReadAt(p, 16)
	if n != 0 || err != io.EOF {
		t.Fatalf("ReadAt past end = %d, %v, want 0, io.EOF", n, err)
	}
}

func TestReadAtPropagatesStreamError(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("stream broke")}
	fs, _, _ := testFS(t, streamer)

	f, err := fs.Open("/Movies/Heat (1995).mkv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if _, err := f.ReadAt(make([]byte, 4), 0); err == nil {
		t.Fatal("expected the stream error to propagate")
	}
}

func TestOpenHandleSurvivesRepublish(t *testing.T) {
	streamer := &fakeStreamer{content: map[string][]byte{
		"/library/parts/1": []byte("0123456789abcdef"),
	}}
	fs, ixStore, _ := testFS(t, streamer)

	f, err := fs.Open("/Movies/Heat (1995).mkv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	// Publish a new index that no longer contains the file.
	b := index.NewBuilder()
	b.AddDir("/Movies")
	ixStore.Publish(b.Build())

	if _, err := fs.Open("/Movies/Heat (1995).mkv"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("new opens must see the new index")
	}

	// The existing handle still reads through its captured entry.
	p := make([]byte, 4)
	if n, err := f.ReadAt(p, 0); err != nil || n != 4 {
		t.Fatalf("ReadAt on survived handle = %d, %v", n, err)
	}
}
