package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/plexmount/plexmount/internal/catalog"
	"github.com/plexmount/plexmount/internal/index"
)

// fakeSession serves a canned catalog. Page fetches for sizes listed in
// failSizes return an error, which is how the tests drive the ladder.
type fakeSession struct {
	mu        sync.Mutex
	libs      []catalog.Library
	items     map[string][]catalog.Item
	episodes  map[string][]catalog.Episode
	failSizes map[string]map[int]bool
	sizesSeen []int
	epGate    chan struct{} // when set, Episodes blocks until closed
	closed    bool
}

func (f *fakeSession) Libraries(ctx context.Context) ([]catalog.Library, error) {
	return f.libs, nil
}

func (f *fakeSession) Items(ctx context.Context, libraryKey string, start, size int) ([]catalog.Item, error) {
	f.mu.Lock()
	f.sizesSeen = append(f.sizesSeen, size)
	f.mu.Unlock()
	if f.failSizes[libraryKey][size] {
		return nil, fmt.Errorf("page fetch refused at size %d", size)
	}
	all := f.items[libraryKey]
	if start >= len(all) {
		return nil, nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeSession) Episodes(ctx context.Context, showKey string) ([]catalog.Episode, error) {
	if f.epGate != nil {
		select {
		case <-f.epGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.episodes[showKey], nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func connectTo(f *fakeSession) ConnectFunc {
	return func(ctx context.Context) (Session, error) { return f, nil }
}

func movie(key, title string, year int) catalog.Item {
	return catalog.Item{
		Kind:  catalog.ItemMovie,
		Key:   key,
		Title: title,
		Year:  year,
		File:  &catalog.MediaFile{StreamKey: "/library/parts/" + key, Size: 1000, Ext: ".mkv"},
	}
}

func testConfig() Config {
	return Config{Consumers: 4, QueueFactor: 4, ChunkSizes: []int{8, 2}, RetryDelay: time.Millisecond}
}

func TestScanMoviesAndShows(t *testing.T) {
	sess := &fakeSession{
		libs: []catalog.Library{
			{Key: "1", Title: "Movies", Kind: catalog.LibraryMovies},
			{Key: "2", Title: "TV Shows", Kind: catalog.LibraryShows},
		},
		items: map[string][]catalog.Item{
			"1": {movie("m1", "Heat", 1995), movie("m2", "Alien", 1979)},
			"2": {{Kind: catalog.ItemShow, Key: "s1", Title: "The Wire"}},
		},
		episodes: map[string][]catalog.Episode{
			"s1": {
				{Season: 1, Number: 1, Title: "The Target", File: &catalog.MediaFile{StreamKey: "/library/parts/e1", Size: 500, Ext: ".mkv"}},
				{Season: 1, Number: 2, Title: "The Detail"}, // no media, skipped
				{Season: 2, Number: 1, Title: "Ebb Tide", File: &catalog.MediaFile{StreamKey: "/library/parts/e3", Size: 600, Ext: ".avi"}},
			},
		},
	}

	ix, err := New(connectTo(sess), testConfig()).Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for _, path := range []string{
		"/Movies/Heat (1995).mkv",
		"/Movies/Alien (1979).mkv",
		"/TV Shows/The Wire/Season 01/S01E01 - The Target.mkv",
		"/TV Shows/The Wire/Season 02/S02E01 - Ebb Tide.avi",
	} {
		if _, ok := ix.Lookup(path); !ok {
			t.Errorf("missing entry %q", path)
		}
	}
	if _, ok := ix.Lookup("/TV Shows/The Wire/Season 01/S01E02 - The Detail.mkv"); ok {
		t.Error("episode without media should be skipped")
	}
	if names, ok := ix.List("/TV Shows/The Wire/Season 01"); !ok || len(names) != 1 {
		t.Errorf("season listing = %v (ok=%v), want one episode", names, ok)
	}
	if !sess.closed {
		t.Error("session was not closed")
	}
}

func TestChunkLadderDegradesAndRecovers(t *testing.T) {
	// Size 8 always fails, so every page is fetched at size 2 after one
	// degradation, and the rung resets between pages.
	sess := &fakeSession{
		libs: []catalog.Library{{Key: "1", Title: "Movies", Kind: catalog.LibraryMovies}},
		items: map[string][]catalog.Item{
			"1": {movie("m1", "Heat", 1995), movie("m2", "Alien", 1979), movie("m3", "Ronin", 1998)},
		},
		failSizes: map[string]map[int]bool{"1": {8: true}},
	}

	ix, err := New(connectTo(sess), testConfig()).Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := ix.FilesUnder("/Movies"); got != 3 {
		t.Fatalf("files = %d, want 3", got)
	}
	// Ladder reset means size 8 was attempted again after the first
	// successful page.
	attempts := 0
	for _, s := range sess.sizesSeen {
		if s == 8 {
			attempts++
		}
	}
	if attempts < 2 {
		t.Fatalf("size 8 attempted %d times, want at least 2 (rung should reset)", attempts)
	}
}

func TestExhaustedLadderAbandonsOnlyThatLibrary(t *testing.T) {
	sess := &fakeSession{
		libs: []catalog.Library{
			{Key: "1", Title: "Broken", Kind: catalog.LibraryMovies},
			{Key: "2", Title: "Movies", Kind: catalog.LibraryMovies},
		},
		items: map[string][]catalog.Item{
			"1": {movie("x1", "Unreachable", 2000)},
			"2": {movie("m1", "Heat", 1995)},
		},
		failSizes: map[string]map[int]bool{"1": {8: true, 2: true}},
	}

	ix, err := New(connectTo(sess), testConfig()).Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := ix.FilesUnder("/Movies"); got != 1 {
		t.Fatalf("healthy library files = %d, want 1", got)
	}
	// The abandoned library keeps its empty directory entry.
	if _, ok := ix.Lookup("/Broken"); !ok {
		t.Fatal("abandoned library root should still exist")
	}
	if got := ix.FilesUnder("/Broken"); got != 0 {
		t.Fatalf("abandoned library files = %d, want 0", got)
	}
}

func TestEmptyScanRejectedAgainstPrevious(t *testing.T) {
	prev := index.NewBuilder()
	prev.AddFile("/Movies/Heat (1995).mkv", 1000, "/library/parts/m1")
	previous := prev.Build()

	// The library still exists but every page fetch fails, so the scan
	// comes back with an empty Movies root.
	sess := &fakeSession{
		libs:      []catalog.Library{{Key: "1", Title: "Movies", Kind: catalog.LibraryMovies}},
		items:     map[string][]catalog.Item{"1": {movie("m1", "Heat", 1995)}},
		failSizes: map[string]map[int]bool{"1": {8: true, 2: true}},
	}

	_, err := New(connectTo(sess), testConfig()).Scan(context.Background(), previous)
	if !errors.Is(err, ErrEmptyScan) {
		t.Fatalf("err = %v, want ErrEmptyScan", err)
	}
}

func TestNoLibrariesRejected(t *testing.T) {
	sess := &fakeSession{}
	_, err := New(connectTo(sess), testConfig()).Scan(context.Background(), nil)
	if !errors.Is(err, ErrEmptyScan) {
		t.Fatalf("err = %v, want ErrEmptyScan", err)
	}
}

func TestEmptyScanAllowedWithoutPrevious(t *testing.T) {
	// First ever scan of an empty (but reachable) catalog is valid.
	sess := &fakeSession{
		libs: []catalog.Library{{Key: "1", Title: "Movies", Kind: catalog.LibraryMovies}},
	}
	ix, err := New(connectTo(sess), testConfig()).Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := ix.FilesUnder("/Movies"); got != 0 {
		t.Fatalf("files = %d, want 0", got)
	}
}

func TestScanCancellation(t *testing.T) {
	var items []catalog.Item
	for i := 0; i < 100; i++ {
		items = append(items, catalog.Item{Kind: catalog.ItemShow, Key: fmt.Sprintf("s%d", i), Title: fmt.Sprintf("Show %d", i)})
	}
	sess := &fakeSession{
		libs:   []catalog.Library{{Key: "1", Title: "TV Shows", Kind: catalog.LibraryShows}},
		items:  map[string][]catalog.Item{"1": items},
		epGate: make(chan struct{}), // consumers block in Episodes
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := New(connectTo(sess), testConfig()).Scan(ctx, nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled scan did not return")
	}
}

func TestProducerBlocksOnFullQueue(t *testing.T) {
	var items []catalog.Item
	for i := 0; i < 20; i++ {
		items = append(items, catalog.Item{Kind: catalog.ItemShow, Key: fmt.Sprintf("s%d", i), Title: fmt.Sprintf("Show %d", i)})
	}
	gate := make(chan struct{})
	sess := &fakeSession{
		libs:   []catalog.Library{{Key: "1", Title: "TV Shows", Kind: catalog.LibraryShows}},
		items:  map[string][]catalog.Item{"1": items},
		epGate: gate,
	}

	cfg := testConfig()
	cfg.Consumers = 1
	cfg.QueueFactor = 1

	done := make(chan struct{})
	go func() {
		if _, err := New(connectTo(sess), cfg).Scan(context.Background(), nil); err != nil {
			t.Errorf("Scan: %v", err)
		}
		close(done)
	}()

	// With the single consumer parked in Episodes and a queue of one,
	// the scan cannot finish until the gate opens.
	select {
	case <-done:
		t.Fatal("scan finished while the consumer was blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not finish after the consumer unblocked")
	}
}

func TestNaming(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"movie with year", movieFileName(movie("m", "Heat", 1995)), "Heat (1995).mkv"},
		{"movie without year", movieFileName(movie("m", "Untitled", 0)), "Untitled.mkv"},
		{"sanitized title", movieFileName(movie("m", `A/B: "C"?`, 2001)), `A-B- 'C' (2001).mkv`},
		{"season dir", seasonDirName(3), "Season 03"},
		{"episode", episodeFileName(catalog.Episode{Season: 1, Number: 7, Title: "One", File: &catalog.MediaFile{Ext: ".mkv"}}), "S01E07 - One.mkv"},
		{"untitled episode", episodeFileName(catalog.Episode{Season: 12, Number: 3, File: &catalog.MediaFile{Ext: ".avi"}}), "S12E03 - Episode 3.avi"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
