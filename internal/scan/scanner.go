// Package scan builds a fresh path index by enumerating the remote
// catalog with a producer/consumer pipeline: one producer pages through
// libraries with a degrading chunk-size ladder, a fixed pool of
// consumers expands items into filesystem entries.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plexmount/plexmount/internal/catalog"
	"github.com/plexmount/plexmount/internal/index"
)

// ErrEmptyScan marks a scan that completed but found nothing where the
// previous index had content. Publishing it would trade a good tree for
// a connectivity hiccup, so the caller must keep the previous index.
var ErrEmptyScan = errors.New("scan: catalog came back empty")

// Session is one scan's connection to the remote catalog.
type Session interface {
	Libraries(ctx context.Context) ([]catalog.Library, error)
	Items(ctx context.Context, libraryKey string, start, size int) ([]catalog.Item, error)
	Episodes(ctx context.Context, showKey string) ([]catalog.Episode, error)
	Close() error
}

// ConnectFunc opens a dedicated session for a scan.
type ConnectFunc func(ctx context.Context) (Session, error)

// Config tunes the scan pipeline.
type Config struct {
	Consumers   int
	QueueFactor int
	ChunkSizes  []int
	RetryDelay  time.Duration
}

// Scanner walks the remote catalog and produces path indices.
type Scanner struct {
	connect ConnectFunc
	cfg     Config
	log     *slog.Logger
}

// New creates a scanner. The connect function is called once per scan
// so bulk enumeration never shares connections with streaming reads.
func New(connect ConnectFunc, cfg Config) *Scanner {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.QueueFactor <= 0 {
		cfg.QueueFactor = 4
	}
	if len(cfg.ChunkSizes) == 0 {
		cfg.ChunkSizes = []int{500, 200, 100, 50}
	}
	return &Scanner{
		connect: connect,
		cfg:     cfg,
		log:     slog.With("component", "scanner"),
	}
}

// task is one discovered catalog item queued between producer and
// consumers, tagged with the library directory it belongs under.
type task struct {
	item    catalog.Item
	libRoot string
}

// Scan enumerates the catalog into a new index. It never touches the
// published index; on any error the caller keeps serving previous.
// previous feeds the empty-result check and may be nil.
func (s *Scanner) Scan(ctx context.Context, previous *index.Index) (*index.Index, error) {
	started := time.Now()

	sess, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: connect: %w", err)
	}
	defer sess.Close()

	libs, err := sess.Libraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: list libraries: %w", err)
	}

	shared := index.NewBuilder()
	for _, lib := range libs {
		shared.AddDir("/" + sanitizeName(lib.Title))
	}

	// Bounded queue: a full queue blocks the producer, keeping memory
	// flat when consumers fall behind.
	tasks := make(chan task, s.cfg.Consumers*s.cfg.QueueFactor)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consume(ctx, sess, tasks, shared, &mu)
		}()
	}

	for _, lib := range libs {
		if ctx.Err() != nil {
			break
		}
		s.produceLibrary(ctx, sess, lib, tasks)
	}
	close(tasks)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan: cancelled: %w", err)
	}

	ix := shared.Build()
	if err := checkNotEmpty(ix, previous); err != nil {
		return nil, err
	}

	s.log.Info("scan complete",
		"libraries", len(libs),
		"entries", ix.Len(),
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return ix, nil
}

// produceLibrary pages through one library with the chunk-size ladder.
// A transient page failure drops one rung and retries after a short
// delay; success resets to the top rung so a library that stabilizes
// does not stay throttled. Exhausting the ladder abandons this library
// only.
func (s *Scanner) produceLibrary(ctx context.Context, sess Session, lib catalog.Library, tasks chan<- task) {
	log := s.log.With("library", lib.Title)
	libRoot := "/" + sanitizeName(lib.Title)

	rung := 0
	start := 0
	for ctx.Err() == nil {
		size := s.cfg.ChunkSizes[rung]
		items, err := sess.Items(ctx, lib.Key, start, size)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rung++
			if rung >= len(s.cfg.ChunkSizes) {
				log.Error("all chunk sizes failed, abandoning library", "error", err)
				return
			}
			log.Warn("page fetch failed, degrading chunk size",
				"failed_size", size,
				"next_size", s.cfg.ChunkSizes[rung],
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}
		if len(items) == 0 {
			log.Debug("library exhausted", "items", start)
			return
		}
		for _, it := range items {
			select {
			case tasks <- task{item: it, libRoot: libRoot}:
			case <-ctx.Done():
				return
			}
		}
		start += len(items)
		rung = 0
	}
}

// consume expands queued items into entries. Each item is staged in a
// consumer-local builder and merged into the shared builder in one
// locked step, so lock hold time stays bounded per item.
func (s *Scanner) consume(ctx context.Context, sess Session, tasks <-chan task, shared *index.Builder, mu *sync.Mutex) {
	for t := range tasks {
		if ctx.Err() != nil {
			continue // drain without processing
		}
		staged := index.NewBuilder()
		switch t.item.Kind {
		case catalog.ItemMovie:
			s.stageMovie(staged, t)
		case catalog.ItemShow:
			s.stageShow(ctx, sess, staged, t)
		}
		mu.Lock()
		shared.Merge(staged)
		mu.Unlock()
	}
}

func (s *Scanner) stageMovie(b *index.Builder, t task) {
	if t.item.File == nil {
		return
	}
	b.AddFile(t.libRoot+"/"+movieFileName(t.item), t.item.File.Size, t.item.File.StreamKey)
}

func (s *Scanner) stageShow(ctx context.Context, sess Session, b *index.Builder, t task) {
	showPath := t.libRoot + "/" + sanitizeName(t.item.Title)
	b.AddDir(showPath)

	eps, err := sess.Episodes(ctx, t.item.Key)
	if err != nil {
		s.log.Error("failed to expand show", "show", t.item.Title, "error", err)
		return
	}
	for _, ep := range eps {
		if ep.File == nil {
			continue // no resolved media
		}
		seasonPath := showPath + "/" + seasonDirName(ep.Season)
		b.AddDir(seasonPath)
		b.AddFile(seasonPath+"/"+episodeFileName(ep), ep.File.Size, ep.File.StreamKey)
	}
}

// checkNotEmpty rejects a scan whose result is empty where the previous
// index had content: zero entries overall, or zero files under a
// library root that previously had some.
func checkNotEmpty(ix, previous *index.Index) error {
	if len(ix.Roots()) == 0 {
		return fmt.Errorf("%w: no libraries found", ErrEmptyScan)
	}
	if previous == nil {
		return nil
	}
	for _, root := range previous.Roots() {
		dir := "/" + root
		if previous.FilesUnder(dir) == 0 {
			continue
		}
		if ix.FilesUnder(dir) == 0 {
			return fmt.Errorf("%w: library %q lost all entries", ErrEmptyScan, root)
		}
	}
	return nil
}
