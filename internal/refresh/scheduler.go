// Package refresh owns the catalog refresh lifecycle: bootstrapping the
// first index from the snapshot store, periodic rescans, and coalesced
// manual rescan triggers. All scans run on the scheduler goroutine, so
// there is never more than one in flight.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/plexmount/plexmount/internal/index"
	"github.com/plexmount/plexmount/internal/metrics"
	"github.com/plexmount/plexmount/internal/status"
	"github.com/plexmount/plexmount/internal/store"
)

// Scanner produces a fresh index from the remote catalog.
type Scanner interface {
	Scan(ctx context.Context, previous *index.Index) (*index.Index, error)
}

// Config tunes the scheduler.
type Config struct {
	// Interval between background rescans. Zero means scan once and
	// idle; negative disables background rescans entirely. Manual
	// triggers work in every mode.
	Interval time.Duration
	// BootstrapRetry is the delay between live scan attempts when the
	// snapshot store has nothing to serve at startup.
	BootstrapRetry time.Duration
	// InstanceID keys snapshots in the store, one record per remote
	// server identity.
	InstanceID string
}

// Scheduler drives scans and publishes their results.
type Scheduler struct {
	scanner Scanner
	snaps   store.Store
	index   *index.Store
	status  *status.Status
	metrics *metrics.Metrics
	cfg     Config
	trigger chan struct{}
	log     *slog.Logger

	// Scheduler-goroutine state, no locking needed.
	published   bool
	liveScanned bool
}

// New creates a scheduler. Bootstrap must run before Run.
func New(scanner Scanner, snaps store.Store, ix *index.Store, st *status.Status, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.BootstrapRetry <= 0 {
		cfg.BootstrapRetry = 30 * time.Second
	}
	return &Scheduler{
		scanner: scanner,
		snaps:   snaps,
		index:   ix,
		status:  st,
		metrics: m,
		cfg:     cfg,
		// Buffered by one so triggers arriving mid-scan coalesce into
		// exactly one follow-up scan.
		trigger: make(chan struct{}, 1),
		log:     slog.With("component", "scheduler"),
	}
}

// Trigger requests a rescan. Never blocks; requests arriving while a
// scan is running or already queued collapse into one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Bootstrap publishes a first index so the filesystem can serve
// immediately: a fresh snapshot if the store has one, else a stale
// snapshot (with a rescan queued behind it), else live scans retried
// until one succeeds. Returns only with an index published or the
// context cancelled.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	s.status.SetState(status.StateBootstrapping)

	snap, err := s.snaps.Load(ctx, s.cfg.InstanceID, false)
	if err != nil {
		s.log.Warn("snapshot load failed, falling back to live scan", "error", err)
	}
	if snap != nil {
		s.publish(snap.Index())
		s.status.SetState(status.StateIdle)
		s.log.Info("bootstrapped from fresh snapshot", "written_at", snap.WrittenAt)
		return nil
	}

	snap, err = s.snaps.Load(ctx, s.cfg.InstanceID, true)
	if err != nil {
		s.log.Warn("stale snapshot load failed", "error", err)
	}
	if snap != nil {
		s.publish(snap.Index())
		s.status.SetState(status.StateIdle)
		s.log.Info("bootstrapped from stale snapshot, queueing rescan", "written_at", snap.WrittenAt)
		s.Trigger()
		return nil
	}

	// Nothing cached: the filesystem stays empty until a live scan
	// lands, so keep trying.
	for {
		if err := s.runScan(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.BootstrapRetry):
		}
	}
}

// Run is the scheduler event loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.status.SetState(status.StateShuttingDown)

	var tick <-chan time.Time
	switch {
	case s.cfg.Interval > 0:
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	case s.cfg.Interval == 0:
		// Scan-once mode: make sure at least one live scan happened,
		// then serve the result indefinitely.
		if !s.liveScanned {
			if err := s.runScan(ctx); err != nil {
				s.log.Error("one-shot scan failed", "error", err)
			}
		}
	default:
		s.log.Info("background refresh disabled")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := s.runScan(ctx); err != nil {
				s.log.Error("scheduled scan failed", "error", err)
			}
		case <-s.trigger:
			if err := s.runScan(ctx); err != nil {
				s.log.Error("triggered scan failed", "error", err)
			}
		}
	}
}

// runScan performs one live scan and, on success, publishes and
// persists the result. Failures leave the published index untouched.
func (s *Scheduler) runScan(ctx context.Context) error {
	s.status.SetState(status.StateScanning)
	defer s.status.SetState(status.StateIdle)

	var previous *index.Index
	if s.published {
		previous = s.index.Snapshot()
	}

	started := time.Now()
	ix, err := s.scanner.Scan(ctx, previous)
	s.metrics.ScanDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		s.metrics.Scans.WithLabelValues("failure").Inc()
		return err
	}
	s.metrics.Scans.WithLabelValues("success").Inc()
	s.liveScanned = true

	s.publish(ix)
	s.status.ScanFinished(ix.Len())

	// Persisting is best effort: the index is already live.
	if err := s.snaps.Save(ctx, store.FromIndex(ix), s.cfg.InstanceID); err != nil {
		s.log.Error("failed to persist snapshot", "error", err)
	}
	return nil
}

func (s *Scheduler) publish(ix *index.Index) {
	s.index.Publish(ix)
	s.published = true
	s.status.SetItems(ix.Len())
	s.metrics.IndexEntries.Set(float64(ix.Len()))
}
