// Package status is the single owned block of mutable runtime state:
// scheduler state, scan bookkeeping and streaming counters. The
// scheduler writes state transitions, the filesystem bumps counters and
// the dashboard reads snapshots, all under one mutex.
package status

import (
	"sync"
	"time"
)

// State names the refresh scheduler's current phase.
type State string

const (
	StateBootstrapping State = "Bootstrapping"
	StateIdle          State = "Idle"
	StateScanning      State = "Scanning"
	StateShuttingDown  State = "ShuttingDown"
)

// Status is the shared runtime state block.
type Status struct {
	mu            sync.Mutex
	instance      string
	startTime     time.Time
	state         State
	lastScan      time.Time
	itemCount     int
	filesOpened   int64
	bytesStreamed int64
}

// New creates the state block for an instance.
func New(instance string) *Status {
	return &Status{
		instance:  instance,
		startTime: time.Now(),
		state:     StateBootstrapping,
	}
}

// SetState records a scheduler state transition.
func (s *Status) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// SetItems records the published entry count without marking a scan,
// for indices restored from the snapshot store.
func (s *Status) SetItems(items int) {
	s.mu.Lock()
	s.itemCount = items
	s.mu.Unlock()
}

// ScanFinished records a successful scan and the published item count.
func (s *Status) ScanFinished(items int) {
	s.mu.Lock()
	s.lastScan = time.Now()
	s.itemCount = items
	s.mu.Unlock()
}

// FileOpened bumps the opened-files counter.
func (s *Status) FileOpened() {
	s.mu.Lock()
	s.filesOpened++
	s.mu.Unlock()
}

// AddBytesStreamed adds to the cumulative streamed-bytes counter.
func (s *Status) AddBytesStreamed(n int64) {
	s.mu.Lock()
	s.bytesStreamed += n
	s.mu.Unlock()
}

// Report is a point-in-time copy of the state block.
type Report struct {
	Instance      string
	State         State
	Uptime        time.Duration
	Items         int
	LastScan      time.Time
	FilesOpened   int64
	BytesStreamed int64
}

// Report returns a consistent snapshot for the dashboard.
func (s *Status) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{
		Instance:      s.instance,
		State:         s.state,
		Uptime:        time.Since(s.startTime),
		Items:         s.itemCount,
		LastScan:      s.lastScan,
		FilesOpened:   s.filesOpened,
		BytesStreamed: s.bytesStreamed,
	}
}
