package db

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/pipeline"
)

// RunStore is a pipeline sink that persists estimates for one run. Publish
// only enqueues; a background goroutine writes batches so the control loop
// never waits on SQLite.
type RunStore struct {
	db    *DB
	runID string
	batch int

	mu      sync.RWMutex
	closed  bool
	queue   chan EstimateRow
	done    chan struct{}
	dropped atomic.Uint64
	err     error // owned by the writer until done is closed

	closeOnce sync.Once
	closeErr  error
}

// queueDepth bounds how many estimates may wait for the writer.
const queueDepth = 4096

// NewRunStore starts a writer that flushes every batch estimates.
func NewRunStore(db *DB, runID string, batch int) *RunStore {
	if batch < 1 {
		batch = 1
	}
	s := &RunStore{
		db:    db,
		runID: runID,
		batch: batch,
		queue: make(chan EstimateRow, queueDepth),
		done:  make(chan struct{}),
	}
	go s.writer()
	return s
}

// RunID returns the run the store writes to.
func (s *RunStore) RunID() string { return s.runID }

// Publish enqueues e. Estimates arriving while the queue is full or after
// Close are dropped and counted.
func (s *RunStore) Publish(e pipeline.Estimate) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- EstimateRowFrom(e):
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many estimates were not persisted.
func (s *RunStore) Dropped() uint64 { return s.dropped.Load() }

func (s *RunStore) writer() {
	defer close(s.done)
	pending := make([]EstimateRow, 0, s.batch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := s.db.RecordEstimates(s.runID, pending); err != nil {
			monitoring.Logf("run %s: %v", s.runID, err)
			s.dropped.Add(uint64(len(pending)))
			if s.err == nil {
				s.err = err
			}
		}
		pending = pending[:0]
	}
	for row := range s.queue {
		pending = append(pending, row)
		if len(pending) >= s.batch {
			flush()
		}
	}
	flush()
}

// Close flushes queued estimates, marks the run finished and returns the
// first error, if any.
func (s *RunStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		<-s.done
		s.closeErr = s.err
		if err := s.db.FinishRun(s.runID); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if n := s.Dropped(); n > 0 {
			monitoring.Logf("run %s: %d estimates were not persisted", s.runID, n)
		}
	})
	return s.closeErr
}
