// internal/sweeper/sweeper.go

// Package sweeper ages sessions forward on a timer: stale active sessions
// become completed, and retention-expired completed sessions are archived.
// Every transition is a conditional update, so concurrent sweeps (and normal
// request traffic) cannot double-transition a row.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"squadlink/internal/models"
	"squadlink/internal/store"
)

// Options tunes the sweep cutoffs and batch size.
type Options struct {
	// AutoCompleteAfter is how long an active session may sit past its start
	// (or creation, when unscheduled) before being completed.
	AutoCompleteAfter time.Duration
	// ArchiveAfter is the retention window for completed sessions.
	ArchiveAfter time.Duration
	// Batch bounds how many rows each phase touches per run.
	Batch int
}

// Report summarizes one sweep run.
type Report struct {
	Completed int `json:"completed"`
	Archived  int `json:"archived"`
	Cancelled int `json:"cancelled"` // archival fallback on pre-migration schemas
}

// Sweeper runs the two lifecycle phases. Safe to run concurrently with
// request traffic and with other sweeper instances.
type Sweeper struct {
	store store.Store
	opts  Options
	now   func() time.Time

	// archivalUnsupported is latched on the first missing-column probe and
	// never re-checked for the life of the process.
	archivalUnsupported bool
	probeMu             sync.Mutex
	warnOnce            sync.Once
}

// New wires a Sweeper.
func New(st store.Store, opts Options) *Sweeper {
	return &Sweeper{store: st, opts: opts, now: time.Now}
}

// SetClock overrides the sweeper's clock. Test hook.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run executes one sweep: auto-complete, then archive. Both phases are
// idempotent; rows that no longer match their phase's status filter at
// update time are skipped by the store's conditional update.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var report Report
	now := s.now()

	ids, err := s.store.ListAutoCompletable(ctx, now.Add(-s.opts.AutoCompleteAfter), s.opts.Batch)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		ok, err := s.store.TransitionSessionStatus(ctx, id, models.StatusActive, models.StatusCompleted)
		if err != nil {
			log.WithError(err).WithField("session_id", id).Warn("sweep: auto-complete failed")
			continue
		}
		if ok {
			report.Completed++
		}
	}

	ids, err = s.store.ListArchivable(ctx, now.Add(-s.opts.ArchiveAfter), s.opts.Batch)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if s.archivalSupported() {
			ok, err := s.store.ArchiveSession(ctx, id, now)
			var missing *store.MissingColumnError
			if err == nil {
				if ok {
					report.Archived++
				}
				continue
			}
			if !errors.As(err, &missing) {
				log.WithError(err).WithField("session_id", id).Warn("sweep: archival failed")
				continue
			}
			s.noteArchivalUnsupported()
		}
		ok, err := s.store.TransitionSessionStatus(ctx, id, models.StatusCompleted, models.StatusCancelled)
		if err != nil {
			log.WithError(err).WithField("session_id", id).Warn("sweep: archival fallback failed")
			continue
		}
		if ok {
			report.Cancelled++
		}
	}

	return report, nil
}

func (s *Sweeper) archivalSupported() bool {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	return !s.archivalUnsupported
}

func (s *Sweeper) noteArchivalUnsupported() {
	s.probeMu.Lock()
	s.archivalUnsupported = true
	s.probeMu.Unlock()
	s.warnOnce.Do(func() {
		log.Warn("sweep: schema has no archived_at column; expired sessions will be cancelled instead for the rest of this process")
	})
}
