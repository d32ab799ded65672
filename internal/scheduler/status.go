package scheduler

import (
	"sync"
	"time"
)

// maxRecentErrors bounds the retained error history (spec.md §7, SPEC_FULL.md
// supplemented feature #1).
const maxRecentErrors = 10

// Status is a long-lived, lock-guarded record of the scheduler's progress —
// not just a tick-local variable — mirroring the original Rust SyncStatus
// struct (SPEC_FULL.md supplemented feature #1). It is observable to the
// rest of the system but never drives correctness (spec.md §4.8).
type Status struct {
	mu sync.RWMutex

	running            bool
	lastSyncStarted    *time.Time
	lastSyncCompleted  *time.Time
	nextScheduledSync  *time.Time
	currentOperation   string
	successCount       int
	errorCount         int
	recentErrors       []string
}

// Snapshot is an immutable copy of Status for callers that just want to read
// it (e.g. a status HTTP endpoint) without holding the lock.
type Snapshot struct {
	Running           bool
	LastSyncStarted   *time.Time
	LastSyncCompleted *time.Time
	NextScheduledSync *time.Time
	CurrentOperation  string
	SuccessCount      int
	ErrorCount        int
	RecentErrors      []string
}

func (s *Status) markStarted(op string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.currentOperation = op
	s.lastSyncStarted = &now
}

func (s *Status) markCompleted(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.currentOperation = ""
	s.lastSyncCompleted = &now
	if err != nil {
		s.errorCount++
		s.recentErrors = append(s.recentErrors, err.Error())
		if len(s.recentErrors) > maxRecentErrors {
			s.recentErrors = s.recentErrors[len(s.recentErrors)-maxRecentErrors:]
		}
	} else {
		s.successCount++
	}
}

func (s *Status) setNextScheduledSync(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextScheduledSync = &t
}

// Snapshot returns a point-in-time copy safe to read without holding s's lock.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	errs := make([]string, len(s.recentErrors))
	copy(errs, s.recentErrors)
	return Snapshot{
		Running:           s.running,
		LastSyncStarted:   s.lastSyncStarted,
		LastSyncCompleted: s.lastSyncCompleted,
		NextScheduledSync: s.nextScheduledSync,
		CurrentOperation:  s.currentOperation,
		SuccessCount:      s.successCount,
		ErrorCount:        s.errorCount,
		RecentErrors:      errs,
	}
}
