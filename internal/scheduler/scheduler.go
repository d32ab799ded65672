// Package scheduler implements C8: a single-threaded cooperative driver that
// invokes the Sync Engine against every configured adapter on a configurable
// cadence, tracking progress in a Status (spec.md §4.8). Grounded on the
// original Rust sync_scheduler.rs's tick loop and on the teacher's
// goroutine-per-suspension-point model. Adapters are processed one at a time
// within a round (spec.md §4.8 "a single-threaded cooperative driver", §5
// "one task per scheduler"): the Engine's VV-regression check and
// apply/build/mark-sent sequence are not designed to run concurrently across
// adapters within one replica.
package scheduler

import (
	"context"
	"time"

	"github.com/ordokr/lms-syncd/internal/batch"
	"github.com/ordokr/lms-syncd/internal/syncengine"
	"github.com/ordokr/lms-syncd/internal/telemetry"
)

// Scheduler is the cooperative driver described above. One Scheduler runs
// per replica process.
type Scheduler struct {
	engine        *syncengine.Engine
	adapters      []batch.Adapter
	checkInterval time.Duration
	syncInterval  time.Duration
	maxBatchSize  int
	tel           *telemetry.Telemetry

	status   Status
	nextSync time.Time
}

// New builds a Scheduler. checkInterval governs how often the tick loop
// wakes to check whether it's time to run; syncInterval governs the cadence
// of actual sync rounds (spec.md §6 "check_interval_s / sync_interval_s").
func New(engine *syncengine.Engine, adapters []batch.Adapter, checkInterval, syncInterval time.Duration, maxBatchSize int, tel *telemetry.Telemetry) *Scheduler {
	return &Scheduler{
		engine:        engine,
		adapters:      adapters,
		checkInterval: checkInterval,
		syncInterval:  syncInterval,
		maxBatchSize:  maxBatchSize,
		tel:           tel,
	}
}

// Status returns the long-lived, lock-guarded Status record.
func (s *Scheduler) Status() *Status { return &s.status }

// Run drives the tick loop until ctx is cancelled. On shutdown it finishes
// the current adapter round before stopping (spec.md §4.8 "On shutdown
// signal, finish the current adapter round then stop").
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.nextSync = time.Now()
	s.status.setNextScheduledSync(s.nextSync)

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if now.Before(s.nextSync) {
				continue
			}
			// A round in flight when ctx is cancelled still runs to
			// completion: runRound gets a context detached from ctx's
			// cancellation, and the loop observes ctx only between rounds.
			// Tick callers pass their own ctx, so there each adapter call
			// stays cancellable without leaving the log inconsistent
			// (spec.md §5 "Cancellation & timeouts").
			s.runRound(context.WithoutCancel(ctx))
			s.nextSync = time.Now().Add(s.syncInterval)
			s.status.setNextScheduledSync(s.nextSync)
		}
	}
}

// Tick runs exactly one sync round immediately, for callers (tests, a manual
// "sync now" trigger) that don't want to wait for the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	return s.runRound(ctx)
}

func (s *Scheduler) runRound(ctx context.Context) error {
	s.status.markStarted("sync_round", time.Now())

	var err error
	for _, a := range s.adapters {
		if err = s.syncOneAdapter(ctx, a); err != nil {
			break
		}
	}

	s.status.markCompleted(time.Now(), err)
	return err
}

// syncOneAdapter runs one pull-then-push round against a single adapter
// (spec.md §4.8 step 1: "for each configured adapter: pull, then push").
func (s *Scheduler) syncOneAdapter(ctx context.Context, a batch.Adapter) error {
	since := s.engine.Snapshot()
	incoming, err := a.Receive(ctx, since)
	if err != nil {
		return err
	}
	if incoming != nil && len(incoming.Ops) > 0 {
		if _, err := s.engine.ApplyBatch(ctx, incoming); err != nil {
			return err
		}
	}

	out, err := s.engine.BuildBatch(ctx, a.ReplicaID(), s.maxBatchSize)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	acked, err := a.Send(ctx, out)
	if err != nil {
		return err
	}
	return s.engine.MarkSent(ctx, acked, time.Now())
}
