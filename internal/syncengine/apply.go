package syncengine

import (
	"context"

	"github.com/ordokr/lms-syncd/internal/batch"
	"github.com/ordokr/lms-syncd/internal/conflict"
	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

// OpOutcome records what happened to one incoming Operation during
// ApplyBatch, for callers (tests, telemetry) that want a per-op report.
type OpOutcome struct {
	OpID     string
	Category conflict.Category // NotAConflict if there was nothing to resolve
	Outcome  conflict.Outcome
	Skipped  bool // already present in the log (idempotent duplicate)
}

// ApplyBatch integrates a remote Batch, processing ops in the sender's
// per-origin order exactly as received (spec.md §4.6 "apply_batch"). A
// version-vector regression in the sender's claimed vv — sender_vv[origin]
// less than the last vv this sender itself claimed — rejects the whole batch
// as malformed (spec.md §4.6 "Failure semantics").
//
// Resolution work is amortized in chunks of conflictBatchSize
// (SPEC_FULL.md supplemented feature #2): ctx is rechecked at every chunk
// boundary so a very large batch backed by a slow resolver cache doesn't run
// to completion uninterruptibly once the caller has given up (spec.md §5
// "Cancellation & timeouts"). A zero conflictBatchSize (the default Engine
// built via New) processes the whole batch as a single chunk.
func (e *Engine) ApplyBatch(ctx context.Context, b *batch.Batch) ([]OpOutcome, error) {
	e.log.PruneLock.RLock()
	defer e.log.PruneLock.RUnlock()

	if err := e.checkNoRegression(b.Sender, b.SenderVV); err != nil {
		return nil, err
	}

	chunkSize := e.conflictBatchSize
	if chunkSize <= 0 {
		chunkSize = len(b.Ops)
	}

	outcomes := make([]OpOutcome, 0, len(b.Ops))
	for i, remote := range b.Ops {
		if i > 0 && i%chunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return outcomes, err
			}
		}
		// Ops inside a chunk run on a context detached from cancellation;
		// ctx is observed only at the chunk boundary above.
		outcome, err := e.applyOne(context.WithoutCancel(ctx), remote)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}

	e.clock.Merge(b.SenderVV)
	return outcomes, nil
}

// checkNoRegression compares senderVV against the last sender_vv this engine
// accepted from this same sender — not against the receiver's own
// independently-advancing clock. A peer that simply hasn't yet heard about
// this replica's own progress (spec.md's S1 scenario: A and B both advance
// locally from a shared {A:1,B:1} before exchanging) is not a regression;
// only a sender claiming to know *less than it told us last time* is
// (spec.md §4.6 "Failure semantics", §5 "Convergence"/"Monotonic VV").
func (e *Engine) checkNoRegression(sender vclock.ReplicaId, senderVV vclock.Vector) error {
	e.peerMu.Lock()
	defer e.peerMu.Unlock()

	last := e.peerVV[sender]
	for origin, claimed := range senderVV {
		if claimed < last.Get(origin) {
			return syncop.NewError(syncop.KindProtocol, "syncengine.ApplyBatch",
				"sender vv regression for origin "+string(origin))
		}
	}
	e.peerVV[sender] = vclock.Merge(last, senderVV)
	return nil
}

func (e *Engine) applyOne(ctx context.Context, remote *syncop.Operation) (OpOutcome, error) {
	has, err := e.log.Has(ctx, remote.ID)
	if err != nil {
		return OpOutcome{}, err
	}
	if has {
		return OpOutcome{OpID: remote.ID, Skipped: true}, nil
	}

	siblings, err := e.log.FindSiblings(ctx, remote.Entity.Type, remote.Entity.ID)
	if err != nil {
		return OpOutcome{}, err
	}

	var conflicting []*syncop.Operation
	var categories []conflict.Category
	var category conflict.Category
	for _, local := range siblings {
		res := conflict.Detect(local, remote)
		if res.IsConflict {
			conflicting = append(conflicting, local)
			categories = append(categories, res.Category)
			category = res.Category
		}
	}

	if len(conflicting) == 0 {
		if err := e.log.Append(ctx, remote); err != nil {
			return OpOutcome{}, err
		}
		e.clock.Merge(remote.VV)
		if e.tel != nil {
			e.tel.Op("applied", remote.ID, string(remote.Origin), remote.Entity.Type)
		}
		return OpOutcome{OpID: remote.ID, Category: conflict.NotAConflict}, nil
	}

	// Multiple siblings can independently conflict with the same incoming
	// op; spec.md §4.5's policy table is defined pairwise, so resolve
	// against each conflicting local in turn and apply every outcome.
	var last conflict.Resolution
	for i, local := range conflicting {
		res, err := e.resolver.Resolve(categories[i], local, remote, siblings)
		if err != nil {
			return OpOutcome{}, err
		}
		if err := e.applyResolution(ctx, local, remote, res); err != nil {
			return OpOutcome{}, err
		}
		last = res
		if e.tel != nil {
			e.tel.Conflict("conflict_detected", categories[i].String(), remote.ID, remote.Entity.Type)
			e.tel.Conflict("conflict_resolved", res.Outcome.String(), remote.ID, remote.Entity.Type)
		}
	}
	return OpOutcome{OpID: remote.ID, Category: category, Outcome: last.Outcome}, nil
}

// applyResolution carries out one Resolution per spec.md §4.6 step 5.
func (e *Engine) applyResolution(ctx context.Context, local, remote *syncop.Operation, res conflict.Resolution) error {
	switch res.Outcome {
	case conflict.OutcomeKeepLocal:
		// Do not append remote; no log mutation. The rejected remote op is
		// only ever recorded via the structured telemetry event above — the
		// persisted schema (spec.md §6) has no superseded-by column.
		return nil

	case conflict.OutcomeKeepRemote:
		if err := e.log.Append(ctx, remote); err != nil {
			return err
		}
		e.clock.Merge(remote.VV)
		// The superseded local op is left in place; it becomes prune-eligible
		// normally once every replica's vv dominates it (spec.md §5 "Pruning").
		return nil

	case conflict.OutcomeKeepBoth:
		return e.appendForeign(ctx, remote)

	case conflict.OutcomeMerge:
		if err := e.appendForeign(ctx, remote); err != nil {
			return err
		}
		// The merged op is authored by the integrating replica: restamp its
		// origin/vv as a fresh local increment (spec.md §4.6 "increment VV
		// for each append as if locally authored — the merged op's origin is
		// the integrating replica"), then append exactly as queue_local would.
		localVV := e.clock.Increment(e.self)
		merged := syncop.New(e.self, res.Merged.ActorID, res.Merged.Kind, res.Merged.Entity, res.Merged.Payload, localVV)
		return e.log.Append(ctx, merged)

	default:
		return syncop.NewError(syncop.KindInternal, "syncengine.applyResolution", "unhandled outcome")
	}
}

// appendForeign appends a remote-origin op and merges its vv into the engine
// clock, as step 4/5's "KeepRemote"/"KeepBoth" append does.
func (e *Engine) appendForeign(ctx context.Context, remote *syncop.Operation) error {
	if err := e.log.Append(ctx, remote); err != nil {
		return err
	}
	e.clock.Merge(remote.VV)
	return nil
}
