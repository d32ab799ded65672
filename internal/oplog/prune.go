package oplog

import (
	"context"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

// PruneHorizon computes, for each origin, the minimum vv[origin] value
// acknowledged across the given peer vectors (spec.md §5 "Pruning": "a
// background task periodically computes prune_horizon = min over known
// peers of their last acknowledged vv[origin] for each origin").
//
// ackedPeerVVs is the set of "last known vv" snapshots for every replica in
// the configured membership (spec.md §3 "min-across-peers(vv[origin])").
func PruneHorizon(ackedPeerVVs []vclock.Vector) vclock.Vector {
	if len(ackedPeerVVs) == 0 {
		return vclock.New()
	}
	horizon := ackedPeerVVs[0].Clone()
	for _, peerVV := range ackedPeerVVs[1:] {
		for origin := range keyUnion(horizon, peerVV) {
			if peerVV.Get(origin) < horizon.Get(origin) {
				horizon[origin] = peerVV.Get(origin)
			} else if _, ok := horizon[origin]; !ok {
				horizon[origin] = 0
			}
		}
	}
	return horizon
}

func keyUnion(a, b vclock.Vector) map[vclock.ReplicaId]struct{} {
	out := make(map[vclock.ReplicaId]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// Prune deletes every synced Operation whose origin counter is covered by
// horizon, i.e. op.VV[op.Origin] <= horizon[op.Origin]; unsynced ops are
// never pruned (spec.md §3
// "Ops are destroyed only by the pruning protocol once every replica in the
// known membership has them in its vv"). It acquires Store.PruneLock for
// the duration of the pass so it never overlaps with ApplyBatch (spec.md §5
// "Pruning never runs while apply_batch is in flight").
//
// ackCount is the number of distinct peer acknowledgements that produced
// horizon; an op is only eligible once ackCount >= pruneThreshold, per
// spec.md §6's prune_threshold option.
func (s *Store) Prune(ctx context.Context, horizon vclock.Vector, ackCount, pruneThreshold int) (int, error) {
	if ackCount < pruneThreshold {
		return 0, nil
	}

	s.PruneLock.Lock()
	defer s.PruneLock.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT op_id, origin, vv FROM sync_operations WHERE synced = 1`)
	if err != nil {
		return 0, syncop.Wrap(syncop.KindDurability, "oplog.Prune", err)
	}

	type candidate struct {
		opID, origin string
		vvJSON       string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.opID, &c.origin, &c.vvJSON); err != nil {
			rows.Close()
			return 0, syncop.Wrap(syncop.KindDurability, "oplog.Prune", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, syncop.Wrap(syncop.KindDurability, "oplog.Prune", err)
	}

	pruned := 0
	for _, c := range candidates {
		vvMap, err := syncop.DecodeVV([]byte(c.vvJSON))
		if err != nil {
			continue
		}
		counter := vvMap[c.origin]
		if counter <= horizon.Get(vclock.ReplicaId(c.origin)) {
			if err := s.Delete(ctx, c.opID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
