package conflict

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

// Outcome names what a Resolver decided to do about a conflicting pair.
type Outcome int

const (
	// OutcomeMerge means a new, merged Operation was synthesized; Resolution.
	// Merged carries it.
	OutcomeMerge Outcome = iota
	// OutcomeKeepLocal means the local op stands and the remote is recorded
	// but superseded.
	OutcomeKeepLocal
	// OutcomeKeepRemote means the remote op stands and the local is recorded
	// but superseded.
	OutcomeKeepRemote
	// OutcomeKeepBoth means neither op supersedes the other — both are kept
	// (spec.md §4.5 ReferenceMismatch policy).
	OutcomeKeepBoth
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMerge:
		return "merge"
	case OutcomeKeepLocal:
		return "keep_local"
	case OutcomeKeepRemote:
		return "keep_remote"
	case OutcomeKeepBoth:
		return "keep_both"
	default:
		return "unknown"
	}
}

// Resolution is the result of resolving one conflicting pair.
type Resolution struct {
	Category Category
	Outcome  Outcome
	// Merged is set only when Outcome == OutcomeMerge: a new Operation
	// synthesizing both sides, stamped with the merge of their VVs.
	Merged *syncop.Operation
}

// cacheKey order-normalizes a pair of op IDs so Resolve(a, b) and
// Resolve(b, a) hit the same cache entry (spec.md §4.5 "Cache: resolutions
// are cacheable by the unordered pair of op_ids").
type cacheKey struct{ a, b string }

func newCacheKey(x, y string) cacheKey {
	if x < y {
		return cacheKey{x, y}
	}
	return cacheKey{y, x}
}

// Resolver implements the fixed conflict-resolution policy of spec.md §4.5,
// with an LRU cache over resolved (op_id, op_id) pairs whose capacity is
// conflict_cache_size (spec.md §6). The conflict_batch_divisor knob does not
// affect the cache; it sets the chunk size of syncengine.ApplyBatch.
type Resolver struct {
	cache *lru.Cache[cacheKey, Resolution]
}

// NewResolver builds a Resolver with an LRU cache of the given capacity.
// A non-positive size disables caching (every pair is always re-resolved).
func NewResolver(cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		return &Resolver{}, nil
	}
	c, err := lru.New[cacheKey, Resolution](cacheSize)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindInternal, "conflict.NewResolver", err)
	}
	return &Resolver{cache: c}, nil
}

// Resolve decides the outcome for a conflicting (local, remote) pair per the
// category Detect already classified. siblings is the full set of other
// known operations on the same entity, used by UpdateUpdate to locate a
// last-common-ancestor via FindAncestor.
func (r *Resolver) Resolve(category Category, local, remote *syncop.Operation, siblings []*syncop.Operation) (Resolution, error) {
	key := newCacheKey(local.ID, remote.ID)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
	}

	res, err := r.resolveUncached(category, local, remote, siblings)
	if err != nil {
		return Resolution{}, err
	}
	// KeepLocal/KeepRemote depend on argument order, so only the
	// order-independent outcomes are cached under the unordered key.
	if r.cache != nil && res.Outcome != OutcomeKeepLocal && res.Outcome != OutcomeKeepRemote {
		r.cache.Add(key, res)
	}
	return res, nil
}

func (r *Resolver) resolveUncached(category Category, local, remote *syncop.Operation, siblings []*syncop.Operation) (Resolution, error) {
	switch category {
	case CreateCreate:
		return r.resolveMerge(category, local, remote, nil)

	case UpdateUpdate:
		ancestor := FindAncestor(siblings, local, remote)
		return r.resolveMerge(category, local, remote, ancestor)

	case UpdateDelete:
		// local is the non-delete side, remote is the delete: tombstone wins.
		return Resolution{Category: category, Outcome: OutcomeKeepRemote}, nil

	case DeleteUpdate:
		// local is the delete side: tombstone wins.
		return Resolution{Category: category, Outcome: OutcomeKeepLocal}, nil

	case ReferenceMismatch:
		return Resolution{Category: category, Outcome: OutcomeKeepBoth}, nil

	default:
		return Resolution{}, syncop.NewError(syncop.KindInternal, "conflict.Resolve", "unresolvable category: "+category.String())
	}
}

func (r *Resolver) resolveMerge(category Category, local, remote *syncop.Operation, ancestor *syncop.Operation) (Resolution, error) {
	var payload syncop.Payload
	var err error
	if ancestor != nil {
		payload, err = mergeThreeWay(ancestor, local, remote)
	} else {
		payload, err = mergeFields(local, remote)
	}
	if err != nil {
		return Resolution{}, err
	}

	w := winner(local, remote)
	mergedVV := vclock.Merge(local.VV, remote.VV)
	merged := syncop.New(w.Origin, w.ActorID, syncop.Update, w.Entity, payload, mergedVV)
	return Resolution{Category: category, Outcome: OutcomeMerge, Merged: merged}, nil
}
