// Package syncop defines the sync core's unit of intent — the Operation —
// and the opaque payload envelope it carries. This mirrors the teacher's
// dagNode/log-record shape (services/syncbase/sync/dag.go) and the original
// Rust SyncOperation (sync/engine.rs), generalized to spec.md §3's field set.
package syncop

import (
	"time"

	"github.com/google/uuid"

	"github.com/ordokr/lms-syncd/internal/vclock"
)

// Kind enumerates the four mutation intents spec.md §3 defines. The integer
// values match the sync_operations.kind encoding in spec.md §6 exactly.
type Kind int

const (
	Create Kind = iota
	Update
	Delete
	Reference
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

// EntityRef names the (entity_type, entity_id) pair an Operation mutates.
// The sync core never inspects anything about an entity beyond this pair.
type EntityRef struct {
	Type string
	ID   string
}

// Operation is an immutable record of one intent-level mutation. Once
// constructed its identity fields never change; only Synced/SyncedAt are
// mutable metadata (spec.md §3).
type Operation struct {
	ID       string // op_id, assigned at creation
	Origin   vclock.ReplicaId
	ActorID  string
	Kind     Kind
	Entity   EntityRef
	Payload  Payload
	WallTime time.Time
	VV       vclock.Vector // snapshot taken after the origin's increment

	Synced   bool
	SyncedAt *time.Time
}

// New constructs an Operation. vv must already reflect the origin's
// post-increment counter — callers obtain it from vclock.Clock.Increment,
// never from a bare Snapshot, so that every Operation's VV is unique per
// origin (spec.md §4.2, §4.6 "queue_local" step 1-2).
func New(origin vclock.ReplicaId, actorID string, kind Kind, entity EntityRef, payload Payload, vv vclock.Vector) *Operation {
	return &Operation{
		ID:       uuid.NewString(),
		Origin:   origin,
		ActorID:  actorID,
		Kind:     kind,
		Entity:   entity,
		Payload:  payload,
		WallTime: time.Now().UTC(),
		VV:       vv.Clone(),
		Synced:   false,
	}
}

// MarkSynced returns a copy of op with Synced/SyncedAt updated. Operations
// are otherwise immutable, so mutation of this metadata always goes through
// a copy — call sites store the copy back via oplog.MarkSynced.
func (op *Operation) MarkSynced(at time.Time) *Operation {
	cp := *op
	cp.Synced = true
	cp.SyncedAt = &at
	return &cp
}
