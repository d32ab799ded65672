package batch

import (
	"context"
	"sync"
	"time"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

// AdapterErrorKind enumerates the four failure shapes spec.md §4.7 names.
type AdapterErrorKind int

const (
	Transient AdapterErrorKind = iota
	PayloadRejected
	AuthFailure
	RemoteConflict
)

// AdapterError is the error type every Adapter method returns. RetryAfter is
// only meaningful for Transient; OpID/Reason for PayloadRejected;
// RemoteState for RemoteConflict.
type AdapterError struct {
	Kind        AdapterErrorKind
	RetryAfter  time.Duration
	OpID        string
	Reason      string
	RemoteState []byte
}

func (e *AdapterError) Error() string {
	switch e.Kind {
	case Transient:
		return "adapter: transient failure, retry after " + e.RetryAfter.String()
	case PayloadRejected:
		return "adapter: payload rejected for op " + e.OpID + ": " + e.Reason
	case AuthFailure:
		return "adapter: authentication failure"
	case RemoteConflict:
		return "adapter: remote conflict for op " + e.OpID
	default:
		return "adapter: unknown error"
	}
}

// Adapter is any component exposing send/receive (spec.md §4.7). Adapters
// translate payloads only: they must preserve op_id end-to-end and must
// never merge or reorder ops — ordering and merging stay engine
// responsibilities.
type Adapter interface {
	// Send transmits batch and returns the op_ids the remote end acked.
	Send(ctx context.Context, b *Batch) (ackedOpIDs []string, err error)
	// Receive pulls a Batch of operations the remote end has produced since
	// the given version vector.
	Receive(ctx context.Context, since vclock.Vector) (*Batch, error)
	// ReplicaID is the (possibly pseudo-)replica this adapter speaks for.
	ReplicaID() vclock.ReplicaId
}

// NullAdapter is a no-op Adapter for testing (spec.md §4.7 "Null adapter for
// testing"): Send always acks everything, Receive always returns an empty
// batch.
type NullAdapter struct {
	Self vclock.ReplicaId
}

func (n *NullAdapter) ReplicaID() vclock.ReplicaId { return n.Self }

func (n *NullAdapter) Send(ctx context.Context, b *Batch) ([]string, error) {
	ids := make([]string, len(b.Ops))
	for i, op := range b.Ops {
		ids[i] = op.ID
	}
	return ids, nil
}

func (n *NullAdapter) Receive(ctx context.Context, since vclock.Vector) (*Batch, error) {
	return New(n.Self, "", nil, vclock.New()), nil
}

// PeerAdapter is a symmetric exchange with another replica running the same
// protocol (spec.md §4.7): Send/Receive round-trip encoded Batch documents
// through a Transport, matching the teacher's vsync/initiator.go–responder.go
// pairing generalized from Vanadium's RPC stubs to a pluggable Transport.
type PeerAdapter struct {
	PeerID    vclock.ReplicaId
	Transport PeerTransport
}

// PeerTransport is the minimal networking seam a PeerAdapter needs; a real
// deployment supplies an implementation over gRPC, QUIC, or plain HTTP.
type PeerTransport interface {
	SendBatch(ctx context.Context, encoded []byte) (ackedOpIDs []string, err error)
	RequestBatch(ctx context.Context, sinceVV []byte) (encoded []byte, err error)
}

func (p *PeerAdapter) ReplicaID() vclock.ReplicaId { return p.PeerID }

func (p *PeerAdapter) Send(ctx context.Context, b *Batch) ([]string, error) {
	encoded, err := Encode(b)
	if err != nil {
		return nil, err
	}
	return p.Transport.SendBatch(ctx, encoded)
}

func (p *PeerAdapter) Receive(ctx context.Context, since vclock.Vector) (*Batch, error) {
	sinceVV := make(map[string]uint64, len(since))
	for k, v := range since {
		sinceVV[string(k)] = v
	}
	sinceJSON, err := syncop.EncodeVV(sinceVV)
	if err != nil {
		return nil, err
	}
	encoded, err := p.Transport.RequestBatch(ctx, sinceJSON)
	if err != nil {
		return nil, err
	}
	return Decode(encoded)
}

// ExternalAdapter models a Canvas/Discourse-style system-of-record (spec.md
// §4.7): it assigns itself a fixed pseudo-ReplicaId and generates its own vv
// increments on pull, so external changes surface as ordinary Operations
// with non-local origin. SourceOfRecord does the actual REST/GraphQL
// translation; ExternalAdapter owns only the vv bookkeeping the engine
// requires of any adapter.
type ExternalAdapter struct {
	PseudoReplicaID vclock.ReplicaId
	Source          SourceOfRecord

	mu  sync.Mutex
	vv  vclock.Vector
}

// SourceOfRecord is the external-system seam: push one op's payload out,
// pull everything changed since a point, expressed in the remote's own
// terms. The sync core never sees beyond this interface (spec.md §1 "treated
// as external collaborators with defined interfaces only").
type SourceOfRecord interface {
	Push(ctx context.Context, op ExternalOp) (remoteID string, err error)
	Pull(ctx context.Context) ([]ExternalOp, error)
}

// ExternalOp is one change as translated to/from the external system,
// opaque to everything except the adapter and the SourceOfRecord.
type ExternalOp struct {
	EntityType string
	EntityID   string
	Payload    []byte
	TypeTag    string
}

// NewExternalAdapter seeds the adapter's internal vv at startVV (typically
// the engine's max_vv_by_origin snapshot for this pseudo-replica).
func NewExternalAdapter(id vclock.ReplicaId, source SourceOfRecord, startVV vclock.Vector) *ExternalAdapter {
	return &ExternalAdapter{PseudoReplicaID: id, Source: source, vv: startVV.Clone()}
}

func (e *ExternalAdapter) ReplicaID() vclock.ReplicaId { return e.PseudoReplicaID }

func (e *ExternalAdapter) Send(ctx context.Context, b *Batch) ([]string, error) {
	acked := make([]string, 0, len(b.Ops))
	for _, op := range b.Ops {
		_, err := e.Source.Push(ctx, ExternalOp{
			EntityType: op.Entity.Type, EntityID: op.Entity.ID,
			Payload: op.Payload.Body, TypeTag: op.Payload.TypeTag,
		})
		if err != nil {
			return acked, err
		}
		acked = append(acked, op.ID)
	}
	return acked, nil
}

func (e *ExternalAdapter) Receive(ctx context.Context, since vclock.Vector) (*Batch, error) {
	changes, err := e.Source.Pull(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ops := make([]*syncop.Operation, 0, len(changes))
	for _, c := range changes {
		e.vv[e.PseudoReplicaID]++
		payload := syncop.Payload{TypeTag: c.TypeTag, Version: 1, Body: c.Payload}
		op := syncop.New(e.PseudoReplicaID, "external", syncop.Update,
			syncop.EntityRef{Type: c.EntityType, ID: c.EntityID}, payload, e.vv)
		ops = append(ops, op)
	}
	return New(e.PseudoReplicaID, "", ops, e.vv), nil
}
