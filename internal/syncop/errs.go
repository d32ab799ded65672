package syncop

import (
	"github.com/pkg/errors"
)

// Kind is the sync core's closed error taxonomy (spec §7). It is never
// extended outside this set; a new failure mode must be mapped onto one of
// these five before it crosses a component boundary.
type Kind int

const (
	// KindDurability: the storage layer refused a write. Propagated to the
	// caller; aborts the transaction.
	KindDurability Kind = iota
	// KindSerialization: a payload or vector-clock value could not be
	// encoded/decoded. Fails the whole batch on send; drops only the
	// offending op on receive.
	KindSerialization
	// KindProtocol: a malformed batch (vv regression, duplicate op_id with
	// different content, missing origin). Rejects the entire batch.
	KindProtocol
	// KindAdapter: failure surfaced by an Adapter (Transient,
	// PayloadRejected, AuthFailure, RemoteConflict — see batch.AdapterError).
	KindAdapter
	// KindInternal: a corrupted log index or a fatal invariant violation
	// (e.g. vector-clock overflow). Halts the engine and surfaces loudly.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindDurability:
		return "durability"
	case KindSerialization:
		return "serialization"
	case KindProtocol:
		return "protocol"
	case KindAdapter:
		return "adapter"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the sync core's error value: a Kind plus a wrapped cause. Stack
// traces come from github.com/pkg/errors at construction time, matching the
// rest of the pack's error-wrapping idiom.
type Error struct {
	Kind Kind
	Op   string // the sync-core operation that failed, e.g. "oplog.Append"
	err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Kind.String() + ": " + e.Op + ": " + e.err.Error()
	}
	return e.Kind.String() + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// NewError builds an Error of the given kind, wrapping msg with a stack trace.
func NewError(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, err: errors.New(msg)}
}

// Wrap builds an Error of the given kind around an existing error, adding a
// stack trace if err does not already carry one.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: errors.WithStack(err)}
}

// IsKind reports whether the first *Error found in err's chain (err itself
// included) has the given Kind; *Errors nested deeper are not consulted.
func IsKind(err error, kind Kind) bool {
	var se *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			se = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return se != nil && se.Kind == kind
}
