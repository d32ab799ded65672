// Package batch implements the wire format for exchanging Operations
// between replicas and external adapters (C7), and the Adapter interface
// that pluggable transports implement. Grounded on the teacher's
// vsync/initiator.go responder exchange shape (a GenVector-bounded pull
// followed by a push of the requester's own deltas) and spec.md §4.7/§6.
package batch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

var canonicalJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// Batch is the self-describing structured document spec.md §3/§6 defines:
// "{batch_id, sender, recipient, ops, sender_vv}", ops kept in the sender's
// per-origin FIFO order they were read from the log in.
type Batch struct {
	BatchID   string
	Sender    vclock.ReplicaId
	Recipient vclock.ReplicaId
	Ops       []*syncop.Operation
	SenderVV  vclock.Vector
}

// New builds a Batch, assigning a fresh batch_id.
func New(sender, recipient vclock.ReplicaId, ops []*syncop.Operation, senderVV vclock.Vector) *Batch {
	return &Batch{
		BatchID:   uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Ops:       ops,
		SenderVV:  senderVV.Clone(),
	}
}

// wireOp and wireBatch mirror spec.md §6's "Opaque payloads are
// length-prefixed byte strings; the engine never parses them" by encoding
// each Operation's Payload through syncop's own canonical envelope encoding
// before embedding it in the batch document.
type wireOp struct {
	OpID       string          `json:"op_id"`
	Origin     string          `json:"origin"`
	ActorID    string          `json:"actor_id"`
	Kind       int             `json:"kind"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	WallTime   int64           `json:"wall_time"`
	VV         json.RawMessage `json:"vv"`
	Synced     bool            `json:"synced"`
}

type wireBatch struct {
	BatchID   string   `json:"batch_id"`
	Sender    string   `json:"sender"`
	Recipient string   `json:"recipient"`
	Ops       []wireOp `json:"ops"`
	SenderVV  json.RawMessage `json:"sender_vv"`
}

// Encode returns the canonical sorted-key JSON wire representation of b.
func Encode(b *Batch) ([]byte, error) {
	ops := make([]wireOp, 0, len(b.Ops))
	for _, op := range b.Ops {
		payload, err := op.Payload.Encode()
		if err != nil {
			return nil, err
		}
		vvMap := make(map[string]uint64, len(op.VV))
		for k, v := range op.VV {
			vvMap[string(k)] = v
		}
		vvJSON, err := syncop.EncodeVV(vvMap)
		if err != nil {
			return nil, err
		}
		ops = append(ops, wireOp{
			OpID: op.ID, Origin: string(op.Origin), ActorID: op.ActorID,
			Kind: int(op.Kind), EntityType: op.Entity.Type, EntityID: op.Entity.ID,
			Payload: payload, WallTime: op.WallTime.UnixNano(), VV: vvJSON, Synced: op.Synced,
		})
	}
	senderVVMap := make(map[string]uint64, len(b.SenderVV))
	for k, v := range b.SenderVV {
		senderVVMap[string(k)] = v
	}
	senderVVJSON, err := syncop.EncodeVV(senderVVMap)
	if err != nil {
		return nil, err
	}

	wb := wireBatch{
		BatchID: b.BatchID, Sender: string(b.Sender), Recipient: string(b.Recipient),
		Ops: ops, SenderVV: senderVVJSON,
	}
	out, err := canonicalJSON.Marshal(wb)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindSerialization, "batch.Encode", err)
	}
	return out, nil
}

// Decode reverses Encode. A malformed envelope is a Protocol error — the
// whole batch is rejected (spec.md §4.6 "Failure semantics"); a single op
// with an undecodable payload or vv is dropped instead.
func Decode(data []byte) (*Batch, error) {
	var wb wireBatch
	if err := canonicalJSON.Unmarshal(data, &wb); err != nil {
		return nil, syncop.Wrap(syncop.KindProtocol, "batch.Decode", err)
	}

	senderVVMap, err := syncop.DecodeVV(wb.SenderVV)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindProtocol, "batch.Decode", err)
	}
	senderVV := vclock.New()
	for k, v := range senderVVMap {
		senderVV[vclock.ReplicaId(k)] = v
	}

	ops := make([]*syncop.Operation, 0, len(wb.Ops))
	for _, wo := range wb.Ops {
		// An op whose payload or vv cannot be decoded is dropped on its
		// own; the remaining ops of the document are still returned.
		payload, err := syncop.DecodePayload(wo.Payload)
		if err != nil {
			continue
		}
		vvMap, err := syncop.DecodeVV(wo.VV)
		if err != nil {
			continue
		}
		vv := vclock.New()
		for k, v := range vvMap {
			vv[vclock.ReplicaId(k)] = v
		}

		op := &syncop.Operation{
			ID:      wo.OpID,
			Origin:  vclock.ReplicaId(wo.Origin),
			ActorID: wo.ActorID,
			Kind:    syncop.Kind(wo.Kind),
			Entity:  syncop.EntityRef{Type: wo.EntityType, ID: wo.EntityID},
			Payload: payload,
			VV:      vv,
			Synced:  wo.Synced,
		}
		op.WallTime = unixNanoToTime(wo.WallTime)
		ops = append(ops, op)
	}

	return &Batch{
		BatchID:   wb.BatchID,
		Sender:    vclock.ReplicaId(wb.Sender),
		Recipient: vclock.ReplicaId(wb.Recipient),
		Ops:       ops,
		SenderVV:  senderVV,
	}, nil
}

func unixNanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
