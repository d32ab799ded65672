package syncop

import (
	jsoniter "github.com/json-iterator/go"
)

// canonicalJSON is configured to sort map keys, matching spec.md §6's
// "vv is a canonical JSON-encoded map sorted by key" requirement and used
// for every on-disk/on-wire encoding in this package (payload envelope,
// vector-clock snapshots, reference bodies); batch documents are encoded by
// internal/batch with its own sorted-key config. Standard encoding/json already
// sorts map keys when marshaling, but jsoniter is used throughout the rest
// of the sync core's wire-format code (see internal/batch), so the payload
// envelope matches it rather than mixing two JSON libraries.
var canonicalJSON = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Payload is the opaque structured value an Operation carries. Per spec.md
// §9 "Dynamic payloads", this reimplementation uses a sealed envelope
// {type_tag, version, body} instead of an unrestricted dynamic value, so
// that a decode failure is localized to one entity_type's codec and schema
// evolution is possible within an epoch.
type Payload struct {
	// TypeTag names the domain kind of the body, e.g. "course.v1",
	// "post.v1", "enrollment.v1". The sync core never interprets it, except
	// that ReferencePeer checks it against ReferenceTypeTag.
	TypeTag string
	// Version is the schema epoch of Body. A reimplementation MUST NOT
	// attempt to migrate Body across incompatible Version values — that is
	// an explicit non-goal (spec.md §1).
	Version int
	// Body is the raw domain-encoded bytes. The sync core never parses it;
	// domain repositories decode it keyed by TypeTag.
	Body []byte
}

// wirePayload is the canonical JSON shape of a Payload on the wire and in
// the sync_operations.payload column.
type wirePayload struct {
	TypeTag string `json:"type_tag"`
	Version int    `json:"version"`
	Body    []byte `json:"body"` // base64 via encoding/json's []byte handling
}

// Encode returns the canonical byte representation of p.
func (p Payload) Encode() ([]byte, error) {
	w := wirePayload{TypeTag: p.TypeTag, Version: p.Version, Body: p.Body}
	b, err := canonicalJSON.Marshal(w)
	if err != nil {
		return nil, Wrap(KindSerialization, "Payload.Encode", err)
	}
	return b, nil
}

// DecodePayload reverses Encode. A malformed envelope is always a
// Serialization error — on the receive path batch.Decode drops just the
// offending operation rather than failing the whole batch, per spec.md §4.6
// "Failure semantics".
func DecodePayload(b []byte) (Payload, error) {
	var w wirePayload
	if err := canonicalJSON.Unmarshal(b, &w); err != nil {
		return Payload{}, Wrap(KindSerialization, "DecodePayload", err)
	}
	return Payload{TypeTag: w.TypeTag, Version: w.Version, Body: w.Body}, nil
}

// EncodeVV returns the canonical sorted-key JSON encoding of a version
// vector, used for the sync_operations.vv column and for Batch.SenderVV on
// the wire.
func EncodeVV(m map[string]uint64) ([]byte, error) {
	b, err := canonicalJSON.Marshal(m)
	if err != nil {
		return nil, Wrap(KindSerialization, "EncodeVV", err)
	}
	return b, nil
}

// DecodeVV reverses EncodeVV.
func DecodeVV(b []byte) (map[string]uint64, error) {
	var m map[string]uint64
	if err := canonicalJSON.Unmarshal(b, &m); err != nil {
		return nil, Wrap(KindSerialization, "DecodeVV", err)
	}
	return m, nil
}
