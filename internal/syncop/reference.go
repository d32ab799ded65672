package syncop

// ReferenceTypeTag is the conventional Payload.TypeTag for Reference-kind
// Operations. Reference ops are the one place the sync core needs a sliver
// of payload structure: spec.md §4.4 requires the Conflict Detector to tell
// whether two concurrent Reference ops on the same anchor target the same
// peer entity or different ones. Everything else about a Reference's
// payload remains opaque.
const ReferenceTypeTag = "ref.v1"

// referenceBody is the minimal structural convention for a Reference
// payload: the peer entity the anchor is being linked to.
type referenceBody struct {
	PeerType string `json:"peer_type"`
	PeerID   string `json:"peer_id"`
}

// NewReferencePayload builds the Payload for a Reference Operation linking
// its anchor entity to peer.
func NewReferencePayload(peer EntityRef) (Payload, error) {
	body, err := canonicalJSON.Marshal(referenceBody{PeerType: peer.Type, PeerID: peer.ID})
	if err != nil {
		return Payload{}, Wrap(KindSerialization, "NewReferencePayload", err)
	}
	return Payload{TypeTag: ReferenceTypeTag, Version: 1, Body: body}, nil
}

// ReferencePeer extracts the peer entity reference from a Reference
// Operation's payload. Returns a Serialization error if op's payload does
// not follow the ref.v1 convention.
func ReferencePeer(p Payload) (EntityRef, error) {
	if p.TypeTag != ReferenceTypeTag {
		return EntityRef{}, NewError(KindSerialization, "ReferencePeer", "payload is not a reference payload")
	}
	var body referenceBody
	if err := canonicalJSON.Unmarshal(p.Body, &body); err != nil {
		return EntityRef{}, Wrap(KindSerialization, "ReferencePeer", err)
	}
	return EntityRef{Type: body.PeerType, ID: body.PeerID}, nil
}
