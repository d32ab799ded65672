package conflict

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

var canonicalJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// winner picks the deterministic tiebreak side for two concurrent ops on the
// same entity: lexicographically smaller origin wins, then smaller op_id on
// an origin tie (spec.md §4.5 "deterministic tiebreak" for CreateCreate and
// for field conflicts within UpdateUpdate). Mirrors the teacher's dag.go
// comment on using a stable key so every replica picks the same winner
// without negotiation.
func winner(a, b *syncop.Operation) *syncop.Operation {
	if a.Origin != b.Origin {
		if a.Origin < b.Origin {
			return a
		}
		return b
	}
	if a.ID < b.ID {
		return a
	}
	return b
}

// mergeFields performs the field-wise merge spec.md §4.5 describes for
// CreateCreate and the no-ancestor UpdateUpdate fallback: for each field
// that differs between the two payload bodies, take the value from the
// deterministic winner. Fields present on only one side are kept as-is.
//
// Payload bodies are domain JSON documents by the convention established in
// internal/syncop (NewReferencePayload is the other place this sync core
// looks inside a body); merging them key-by-key here is the concrete
// mechanism behind "field-wise... take the value from op with
// lexicographically smaller origin", not a full domain-aware merge.
func mergeFields(local, remote *syncop.Operation) (syncop.Payload, error) {
	w := winner(local, remote)
	loser := remote
	if w == remote {
		loser = local
	}

	var wFields, lFields map[string]json.RawMessage
	if err := canonicalJSON.Unmarshal(w.Payload.Body, &wFields); err != nil {
		// Not a JSON object body (or empty) — nothing to merge field-wise,
		// the winner's whole payload stands.
		return w.Payload, nil
	}
	if err := canonicalJSON.Unmarshal(loser.Payload.Body, &lFields); err != nil {
		return w.Payload, nil
	}

	merged := make(map[string]json.RawMessage, len(wFields)+len(lFields))
	for k, v := range lFields {
		merged[k] = v
	}
	for k, v := range wFields {
		merged[k] = v // winner's value overrides on any shared key
	}

	body, err := canonicalJSON.Marshal(merged)
	if err != nil {
		return syncop.Payload{}, syncop.Wrap(syncop.KindSerialization, "mergeFields", err)
	}
	return syncop.Payload{TypeTag: w.Payload.TypeTag, Version: w.Payload.Version, Body: body}, nil
}

// mergeThreeWay performs the UpdateUpdate three-way merge spec.md §4.5
// describes: for each field, if only one side changed it relative to
// ancestor, take that side's value; if both sides changed it, fall back to
// the deterministic winner tiebreak.
func mergeThreeWay(ancestor, local, remote *syncop.Operation) (syncop.Payload, error) {
	var aFields, lFields, rFields map[string]json.RawMessage
	_ = canonicalJSON.Unmarshal(ancestor.Payload.Body, &aFields)
	if err := canonicalJSON.Unmarshal(local.Payload.Body, &lFields); err != nil {
		return mergeFields(local, remote)
	}
	if err := canonicalJSON.Unmarshal(remote.Payload.Body, &rFields); err != nil {
		return mergeFields(local, remote)
	}

	w := winner(local, remote)
	wFields, loserFields := lFields, rFields
	if w == remote {
		wFields, loserFields = rFields, lFields
	}

	keys := make(map[string]struct{}, len(aFields)+len(lFields)+len(rFields))
	for k := range aFields {
		keys[k] = struct{}{}
	}
	for k := range lFields {
		keys[k] = struct{}{}
	}
	for k := range rFields {
		keys[k] = struct{}{}
	}

	merged := make(map[string]json.RawMessage, len(keys))
	for k := range keys {
		av, aok := aFields[k]
		lv, lok := lFields[k]
		rv, rok := rFields[k]

		localChanged := !aok && lok || aok && lok && string(av) != string(lv)
		remoteChanged := !aok && rok || aok && rok && string(av) != string(rv)

		switch {
		case localChanged && !remoteChanged:
			merged[k] = lv
		case remoteChanged && !localChanged:
			merged[k] = rv
		case localChanged && remoteChanged:
			if wv, ok := wFields[k]; ok {
				merged[k] = wv
			} else if lv2, ok := loserFields[k]; ok {
				merged[k] = lv2
			}
		default:
			if aok {
				merged[k] = av
			}
		}
	}

	body, err := canonicalJSON.Marshal(merged)
	if err != nil {
		return syncop.Payload{}, syncop.Wrap(syncop.KindSerialization, "mergeThreeWay", err)
	}
	return syncop.Payload{TypeTag: w.Payload.TypeTag, Version: w.Payload.Version, Body: body}, nil
}

// FindAncestor picks the most recent operation among siblings whose VV is
// dominated by min(local.VV, remote.VV) — the last-common-ancestor
// candidate spec.md §4.5 requires for the UpdateUpdate three-way merge.
// "Most recent" among vectors that are themselves pairwise incomparable is
// resolved deterministically by total counter sum, then by op_id, so every
// replica picks the same ancestor without negotiation.
func FindAncestor(siblings []*syncop.Operation, local, remote *syncop.Operation) *syncop.Operation {
	minVV := vclock.Min(local.VV, remote.VV)
	var best *syncop.Operation
	for _, s := range siblings {
		if s.ID == local.ID || s.ID == remote.ID {
			continue
		}
		if !vclock.LessEqual(s.VV, minVV) {
			continue
		}
		if best == nil || moreRecent(s, best) {
			best = s
		}
	}
	return best
}

func moreRecent(a, b *syncop.Operation) bool {
	if vclock.LessEqual(b.VV, a.VV) && !vclock.LessEqual(a.VV, b.VV) {
		return true
	}
	if vclock.LessEqual(a.VV, b.VV) {
		return false
	}
	sa, sb := sumVV(a.VV), sumVV(b.VV)
	if sa != sb {
		return sa > sb
	}
	return a.ID < b.ID
}

func sumVV(v vclock.Vector) uint64 {
	var total uint64
	for _, k := range v.SortedReplicas() {
		total += v.Get(k)
	}
	return total
}
