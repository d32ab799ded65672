package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

func op(origin vclock.ReplicaId, kind syncop.Kind, vv vclock.Vector) *syncop.Operation {
	return syncop.New(origin, "user-1", kind, syncop.EntityRef{Type: "post", ID: "p1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{"title":"a"}`)}, vv)
}

func TestDetectCausallyOrderedIsNeverAConflict(t *testing.T) {
	a := op("A", syncop.Update, vclock.Vector{"A": 1})
	b := op("A", syncop.Update, vclock.Vector{"A": 2})

	res := Detect(a, b)
	assert.False(t, res.IsConflict)
	assert.Equal(t, NotAConflict, res.Category)
}

func TestDetectCreateCreateConcurrentIsAlwaysAConflict(t *testing.T) {
	a := op("A", syncop.Create, vclock.Vector{"A": 1})
	b := op("B", syncop.Create, vclock.Vector{"B": 1})

	res := Detect(a, b)
	require.True(t, res.IsConflict)
	assert.Equal(t, CreateCreate, res.Category)
}

func TestDetectConcurrentDeleteDeleteIsNotAConflict(t *testing.T) {
	a := op("A", syncop.Delete, vclock.Vector{"A": 1})
	b := op("B", syncop.Delete, vclock.Vector{"B": 1})

	res := Detect(a, b)
	assert.False(t, res.IsConflict)
}

func TestDetectUpdateDeleteVsDeleteUpdateAreMirrored(t *testing.T) {
	update := op("A", syncop.Update, vclock.Vector{"A": 1})
	del := op("B", syncop.Delete, vclock.Vector{"B": 1})

	r1 := Detect(update, del)
	assert.Equal(t, UpdateDelete, r1.Category)

	r2 := Detect(del, update)
	assert.Equal(t, DeleteUpdate, r2.Category)
}

func TestDetectReferenceVsMutationIsNeverAConflict(t *testing.T) {
	peer, err := syncop.NewReferencePayload(syncop.EntityRef{Type: "tag", ID: "t1"})
	require.NoError(t, err)
	ref := syncop.New("A", "user-1", syncop.Reference, syncop.EntityRef{Type: "post", ID: "p1"}, peer, vclock.Vector{"A": 1})
	update := op("B", syncop.Update, vclock.Vector{"B": 1})

	res := Detect(ref, update)
	assert.False(t, res.IsConflict)
}

func TestDetectReferenceMismatchOnDifferentPeers(t *testing.T) {
	p1, _ := syncop.NewReferencePayload(syncop.EntityRef{Type: "tag", ID: "t1"})
	p2, _ := syncop.NewReferencePayload(syncop.EntityRef{Type: "tag", ID: "t2"})
	a := syncop.New("A", "user-1", syncop.Reference, syncop.EntityRef{Type: "post", ID: "p1"}, p1, vclock.Vector{"A": 1})
	b := syncop.New("B", "user-1", syncop.Reference, syncop.EntityRef{Type: "post", ID: "p1"}, p2, vclock.Vector{"B": 1})

	res := Detect(a, b)
	require.True(t, res.IsConflict)
	assert.Equal(t, ReferenceMismatch, res.Category)
}

func TestDetectReferenceSamePeerIsNotAConflict(t *testing.T) {
	p1, _ := syncop.NewReferencePayload(syncop.EntityRef{Type: "tag", ID: "t1"})
	a := syncop.New("A", "user-1", syncop.Reference, syncop.EntityRef{Type: "post", ID: "p1"}, p1, vclock.Vector{"A": 1})
	b := syncop.New("B", "user-1", syncop.Reference, syncop.EntityRef{Type: "post", ID: "p1"}, p1, vclock.Vector{"B": 1})

	res := Detect(a, b)
	assert.False(t, res.IsConflict)
}
