package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

func testOp() *syncop.Operation {
	return syncop.New("A", "user-1", syncop.Create, syncop.EntityRef{Type: "post", ID: "p1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{"title":"hi"}`)}, vclock.Vector{"A": 1})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New("A", "B", []*syncop.Operation{testOp()}, vclock.Vector{"A": 1})

	encoded, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, b.BatchID, decoded.BatchID)
	assert.Equal(t, b.Sender, decoded.Sender)
	require.Len(t, decoded.Ops, 1)
	assert.Equal(t, b.Ops[0].ID, decoded.Ops[0].ID)
	assert.Equal(t, b.Ops[0].Payload.TypeTag, decoded.Ops[0].Payload.TypeTag)
	assert.Equal(t, uint64(1), decoded.SenderVV.Get("A"))
}

func TestDecodeMalformedIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, syncop.IsKind(err, syncop.KindProtocol))
}

func TestNullAdapterAcksEverythingAndReceivesEmpty(t *testing.T) {
	a := &NullAdapter{Self: "A"}
	b := New("A", "B", []*syncop.Operation{testOp()}, vclock.Vector{"A": 1})

	acked, err := a.Send(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []string{b.Ops[0].ID}, acked)

	received, err := a.Receive(context.Background(), vclock.New())
	require.NoError(t, err)
	assert.Empty(t, received.Ops)
}

type fakeSource struct {
	pulled []ExternalOp
}

func (f *fakeSource) Push(ctx context.Context, op ExternalOp) (string, error) { return "remote-1", nil }
func (f *fakeSource) Pull(ctx context.Context) ([]ExternalOp, error)          { return f.pulled, nil }

func TestExternalAdapterGeneratesOwnVVOnPull(t *testing.T) {
	src := &fakeSource{pulled: []ExternalOp{
		{EntityType: "course", EntityID: "c1", TypeTag: "course.v1", Payload: []byte(`{}`)},
	}}
	a := NewExternalAdapter("canvas", src, vclock.New())

	b, err := a.Receive(context.Background(), vclock.New())
	require.NoError(t, err)
	require.Len(t, b.Ops, 1)
	assert.Equal(t, vclock.ReplicaId("canvas"), b.Ops[0].Origin)
	assert.Equal(t, uint64(1), b.Ops[0].VV.Get("canvas"))
}
