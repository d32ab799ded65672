package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/ordokr/lms-syncd/internal/batch"
	"github.com/ordokr/lms-syncd/internal/conflict"
	"github.com/ordokr/lms-syncd/internal/oplog"
	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

type EngineSuite struct {
	suite.Suite
	store  *oplog.Store
	engine *Engine
	ctx    context.Context
}

func (s *EngineSuite) SetupTest() {
	store, err := oplog.Open(":memory:")
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()

	resolver, err := conflict.NewResolver(64)
	s.Require().NoError(err)

	eng, err := New(s.ctx, "A", store, resolver, nil)
	s.Require().NoError(err)
	s.engine = eng
}

func (s *EngineSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) TestQueueLocalAppendsAndIncrementsVV() {
	op, err := s.engine.QueueLocal(s.ctx, syncop.Create, syncop.EntityRef{Type: "post", ID: "p1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, "user-1")
	s.Require().NoError(err)
	s.Equal(uint64(1), op.VV.Get("A"))

	got, err := s.store.Get(s.ctx, op.ID)
	s.Require().NoError(err)
	s.NotNil(got)
}

func (s *EngineSuite) TestBuildBatchReturnsNilWhenNothingPending() {
	b, err := s.engine.BuildBatch(s.ctx, "B", 10)
	s.Require().NoError(err)
	s.Nil(b)
}

func (s *EngineSuite) TestBuildBatchThenMarkSentFlipsSynced() {
	op, err := s.engine.QueueLocal(s.ctx, syncop.Create, syncop.EntityRef{Type: "post", ID: "p1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, "user-1")
	s.Require().NoError(err)

	b, err := s.engine.BuildBatch(s.ctx, "B", 10)
	s.Require().NoError(err)
	s.Require().NotNil(b)
	s.Require().Len(b.Ops, 1)

	s.Require().NoError(s.engine.MarkSent(s.ctx, []string{op.ID}, time.Now()))

	b2, err := s.engine.BuildBatch(s.ctx, "B", 10)
	s.Require().NoError(err)
	s.Nil(b2)
}

func (s *EngineSuite) TestApplyBatchIntegratesNonConflictingRemoteOp() {
	remote := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "remote-1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"B": 1})
	b := batch.New("B", "A", []*syncop.Operation{remote}, vclock.Vector{"B": 1})

	outcomes, err := s.engine.ApplyBatch(s.ctx, b)
	s.Require().NoError(err)
	s.Require().Len(outcomes, 1)
	s.Equal(conflict.NotAConflict, outcomes[0].Category)

	got, err := s.store.Get(s.ctx, remote.ID)
	s.Require().NoError(err)
	s.NotNil(got)
	s.Equal(uint64(1), s.engine.Snapshot().Get("B"))
}

func (s *EngineSuite) TestApplyBatchIsIdempotentOnDuplicateOpID() {
	remote := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "remote-1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"B": 1})
	b := batch.New("B", "A", []*syncop.Operation{remote}, vclock.Vector{"B": 1})

	_, err := s.engine.ApplyBatch(s.ctx, b)
	s.Require().NoError(err)

	outcomes, err := s.engine.ApplyBatch(s.ctx, b)
	s.Require().NoError(err)
	s.Require().Len(outcomes, 1)
	s.True(outcomes[0].Skipped)
}

func (s *EngineSuite) TestApplyBatchRejectsVVRegression() {
	remote := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "remote-1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"B": 5})
	b1 := batch.New("B", "A", []*syncop.Operation{remote}, vclock.Vector{"B": 5})
	_, err := s.engine.ApplyBatch(s.ctx, b1)
	s.Require().NoError(err)

	stale := syncop.New("B", "user-2", syncop.Update, syncop.EntityRef{Type: "post", ID: "remote-1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"B": 2})
	b2 := batch.New("B", "A", []*syncop.Operation{stale}, vclock.Vector{"B": 2})

	_, err = s.engine.ApplyBatch(s.ctx, b2)
	s.Require().Error(err)
	s.True(syncop.IsKind(err, syncop.KindProtocol))
}

// TestApplyBatchAcceptsPeerIgnorantOfOurOwnAdvancement reproduces spec.md
// §4.6/§5's S1 scenario: A and B start level, A advances locally past what B
// has heard about yet, and B's next batch (which only knows A's older
// counter) must still be accepted — it is not a regression for a peer to not
// yet know about *our own* progress.
func (s *EngineSuite) TestApplyBatchAcceptsPeerIgnorantOfOurOwnAdvancement() {
	_, err := s.engine.QueueLocal(s.ctx, syncop.Create, syncop.EntityRef{Type: "post", ID: "p1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, "user-1")
	s.Require().NoError(err)
	_, err = s.engine.QueueLocal(s.ctx, syncop.Update, syncop.EntityRef{Type: "post", ID: "p1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, "user-1")
	s.Require().NoError(err)
	s.Require().Equal(uint64(2), s.engine.Snapshot().Get("A"))

	remote := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "remote-1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"A": 1, "B": 1})
	b := batch.New("B", "A", []*syncop.Operation{remote}, vclock.Vector{"A": 1, "B": 1})

	_, err = s.engine.ApplyBatch(s.ctx, b)
	s.Require().NoError(err)
}

func (s *EngineSuite) TestApplyBatchChunksResolutionByConflictBatchSize() {
	s.engine.SetConflictBatchSize(1)

	remote1 := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "remote-1"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"B": 1})
	remote2 := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "remote-2"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{}`)}, vclock.Vector{"B": 2})
	b := batch.New("B", "A", []*syncop.Operation{remote1, remote2}, vclock.Vector{"B": 2})

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	outcomes, err := s.engine.ApplyBatch(ctx, b)
	s.Require().Error(err)
	// The first op in the chunk still completes; cancellation is only
	// observed at the next chunk boundary.
	s.Require().Len(outcomes, 1)
	s.Equal(remote1.ID, outcomes[0].OpID)
}

func (s *EngineSuite) TestApplyBatchMergesCreateCreateConflict() {
	local, err := s.engine.QueueLocal(s.ctx, syncop.Create, syncop.EntityRef{Type: "post", ID: "shared"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{"title":"local"}`)}, "user-1")
	s.Require().NoError(err)
	s.Require().Equal(uint64(1), local.VV.Get("A"))

	remote := syncop.New("B", "user-2", syncop.Create, syncop.EntityRef{Type: "post", ID: "shared"},
		syncop.Payload{TypeTag: "post.v1", Version: 1, Body: []byte(`{"body":"remote"}`)}, vclock.Vector{"B": 1})
	b := batch.New("B", "A", []*syncop.Operation{remote}, vclock.Vector{"B": 1})

	outcomes, err := s.engine.ApplyBatch(s.ctx, b)
	s.Require().NoError(err)
	s.Require().Len(outcomes, 1)
	s.Equal(conflict.CreateCreate, outcomes[0].Category)
	s.Equal(conflict.OutcomeMerge, outcomes[0].Outcome)

	siblings, err := s.store.FindSiblings(s.ctx, "post", "shared")
	s.Require().NoError(err)
	// local, remote, and the synthesized merge op are all retained.
	s.Len(siblings, 3)
}
