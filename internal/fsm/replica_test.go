package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/batch"
	"github.com/kcctl/kcctl/internal/model"
)

type fakeIsrShrinker struct {
	removed model.BrokerID
	result  model.LeaderAndIsr
	existed bool
	err     error
}

func (f *fakeIsrShrinker) RemoveReplicaFromIsr(tp model.TopicPartition, replica model.BrokerID, controllerEpoch int32) (model.LeaderAndIsr, bool, error) {
	f.removed = replica
	return f.result, f.existed, f.err
}

type fakeDeletionTracker struct {
	completed []model.PartitionReplica
	success   []bool
}

func (f *fakeDeletionTracker) ReplicaDeletionCompleted(replica model.PartitionReplica, success bool) {
	f.completed = append(f.completed, replica)
	f.success = append(f.success, success)
}

func newTestReplicaMachine(isr IsrShrinker, tracker DeletionTracker) (*ReplicaMachine, *model.Context) {
	ctx := model.NewContext()
	return NewReplicaMachine(zap.NewNop(), ctx, isr, tracker), ctx
}

// leadershipOf adapts ctx.Leadership to the narrower
// func(TopicPartition) (LeaderAndIsr, bool) shape HandleStateChanges wants.
func leadershipOf(ctx *model.Context) func(model.TopicPartition) (model.LeaderAndIsr, bool) {
	return func(tp model.TopicPartition) (model.LeaderAndIsr, bool) {
		l, ok := ctx.Leadership(tp)
		if !ok {
			return model.LeaderAndIsr{}, false
		}
		return l.LeaderAndIsr, true
	}
}

func TestReplicaMachine_NewToOnlineToOffline(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	r := model.PartitionReplica{TopicPartition: tp, BrokerID: 2}
	isr := &fakeIsrShrinker{existed: true, result: model.LeaderAndIsr{Leader: 1, ISR: []model.BrokerID{1}}}
	m, ctx := newTestReplicaMachine(isr, nil)
	ctx.AddTopic("orders", map[int32]model.ReplicaAssignment{0: {1, 2}})
	ctx.SetLeadership(tp, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: model.LeaderAndIsr{Leader: 1, ISR: []model.BrokerID{1, 2}}})

	b := batch.New(noopSender{})
	m.HandleStateChanges([]model.PartitionReplica{r}, NewReplica, b, 1, leadershipOf(ctx))
	assert.Equal(t, NewReplica, m.State(r))

	m.HandleStateChanges([]model.PartitionReplica{r}, OnlineReplica, b, 1, leadershipOf(ctx))
	assert.Equal(t, OnlineReplica, m.State(r))

	m.HandleStateChanges([]model.PartitionReplica{r}, OfflineReplica, b, 1, leadershipOf(ctx))
	assert.Equal(t, OfflineReplica, m.State(r))
	assert.EqualValues(t, 2, isr.removed, "going offline while in ISR must shrink the ISR through the IsrShrinker")
}

func TestReplicaMachine_OfflineClearsLeaderWhenReplicaWasLeader(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	r := model.PartitionReplica{TopicPartition: tp, BrokerID: 1}
	m, ctx := newTestReplicaMachine(&fakeIsrShrinker{}, nil)
	ctx.AddTopic("orders", map[int32]model.ReplicaAssignment{0: {1, 2}})
	ctx.SetLeadership(tp, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: model.LeaderAndIsr{Leader: 1, ISR: []model.BrokerID{2}}})

	m.states[r] = OnlineReplica
	b := batch.New(noopSender{})
	m.HandleStateChanges([]model.PartitionReplica{r}, OfflineReplica, b, 1, leadershipOf(ctx))

	lisr, ok := ctx.Leadership(tp)
	require.True(t, ok)
	assert.Equal(t, model.NoLeader, int32(lisr.LeaderAndIsr.Leader))
}

func TestReplicaMachine_InvalidTransitionSkipped(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	r := model.PartitionReplica{TopicPartition: tp, BrokerID: 1}
	m, ctx := newTestReplicaMachine(&fakeIsrShrinker{}, nil)

	b := batch.New(noopSender{})
	// NonExistent -> OnlineReplica directly is not a valid transition.
	m.HandleStateChanges([]model.PartitionReplica{r}, OnlineReplica, b, 1, leadershipOf(ctx))
	assert.Equal(t, NonExistentReplica, m.State(r))
}

func TestReplicaMachine_DeletionLifecycleNotifiesTracker(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	r := model.PartitionReplica{TopicPartition: tp, BrokerID: 1}
	tracker := &fakeDeletionTracker{}
	m, ctx := newTestReplicaMachine(&fakeIsrShrinker{}, tracker)
	m.states[r] = OfflineReplica

	b := batch.New(noopSender{})
	m.HandleStateChanges([]model.PartitionReplica{r}, ReplicaDeletionStarted, b, 1, leadershipOf(ctx))
	m.HandleStateChanges([]model.PartitionReplica{r}, ReplicaDeletionSuccessful, b, 1, leadershipOf(ctx))

	require.Len(t, tracker.completed, 1)
	assert.Equal(t, r, tracker.completed[0])
	assert.True(t, tracker.success[0])
}

func TestReplicaMachine_DeletionIneligibleNotifiesTrackerWithFailure(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	r := model.PartitionReplica{TopicPartition: tp, BrokerID: 1}
	tracker := &fakeDeletionTracker{}
	m, ctx := newTestReplicaMachine(&fakeIsrShrinker{}, tracker)
	m.states[r] = OfflineReplica

	b := batch.New(noopSender{})
	m.HandleStateChanges([]model.PartitionReplica{r}, ReplicaDeletionIneligible, b, 1, leadershipOf(ctx))

	require.Len(t, tracker.completed, 1)
	assert.False(t, tracker.success[0])
}
