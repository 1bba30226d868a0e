package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/batch"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
	"github.com/kcctl/kcctl/internal/selector"
)

type fakeZkWriter struct {
	written model.LeaderAndIsr
	err     error
}

func (f *fakeZkWriter) WriteLeaderAndIsr(tp model.TopicPartition, lisr model.LeaderAndIsr, controllerEpoch int32, expectedVersion int32) (model.LeaderAndIsr, error) {
	if f.err != nil {
		return model.LeaderAndIsr{}, f.err
	}
	lisr.ZkVersion = expectedVersion + 1
	f.written = lisr
	return lisr, nil
}

type noopSender struct{}

func (noopSender) SendLeaderAndIsr(model.BrokerID, rpc.LeaderAndIsrRequest)       {}
func (noopSender) SendStopReplica(model.BrokerID, rpc.StopReplicaRequest)        {}
func (noopSender) SendUpdateMetadata(model.BrokerID, rpc.UpdateMetadataRequest)  {}

func newTestPartitionMachine(zk ZkWriter, live func(model.BrokerID) bool) (*PartitionMachine, *model.Context) {
	ctx := model.NewContext()
	return NewPartitionMachine(zap.NewNop(), ctx, zk, live), ctx
}

func TestPartitionMachine_NewToOnline(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	zk := &fakeZkWriter{}
	m, ctx := newTestPartitionMachine(zk, func(model.BrokerID) bool { return true })
	ctx.AddTopic("orders", map[int32]model.ReplicaAssignment{0: {1, 2, 3}})

	require.NoError(t, m.HandleStateChange(tp, NewPartition, nil, nil, 0, 1))
	assert.Equal(t, NewPartition, m.State(tp))

	b := batch.New(noopSender{})
	sel := selector.OfflinePartitionLeaderSelector{}
	require.NoError(t, m.HandleStateChange(tp, OnlinePartition, b, sel, 0, 1))
	assert.Equal(t, OnlinePartition, m.State(tp))

	lisr, ok := ctx.Leadership(tp)
	require.True(t, ok)
	assert.EqualValues(t, 1, lisr.LeaderAndIsr.Leader)
}

func TestPartitionMachine_InvalidTransitionRejected(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	m, _ := newTestPartitionMachine(&fakeZkWriter{}, func(model.BrokerID) bool { return true })

	err := m.HandleStateChange(tp, OnlinePartition, nil, nil, 0, 1)
	assert.Error(t, err, "NonExistent -> Online directly must be rejected")
}

func TestPartitionMachine_SelectionFailureLeavesStateUnchanged(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	zk := &fakeZkWriter{}
	m, ctx := newTestPartitionMachine(zk, func(model.BrokerID) bool { return false })
	ctx.AddTopic("orders", map[int32]model.ReplicaAssignment{0: {1, 2, 3}})
	require.NoError(t, m.HandleStateChange(tp, NewPartition, nil, nil, 0, 1))

	b := batch.New(noopSender{})
	sel := selector.OfflinePartitionLeaderSelector{}
	err := m.HandleStateChange(tp, OnlinePartition, b, sel, 0, 1)
	assert.ErrorIs(t, err, selector.ErrNoReplicaOnline)
	assert.Equal(t, NewPartition, m.State(tp), "failed election must not advance the partition's recorded state")
}

func TestTriggerOnlinePartitionStateChangeSkipsTopicsBeingDeleted(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	zk := &fakeZkWriter{}
	m, ctx := newTestPartitionMachine(zk, func(model.BrokerID) bool { return true })
	ctx.AddTopic("orders", map[int32]model.ReplicaAssignment{0: {1, 2, 3}})
	require.NoError(t, m.HandleStateChange(tp, NewPartition, nil, nil, 0, 1))

	b := batch.New(noopSender{})
	sel := selector.OfflinePartitionLeaderSelector{}
	m.TriggerOnlinePartitionStateChange(func(topic string) bool { return true }, b, sel, 0, 1)

	assert.Equal(t, NewPartition, m.State(tp), "partitions of a topic queued for deletion must not be driven online")
}
