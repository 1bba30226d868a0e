package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcctl/kcctl/internal/model"
)

func liveSet(ids ...model.BrokerID) LiveFunc {
	m := make(map[model.BrokerID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(id model.BrokerID) bool {
		_, ok := m[id]
		return ok
	}
}

func TestOfflinePartitionLeaderSelector_PrefersFirstInSyncAndLive(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2, 3}
	current := model.LeaderAndIsr{Leader: model.BrokerID(model.NoLeader), LeaderEpoch: 4, ISR: []model.BrokerID{2, 3}}

	sel := OfflinePartitionLeaderSelector{}
	res, err := sel.Select(tp, current, ar, liveSet(2, 3))
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.LeaderAndIsr.Leader)
	assert.EqualValues(t, 5, res.LeaderAndIsr.LeaderEpoch)
	assert.Contains(t, res.RecipientBrokers, model.BrokerID(1))
}

func TestOfflinePartitionLeaderSelector_NoEligibleReplica(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2, 3}
	current := model.LeaderAndIsr{Leader: model.BrokerID(model.NoLeader), ISR: []model.BrokerID{1, 2, 3}}

	sel := OfflinePartitionLeaderSelector{UncleanLeaderElectionEnabled: false}
	_, err := sel.Select(tp, current, ar, liveSet())
	assert.ErrorIs(t, err, ErrNoReplicaOnline)
}

func TestOfflinePartitionLeaderSelector_UncleanElection(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2, 3}
	current := model.LeaderAndIsr{Leader: model.BrokerID(model.NoLeader), ISR: []model.BrokerID{1}}

	sel := OfflinePartitionLeaderSelector{UncleanLeaderElectionEnabled: true}
	res, err := sel.Select(tp, current, ar, liveSet(3))
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.LeaderAndIsr.Leader)
	assert.Equal(t, []model.BrokerID{3}, res.LeaderAndIsr.ISR)
}

func TestReassignedPartitionLeaderSelector(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2}
	newReplicas := model.ReplicaAssignment{4, 5}
	current := model.LeaderAndIsr{Leader: 1, LeaderEpoch: 1, ISR: []model.BrokerID{1, 2, 4, 5}}

	sel := ReassignedPartitionLeaderSelector{NewReplicas: newReplicas}
	res, err := sel.Select(tp, current, ar, liveSet(4, 5))
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.LeaderAndIsr.Leader)
}

func TestPreferredReplicaPartitionLeaderSelector(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2, 3}
	current := model.LeaderAndIsr{Leader: 3, LeaderEpoch: 2, ISR: []model.BrokerID{1, 2, 3}}

	sel := PreferredReplicaPartitionLeaderSelector{}
	res, err := sel.Select(tp, current, ar, liveSet(1, 2, 3))
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.LeaderAndIsr.Leader)

	// Preferred not live -> error, no leadership change staged.
	_, err = sel.Select(tp, current, ar, liveSet(2, 3))
	assert.ErrorIs(t, err, ErrNoReplicaOnline)
}

func TestControlledShutdownLeaderSelector_DropsShuttingDownFromISR(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2, 3}
	current := model.LeaderAndIsr{Leader: 1, LeaderEpoch: 1, ISR: []model.BrokerID{1, 2, 3}}

	sel := ControlledShutdownLeaderSelector{ShuttingDown: map[model.BrokerID]struct{}{1: {}}}
	res, err := sel.Select(tp, current, ar, liveSet(2, 3))
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.LeaderAndIsr.Leader)
	assert.NotContains(t, res.LeaderAndIsr.ISR, model.BrokerID(1))
}

func TestControlledShutdownLeaderSelector_NoEligibleSuccessor(t *testing.T) {
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	ar := model.ReplicaAssignment{1, 2}
	current := model.LeaderAndIsr{Leader: 1, ISR: []model.BrokerID{1, 2}}

	sel := ControlledShutdownLeaderSelector{ShuttingDown: map[model.BrokerID]struct{}{1: {}, 2: {}}}
	_, err := sel.Select(tp, current, ar, liveSet(1, 2))
	assert.ErrorIs(t, err, ErrNoReplicaOnline)
}
