package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTopicAndAssignment(t *testing.T) {
	c := NewContext()
	c.AddTopic("orders", map[int32]ReplicaAssignment{0: {1, 2, 3}})

	assert.True(t, c.TopicExists("orders"))
	ar, ok := c.Assignment(TopicPartition{Topic: "orders", Partition: 0})
	require.True(t, ok)
	assert.Equal(t, ReplicaAssignment{1, 2, 3}, ar)
	assert.Equal(t, BrokerID(1), ar.Preferred())
}

func TestRemoveTopicClearsLeadership(t *testing.T) {
	c := NewContext()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	c.AddTopic("orders", map[int32]ReplicaAssignment{0: {1, 2}})
	c.SetLeadership(tp, LeaderIsrAndControllerEpoch{LeaderAndIsr: LeaderAndIsr{Leader: 1}})

	c.RemoveTopic("orders")

	assert.False(t, c.TopicExists("orders"))
	_, ok := c.Leadership(tp)
	assert.False(t, ok)
}

func TestReassignmentLifecycle(t *testing.T) {
	c := NewContext()
	tp := TopicPartition{Topic: "orders", Partition: 0}

	_, ok := c.Reassignment(tp)
	assert.False(t, ok)
	assert.False(t, c.AnyReassignmentInProgress())

	c.SetReassignment(tp, ReassignmentContext{NewReplicas: ReplicaAssignment{4, 5, 6}})
	assert.True(t, c.AnyReassignmentInProgress())
	assert.Equal(t, []TopicPartition{tp}, c.PartitionsBeingReassigned())

	c.ClearReassignment(tp)
	assert.False(t, c.AnyReassignmentInProgress())
}

func TestLiveOrShuttingDownBrokerIDsUnion(t *testing.T) {
	c := NewContext()
	c.AddLiveBroker(Broker{ID: 1})
	c.AddLiveBroker(Broker{ID: 2})
	c.AddShuttingDown(3)

	ids := c.LiveOrShuttingDownBrokerIDs()
	assert.ElementsMatch(t, []BrokerID{1, 2, 3}, ids)

	c.RemoveShuttingDown(3)
	ids = c.LiveOrShuttingDownBrokerIDs()
	assert.ElementsMatch(t, []BrokerID{1, 2}, ids)
}

func TestIsReplicaOnlineRequiresLiveBrokerAndOnlineLogDir(t *testing.T) {
	c := NewContext()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	c.AddLiveBroker(Broker{ID: 1})

	assert.True(t, c.IsReplicaOnline(1, tp))
	assert.False(t, c.IsReplicaOnline(2, tp), "broker never registered live")

	c.MarkOffline(1, tp)
	assert.False(t, c.IsReplicaOnline(1, tp), "log dir reported offline")

	c.ClearOffline(1, tp)
	assert.True(t, c.IsReplicaOnline(1, tp))
}

func TestTopicDeletionLifecycle(t *testing.T) {
	c := NewContext()
	c.QueueTopicForDeletion("orders")

	assert.True(t, c.IsQueuedForDeletion("orders"))
	assert.ElementsMatch(t, []string{"orders"}, c.TopicsQueuedForDeletion())

	c.MarkIneligibleForDeletion("orders")
	assert.True(t, c.IsIneligibleForDeletion("orders"))

	c.MarkIneligibleForDeletion("unknown-topic")
	assert.False(t, c.IsIneligibleForDeletion("unknown-topic"), "only queued topics can become ineligible")

	c.CompleteTopicDeletion("orders")
	assert.False(t, c.IsQueuedForDeletion("orders"))
	assert.False(t, c.IsIneligibleForDeletion("orders"))
}

func TestReplicasOnBrokersAndPartitionsOnBroker(t *testing.T) {
	c := NewContext()
	c.AddTopic("orders", map[int32]ReplicaAssignment{
		0: {1, 2, 3},
		1: {2, 3, 4},
	})

	replicas := c.ReplicasOnBrokers(map[BrokerID]struct{}{2: {}})
	assert.Len(t, replicas, 2)

	partitions := c.PartitionsOnBroker(4)
	assert.Equal(t, []TopicPartition{{Topic: "orders", Partition: 1}}, partitions)
}

func TestPartitionsLedByAndAllLiveReplicas(t *testing.T) {
	c := NewContext()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	c.AddTopic("orders", map[int32]ReplicaAssignment{0: {1, 2, 3}})
	c.SetLeadership(tp, LeaderIsrAndControllerEpoch{LeaderAndIsr: LeaderAndIsr{Leader: 2}})
	c.AddLiveBroker(Broker{ID: 1})
	c.AddLiveBroker(Broker{ID: 2})

	assert.Equal(t, []TopicPartition{tp}, c.PartitionsLedBy(2))
	assert.Empty(t, c.PartitionsLedBy(99))

	live := c.AllLiveReplicas(tp)
	assert.ElementsMatch(t, []BrokerID{1, 2}, live)
}

func TestResetClearsEverything(t *testing.T) {
	c := NewContext()
	c.AddTopic("orders", map[int32]ReplicaAssignment{0: {1}})
	c.AddLiveBroker(Broker{ID: 1})
	c.Epoch = 7
	c.EpochZkVersion = 3

	c.Reset()

	assert.False(t, c.TopicExists("orders"))
	assert.Empty(t, c.LiveBrokerIDs())
	assert.EqualValues(t, 0, c.Epoch)
	assert.EqualValues(t, 0, c.EpochZkVersion)
}
