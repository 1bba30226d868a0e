package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcctl/kcctl/internal/model"
)

func TestEncodeLeaderAndIsrGroupsPartitionsByTopic(t *testing.T) {
	req := LeaderAndIsrRequest{
		ControllerID:    1,
		ControllerEpoch: 5,
		Partitions: map[model.TopicPartition]LeaderAndIsrPartitionState{
			{Topic: "orders", Partition: 0}: {Partition: 0, Leader: 1, ISR: []int32{1, 2}, Replicas: []int32{1, 2, 3}},
			{Topic: "orders", Partition: 1}: {Partition: 1, Leader: 2, ISR: []int32{2, 3}, Replicas: []int32{1, 2, 3}},
		},
		LiveLeaders: []LiveLeader{{BrokerID: 1, Host: "b1", Port: 9092}},
	}

	k := EncodeLeaderAndIsr(req)

	require.Len(t, k.TopicStates, 1)
	assert.Equal(t, "orders", k.TopicStates[0].Topic)
	assert.Len(t, k.TopicStates[0].PartitionStates, 2)
	require.Len(t, k.LiveLeaders, 1)
	assert.Equal(t, int32(1), k.LiveLeaders[0].BrokerID)
	assert.EqualValues(t, 1, k.ControllerID)
	assert.EqualValues(t, 5, k.ControllerEpoch)
}

func TestEncodeStopReplicaGroupsByTopic(t *testing.T) {
	req := StopReplicaRequest{
		ControllerID:    1,
		ControllerEpoch: 2,
		DeletePartition: true,
		Partitions: []StopReplicaPartition{
			{Topic: "orders", Partition: 0, DeletePartition: true},
			{Topic: "orders", Partition: 1, DeletePartition: true},
			{Topic: "payments", Partition: 0, DeletePartition: true},
		},
	}

	k := EncodeStopReplica(req)

	require.Len(t, k.TopicStates, 2)
	byTopic := make(map[string]int)
	for _, ts := range k.TopicStates {
		byTopic[ts.Topic] = len(ts.PartitionStates)
	}
	assert.Equal(t, 2, byTopic["orders"])
	assert.Equal(t, 1, byTopic["payments"])
}

func TestEncodeUpdateMetadataIncludesOfflineReplicasAndBrokers(t *testing.T) {
	req := UpdateMetadataRequest{
		ControllerID:    1,
		ControllerEpoch: 3,
		Partitions: map[model.TopicPartition]UpdateMetadataPartitionState{
			{Topic: "orders", Partition: 0}: {Partition: 0, Leader: 1, OfflineReplicas: []int32{3}},
		},
		LiveBrokers: []LiveBroker{
			{BrokerID: 1, Endpoints: []string{"b1:9092"}, Rack: "us-east-1a"},
		},
	}

	k := EncodeUpdateMetadata(req)

	require.Len(t, k.TopicStates, 1)
	require.Len(t, k.TopicStates[0].PartitionStates, 1)
	assert.Equal(t, []int32{3}, k.TopicStates[0].PartitionStates[0].OfflineReplicas)

	require.Len(t, k.LiveBrokers, 1)
	require.NotNil(t, k.LiveBrokers[0].Rack)
	assert.Equal(t, "us-east-1a", *k.LiveBrokers[0].Rack)
	require.Len(t, k.LiveBrokers[0].Endpoints, 1)
	assert.Equal(t, "b1:9092", k.LiveBrokers[0].Endpoints[0].Host)
}
