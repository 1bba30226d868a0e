package deletion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/model"
)

func newManager() (*Manager, *model.Context) {
	ctx := model.NewContext()
	return NewManager(zap.NewNop(), ctx), ctx
}

func alwaysEligible(string) (bool, string) { return true, "" }

func TestEnqueueTopicsMarksQueued(t *testing.T) {
	m, _ := newManager()
	m.EnqueueTopics([]string{"orders", "payments"})
	assert.True(t, m.IsTopicQueuedForDeletion("orders"))
	assert.True(t, m.IsTopicQueuedForDeletion("payments"))
	assert.False(t, m.IsTopicQueuedForDeletion("users"))
}

func TestResumeDeletionForTopicsSkipsIneligibleAndUnqueued(t *testing.T) {
	m, _ := newManager()
	m.EnqueueTopics([]string{"orders", "payments"})
	m.MarkTopicIneligibleForDeletion("payments", "reassignment in progress")

	var driven []string
	replicasOf := func(topic string) []model.PartitionReplica {
		driven = append(driven, topic)
		return []model.PartitionReplica{
			{TopicPartition: model.TopicPartition{Topic: topic, Partition: 0}, BrokerID: 1},
		}
	}
	var offlineCalls, startedCalls int
	m.ResumeDeletionForTopics([]string{"orders", "payments", "users"}, alwaysEligible, replicasOf,
		func([]model.PartitionReplica) { offlineCalls++ },
		func([]model.PartitionReplica) { startedCalls++ },
	)

	assert.Equal(t, []string{"orders"}, driven)
	assert.Equal(t, 1, offlineCalls)
	assert.Equal(t, 1, startedCalls)
}

func TestResumeDeletionForTopicsDefersOnIneligibility(t *testing.T) {
	m, ctx := newManager()
	m.EnqueueTopics([]string{"orders"})

	replicasOf := func(topic string) []model.PartitionReplica {
		return []model.PartitionReplica{
			{TopicPartition: model.TopicPartition{Topic: topic, Partition: 0}, BrokerID: 1},
		}
	}
	notEligible := func(string) (bool, string) { return false, "reassignment in progress" }

	var started int
	m.ResumeDeletionForTopics([]string{"orders"}, notEligible, replicasOf,
		func([]model.PartitionReplica) {}, func([]model.PartitionReplica) { started++ })

	assert.Equal(t, 0, started, "a transiently ineligible topic must not start replica deletion")
	assert.False(t, ctx.IsIneligibleForDeletion("orders"), "transient ineligibility must not stick")
}

func TestReplicaDeletionCompletedFiresHookWhenAllReplicasDrained(t *testing.T) {
	m, _ := newManager()
	m.EnqueueTopics([]string{"orders"})

	r1 := model.PartitionReplica{TopicPartition: model.TopicPartition{Topic: "orders", Partition: 0}, BrokerID: 1}
	r2 := model.PartitionReplica{TopicPartition: model.TopicPartition{Topic: "orders", Partition: 0}, BrokerID: 2}

	replicasOf := func(topic string) []model.PartitionReplica { return []model.PartitionReplica{r1, r2} }
	m.ResumeDeletionForTopics([]string{"orders"}, alwaysEligible, replicasOf, func([]model.PartitionReplica) {}, func([]model.PartitionReplica) {})

	var completed string
	m.SetCompletionHook(func(topic string) { completed = topic })

	m.ReplicaDeletionCompleted(r1, true)
	assert.Empty(t, completed, "hook must not fire until every tracked replica is drained")

	m.ReplicaDeletionCompleted(r2, true)
	assert.Equal(t, "orders", completed)
}

func TestReplicaDeletionCompletedMarksIneligibleOnFailure(t *testing.T) {
	m, ctx := newManager()
	m.EnqueueTopics([]string{"orders"})
	r1 := model.PartitionReplica{TopicPartition: model.TopicPartition{Topic: "orders", Partition: 0}, BrokerID: 1}

	replicasOf := func(topic string) []model.PartitionReplica { return []model.PartitionReplica{r1} }
	m.ResumeDeletionForTopics([]string{"orders"}, alwaysEligible, replicasOf, func([]model.PartitionReplica) {}, func([]model.PartitionReplica) {})

	m.ReplicaDeletionCompleted(r1, false)
	assert.True(t, ctx.IsIneligibleForDeletion("orders"))
}

func TestResetClearsPendingState(t *testing.T) {
	m, _ := newManager()
	m.EnqueueTopics([]string{"orders"})
	r1 := model.PartitionReplica{TopicPartition: model.TopicPartition{Topic: "orders", Partition: 0}, BrokerID: 1}
	replicasOf := func(topic string) []model.PartitionReplica { return []model.PartitionReplica{r1} }
	m.ResumeDeletionForTopics([]string{"orders"}, alwaysEligible, replicasOf, func([]model.PartitionReplica) {}, func([]model.PartitionReplica) {})

	m.Reset()

	var completed bool
	m.SetCompletionHook(func(string) { completed = true })
	m.ReplicaDeletionCompleted(r1, true)
	require.False(t, completed, "reset must drop tracked replicas so a stale completion is a no-op")
}
