package controller

import (
	"context"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/fsm"
	"github.com/kcctl/kcctl/internal/model"
)

// topicDeletionEvent fires when /admin/delete_topics' children change:
// one or more topics were newly queued for deletion.
type topicDeletionEvent struct{ kc *KafkaController }

func (e *topicDeletionEvent) StateTag() string { return "TopicDeletion" }
func (e *topicDeletionEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	kc.registerDeleteTopicsWatch()

	names, err := kc.coordClient.Children(context.Background(), coord.DeleteTopicsPath)
	if err != nil {
		return
	}
	var fresh []string
	for _, topic := range names {
		if !kc.ctx.IsQueuedForDeletion(topic) {
			fresh = append(fresh, topic)
		}
	}
	if len(fresh) > 0 {
		kc.deletionMgr.EnqueueTopics(fresh)
	}
	kc.resumeTopicDeletions()
}

// resumeTopicDeletions drives every queued, eligible topic's replicas
// through Offline then ReplicaDeletionStarted, called both from
// topicDeletionEvent and from onControllerFailover.
func (kc *KafkaController) resumeTopicDeletions() {
	topics := kc.ctx.TopicsQueuedForDeletion()
	replicasOf := func(topic string) []model.PartitionReplica {
		var out []model.PartitionReplica
		for _, tp := range kc.ctx.PartitionsForTopic(topic) {
			ar, ok := kc.ctx.Assignment(tp)
			if !ok {
				continue
			}
			for _, br := range ar {
				out = append(out, model.PartitionReplica{TopicPartition: tp, BrokerID: br})
			}
		}
		return out
	}
	// eligible implements spec.md's other two deletion-ineligibility
	// triggers (reassignment in progress, offline replicas) as a
	// per-call check rather than a sticky flag: per §4.8, a topic queued
	// for deletion mid-reassignment is deferred only "until step 11
	// completes", not forever.
	eligible := func(topic string) (bool, string) {
		for _, tp := range kc.ctx.PartitionsForTopic(topic) {
			if _, inFlight := kc.ctx.Reassignment(tp); inFlight {
				return false, "reassignment in progress"
			}
		}
		for _, r := range replicasOf(topic) {
			if !kc.ctx.IsReplicaOnline(r.BrokerID, r.TopicPartition) {
				return false, "replica offline"
			}
		}
		return true, ""
	}
	driveOffline := func(replicas []model.PartitionReplica) {
		b := kc.newBatch()
		kc.replicaFSM.HandleStateChanges(replicas, fsm.OfflineReplica, b, kc.ctx.Epoch, kc.leadershipOf)
		kc.flush(b)
	}
	driveDeletionStarted := func(replicas []model.PartitionReplica) {
		b := kc.newBatch()
		kc.replicaFSM.HandleStateChanges(replicas, fsm.ReplicaDeletionStarted, b, kc.ctx.Epoch, kc.leadershipOf)
		kc.flush(b)
	}
	kc.deletionMgr.ResumeDeletionForTopics(topics, eligible, replicasOf, driveOffline, driveDeletionStarted)
}
