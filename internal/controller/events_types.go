package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/fsm"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/selector"
)

// Every type below implements events.Event. None of them touch
// controller state outside Process, and Process always runs on the
// single event-loop goroutine — this is the "watches as events, not
// callbacks" discipline the controller is built around.

type startupEvent struct{ kc *KafkaController }

func (e *startupEvent) StateTag() string { return "Startup" }
func (e *startupEvent) Process() {
	if err := e.kc.Elect(); err != nil {
		e.kc.log.Warn("election attempt failed", zap.Error(err))
	}
}

// reelectEvent fires when /controller is observed deleted, whether
// because we resigned or because the previous controller's session
// died.
type reelectEvent struct{ kc *KafkaController }

func (e *reelectEvent) StateTag() string { return "Reelect" }
func (e *reelectEvent) Process() {
	e.kc.maybeResign()
	if err := e.kc.Elect(); err != nil {
		e.kc.log.Warn("re-election attempt failed", zap.Error(err))
	}
	e.kc.refreshGauges()
}

// brokerChangeEvent fires when /brokers/ids' children change: some
// broker(s) started or an ephemeral registration expired.
type brokerChangeEvent struct{ kc *KafkaController }

func (e *brokerChangeEvent) StateTag() string { return "BrokerChange" }
func (e *brokerChangeEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	kc.registerBrokerChangeWatch()

	current := kc.fetchLiveBrokerIDs()
	currentSet := make(map[model.BrokerID]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	var newlyDead, newlyLive []model.BrokerID
	for _, id := range kc.ctx.LiveBrokerIDs() {
		if _, ok := currentSet[id]; !ok {
			newlyDead = append(newlyDead, id)
		}
	}
	for id := range currentSet {
		if !kc.ctx.IsLive(id) {
			newlyLive = append(newlyLive, id)
		}
	}

	for _, id := range newlyDead {
		kc.onBrokerFailure(id)
	}
	for _, id := range newlyLive {
		kc.onBrokerStartup(id)
	}
	kc.refreshGauges()
}

// onBrokerFailure drives every replica hosted on id to Offline, then
// the partitions that lost their leader back to Online via the Offline
// selector.
func (kc *KafkaController) onBrokerFailure(id model.BrokerID) {
	kc.ctx.RemoveLiveBroker(id)
	kc.channelMgr.RemoveBroker(id)

	replicas := kc.ctx.ReplicasOnBrokers(map[model.BrokerID]struct{}{id: {}})
	b := kc.newBatch()
	kc.replicaFSM.HandleStateChanges(replicas, fsm.OfflineReplica, b, kc.ctx.Epoch, kc.leadershipOf)

	affected := make(map[model.TopicPartition]struct{}, len(replicas))
	for _, r := range replicas {
		affected[r.TopicPartition] = struct{}{}
	}
	for tp := range affected {
		if l, ok := kc.ctx.Leadership(tp); ok && l.LeaderAndIsr.Leader != id && l.LeaderAndIsr.Leader != model.BrokerID(model.NoLeader) {
			continue
		}
		_ = kc.partitionFSM.HandleStateChange(tp, fsm.OfflinePartition, b, nil, kc.cfg.BrokerID, kc.ctx.Epoch)
	}
	sel := &selector.OfflinePartitionLeaderSelector{UncleanLeaderElectionEnabledFunc: kc.topicCfgs.enabled}
	kc.partitionFSM.TriggerOnlinePartitionStateChange(kc.deletionMgr.IsTopicQueuedForDeletion, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch)
	kc.flush(b)
}

func (kc *KafkaController) onBrokerStartup(id model.BrokerID) {
	kc.ctx.AddLiveBroker(model.Broker{ID: id})
	kc.channelMgr.AddBroker(model.Broker{ID: id})

	replicas := kc.ctx.ReplicasOnBrokers(map[model.BrokerID]struct{}{id: {}})
	b := kc.newBatch()
	kc.replicaFSM.HandleStateChanges(replicas, fsm.OnlineReplica, b, kc.ctx.Epoch, kc.leadershipOf)
	b.AddUpdateMetadataRequestForBrokers(kc.ctx.LiveOrShuttingDownBrokerIDs(), nil)
	kc.flush(b)
}

func (kc *KafkaController) fetchLiveBrokerIDs() []model.BrokerID {
	names, err := kc.coordClient.Children(context.Background(), coord.BrokerIDsPath)
	if err != nil {
		return kc.ctx.LiveBrokerIDs()
	}
	out := make([]model.BrokerID, 0, len(names))
	for _, n := range names {
		var id int32
		fmt.Sscanf(n, "%d", &id)
		out = append(out, model.BrokerID(id))
	}
	return out
}

// topicChangeEvent fires when /brokers/topics' children change: a topic
// was created (or, with the supplemented delete-topic flow, removed
// once fully drained).
type topicChangeEvent struct{ kc *KafkaController }

func (e *topicChangeEvent) StateTag() string { return "TopicChange" }
func (e *topicChangeEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	kc.registerTopicChangeWatch()

	names, err := kc.coordClient.Children(context.Background(), coord.BrokersTopicsPath)
	if err != nil {
		return
	}
	b := kc.newBatch()
	for _, topic := range names {
		if kc.ctx.TopicExists(topic) {
			continue
		}
		assignment, err := kc.readTopicAssignment(topic)
		if err != nil {
			continue
		}
		kc.ctx.AddTopic(topic, assignment)
		for p, ar := range assignment {
			tp := model.TopicPartition{Topic: topic, Partition: p}
			_ = kc.partitionFSM.HandleStateChange(tp, fsm.NewPartition, b, nil, kc.cfg.BrokerID, kc.ctx.Epoch)
			replicas := make([]model.PartitionReplica, len(ar))
			for i, br := range ar {
				replicas[i] = model.PartitionReplica{TopicPartition: tp, BrokerID: br}
			}
			kc.replicaFSM.HandleStateChanges(replicas, fsm.NewReplica, b, kc.ctx.Epoch, kc.leadershipOf)
		}
	}
	sel := &selector.OfflinePartitionLeaderSelector{UncleanLeaderElectionEnabledFunc: kc.topicCfgs.enabled}
	kc.partitionFSM.TriggerOnlinePartitionStateChange(kc.deletionMgr.IsTopicQueuedForDeletion, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch)
	kc.flush(b)
	kc.refreshGauges()
}

// preferredReplicaLeaderElectionEvent drives a set of partitions back to
// their preferred leader via the PreferredReplica selector. manual
// distinguishes a user-requested election (which clears the
// coordination-service request path on completion) from an
// auto-rebalance-triggered one (which leaves it alone, since auto
// rebalance never wrote a request path entry to begin with).
type preferredReplicaLeaderElectionEvent struct {
	kc         *KafkaController
	partitions []model.TopicPartition
	manual     bool
}

func (e *preferredReplicaLeaderElectionEvent) StateTag() string { return "PreferredReplicaLeaderElection" }
func (e *preferredReplicaLeaderElectionEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	b := kc.newBatch()
	sel := &selector.PreferredReplicaPartitionLeaderSelector{}
	for _, tp := range e.partitions {
		if kc.deletionMgr.IsTopicQueuedForDeletion(tp.Topic) {
			continue
		}
		if _, inFlight := kc.ctx.Reassignment(tp); inFlight {
			continue
		}
		_ = kc.partitionFSM.HandleStateChange(tp, fsm.OnlinePartition, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch)
	}
	kc.flush(b)
	if e.manual {
		kc.clearPreferredReplicaElectionPath()
	}
}
