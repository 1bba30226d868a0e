package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/fsm"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
	"github.com/kcctl/kcctl/internal/selector"
)

// partitionReassignmentEvent fires when /admin/reassign_partitions
// changes: either a fresh request was written, or (because this path is
// also used as the re-entry point after an ISR-change watch fires for a
// partition mid-reassignment) progress needs to be re-evaluated.
type partitionReassignmentEvent struct{ kc *KafkaController }

func (e *partitionReassignmentEvent) StateTag() string { return "PartitionReassignment" }
func (e *partitionReassignmentEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	kc.registerReassignPartitionsWatch()

	raw, _, err := kc.coordClient.Get(context.Background(), coord.ReassignPartitionsPath)
	if err != nil {
		return
	}
	var m map[string]map[string][]int32
	if json.Unmarshal(raw, &m) != nil {
		return
	}
	for topic, parts := range m {
		for pStr, brokers := range parts {
			var p int32
			fmt.Sscanf(pStr, "%d", &p)
			tp := model.TopicPartition{Topic: topic, Partition: p}
			ar := make(model.ReplicaAssignment, len(brokers))
			for i, b := range brokers {
				ar[i] = model.BrokerID(b)
			}
			if _, inFlight := kc.ctx.Reassignment(tp); !inFlight {
				kc.ctx.SetReassignment(tp, model.ReassignmentContext{NewReplicas: ar})
			}
		}
	}
	kc.resumeReassignments()
}

// partitionReassignmentIsrChangeEvent re-enters the protocol for one
// partition after its leader/ISR record changed: the trigger that lets
// a reassignment waiting on "new replicas caught up to ISR" proceed.
type partitionReassignmentIsrChangeEvent struct {
	kc *KafkaController
	tp model.TopicPartition
}

func (e *partitionReassignmentIsrChangeEvent) StateTag() string {
	return "PartitionReassignmentIsrChange"
}
func (e *partitionReassignmentIsrChangeEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	if rc, ok := kc.ctx.Reassignment(e.tp); ok {
		// The ISR the brokers wrote is only in the coordination service,
		// and the one-shot watch that fired is spent: refresh the record
		// and let driveReassignment place a new watch.
		if lisr, epoch, _, err := kc.zkw.readLeaderIsr(e.tp); err == nil {
			kc.ctx.SetLeadership(e.tp, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: lisr, ControllerEpoch: epoch})
		}
		rc.WatchRegistered = false
		kc.ctx.SetReassignment(e.tp, rc)
		kc.driveReassignment(e.tp, rc)
	}
}

// resumeReassignments implements the failover-time and request-time
// entry point: drive every in-flight reassignment one step further.
func (kc *KafkaController) resumeReassignments() {
	for _, tp := range kc.ctx.PartitionsBeingReassigned() {
		rc, ok := kc.ctx.Reassignment(tp)
		if !ok {
			continue
		}
		kc.driveReassignment(tp, rc)
	}
}

// driveReassignment implements the partition reassignment protocol. It
// is re-entrant: each call picks up from whatever step the current
// ISR/AR state implies, rather than tracking an
// explicit step counter, so a controller failover mid-reassignment
// resumes correctly from readInitialState alone.
func (kc *KafkaController) driveReassignment(tp model.TopicPartition, rc model.ReassignmentContext) {
	ar, ok := kc.ctx.Assignment(tp)
	if !ok {
		kc.ctx.ClearReassignment(tp)
		return
	}

	// Step 1-2: union AR with the new replicas so the new set starts
	// replicating before anything old is torn down, force a leaderEpoch
	// bump, and send LeaderAndIsr(AR=union) to every replica in the
	// union — not just the newly-added ones — so brokers already
	// serving tp learn the wider replica set too.
	union := unionAssignment(ar, rc.NewReplicas)
	if !sameAssignment(ar, union) {
		kc.ctx.SetAssignment(tp, union)

		written, err := kc.zkw.UpdateLeaderEpoch(tp, kc.ctx.Epoch)
		if err != nil {
			kc.log.Warn("reassignment: failed to bump leader epoch for AR union, will retry on next trigger",
				zap.String("partition", tp.String()), zap.Error(err))
			return
		}
		kc.ctx.SetLeadership(tp, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: written, ControllerEpoch: kc.ctx.Epoch})

		b := kc.newBatch()
		state := rpc.LeaderAndIsrPartitionState{
			Partition:       tp.Partition,
			ControllerEpoch: kc.ctx.Epoch,
			Leader:          int32(written.Leader),
			LeaderEpoch:     written.LeaderEpoch,
			ISR:             toInt32s(written.ISR),
			ZkVersion:       written.ZkVersion,
			Replicas:        toInt32s(union),
		}
		b.AddLeaderAndIsrRequestForBrokers(union, tp, state, nil)

		added := newReplicasOnly(ar, rc.NewReplicas)
		replicas := make([]model.PartitionReplica, len(added))
		for i, br := range added {
			replicas[i] = model.PartitionReplica{TopicPartition: tp, BrokerID: br}
		}
		kc.replicaFSM.HandleStateChanges(replicas, fsm.NewReplica, b, kc.ctx.Epoch, kc.leadershipOf)
		kc.replicaFSM.HandleStateChanges(replicas, fsm.OnlineReplica, b, kc.ctx.Epoch, kc.leadershipOf)
		kc.flush(b)
		ar = union
	}

	// Step 3-4: wait for every new replica to join ISR before moving
	// leadership. If not caught up yet, register a watch (once) on the
	// partition's state path and return; the watch re-enters this
	// function via partitionReassignmentIsrChangeEvent.
	lisr, ok := kc.ctx.Leadership(tp)
	if !ok {
		return
	}
	if !allInISR(rc.NewReplicas, lisr.LeaderAndIsr) {
		if !rc.WatchRegistered {
			rc.WatchRegistered = true
			kc.ctx.SetReassignment(tp, rc)
			kc.registerPartitionStateWatch(tp)
		}
		return
	}

	// Step 5-7: elect a leader from the new replica set, and stop serving
	// on every old replica that isn't part of it.
	b := kc.newBatch()
	sel := selector.ReassignedPartitionLeaderSelector{NewReplicas: rc.NewReplicas}
	if err := kc.partitionFSM.HandleStateChange(tp, fsm.OnlinePartition, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch); err != nil {
		kc.log.Warn("reassignment leader election failed, will retry on next trigger",
			zap.String("partition", tp.String()), zap.Error(err))
		return
	}

	removed := removedReplicas(ar, rc.NewReplicas)
	if len(removed) > 0 {
		replicas := make([]model.PartitionReplica, len(removed))
		for i, br := range removed {
			replicas[i] = model.PartitionReplica{TopicPartition: tp, BrokerID: br}
		}
		kc.replicaFSM.HandleStateChanges(replicas, fsm.OfflineReplica, b, kc.ctx.Epoch, kc.leadershipOf)
		kc.replicaFSM.HandleStateChanges(replicas, fsm.NonExistentReplica, b, kc.ctx.Epoch, kc.leadershipOf)
	}
	kc.flush(b)

	// Step 8-10: persist the final replica set as the topic's assignment
	// and drop the old replicas from memory.
	kc.ctx.SetAssignment(tp, rc.NewReplicas)
	kc.persistTopicAssignment(tp.Topic)

	// Step 11-12: clear the reassignment marker both in memory and in the
	// coordination service.
	kc.ctx.ClearReassignment(tp)
	kc.clearReassignmentPath(tp)
}

func (kc *KafkaController) registerPartitionStateWatch(tp model.TopicPartition) {
	path := coord.PartitionStatePath(tp.Topic, tp.Partition)
	if err := kc.coordClient.WatchData(path, func(coord.Event) {
		kc.events.Put(&partitionReassignmentIsrChangeEvent{kc: kc, tp: tp})
	}); err != nil {
		kc.log.Warn("failed to watch partition state during reassignment",
			zap.String("partition", tp.String()), zap.Error(err))
	}
}

// persistTopicAssignment writes the topic's current in-memory assignment
// back to its znode, used after a reassignment completes.
func (kc *KafkaController) persistTopicAssignment(topic string) {
	parts := kc.ctx.PartitionsForTopic(topic)
	out := make(map[string][]int32, len(parts))
	for _, tp := range parts {
		ar, ok := kc.ctx.Assignment(tp)
		if !ok {
			continue
		}
		ids := make([]int32, len(ar))
		for i, b := range ar {
			ids[i] = int32(b)
		}
		out[fmt.Sprintf("%d", tp.Partition)] = ids
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if _, err := kc.coordClient.Set(context.Background(), coord.TopicPath(topic), data, -1); err != nil {
		kc.log.Warn("failed to persist topic assignment", zap.String("topic", topic), zap.Error(err))
	}
}

// clearReassignmentPath removes tp's entry from the reassignment request
// node. A non-fatal failure here leaves the path stale, but the
// in-memory state is authoritative, so a
// later reassignment request for the same partition simply overwrites
// it rather than being blocked.
func (kc *KafkaController) clearReassignmentPath(tp model.TopicPartition) {
	raw, stat, err := kc.coordClient.Get(context.Background(), coord.ReassignPartitionsPath)
	if err != nil {
		return
	}
	var m map[string]map[string][]int32
	if json.Unmarshal(raw, &m) != nil {
		return
	}
	if parts, ok := m[tp.Topic]; ok {
		delete(parts, fmt.Sprintf("%d", tp.Partition))
		if len(parts) == 0 {
			delete(m, tp.Topic)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if _, err := kc.coordClient.Set(context.Background(), coord.ReassignPartitionsPath, data, stat.Version); err != nil {
		kc.log.Warn("failed to clear reassignment path entry", zap.String("partition", tp.String()), zap.Error(err))
	}
}

func unionAssignment(a, b model.ReplicaAssignment) model.ReplicaAssignment {
	out := append(model.ReplicaAssignment{}, a...)
	for _, id := range b {
		if !out.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

func newReplicasOnly(old, next model.ReplicaAssignment) []model.BrokerID {
	var out []model.BrokerID
	for _, id := range next {
		if !old.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

func removedReplicas(old, next model.ReplicaAssignment) []model.BrokerID {
	var out []model.BrokerID
	for _, id := range old {
		if !next.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

func sameAssignment(a, b model.ReplicaAssignment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toInt32s(ids []model.BrokerID) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func allInISR(replicas model.ReplicaAssignment, lisr model.LeaderAndIsr) bool {
	for _, id := range replicas {
		if !lisr.InISR(id) {
			return false
		}
	}
	return true
}
