package controller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/model"
)

// autoPreferredReplicaLeaderElectionEvent periodically moves leadership
// back to the preferred replica for any partition whose
// current leader isn't AR[0] and whose imbalance crosses the configured
// threshold.
type autoPreferredReplicaLeaderElectionEvent struct{ kc *KafkaController }

func (e *autoPreferredReplicaLeaderElectionEvent) StateTag() string {
	return "AutoPreferredReplicaLeaderElection"
}
func (e *autoPreferredReplicaLeaderElectionEvent) Process() {
	kc := e.kc
	if !kc.IsActive() || !kc.cfg.AutoLeaderRebalanceEnabled {
		return
	}
	// Auto-rebalance skips the whole cycle when any reassignment is in
	// flight, a global (not per-partition) throttle: reassignment and
	// rebalance both move leadership, and letting them race produces
	// flapping LeaderAndIsr writes.
	if kc.ctx.AnyReassignmentInProgress() {
		return
	}

	imbalanced := kc.imbalancedPartitions()
	kc.metrics.SetPreferredReplicaImbalanceCount(len(imbalanced))
	if len(imbalanced) == 0 {
		return
	}
	kc.log.Info("auto leader rebalance triggered", zap.Int("partitions", len(imbalanced)))
	kc.electPreferredAuto(imbalanced)
}

// imbalancedPartitions groups partitions by preferred replica and, for
// each broker whose imbalance exceeds LeaderImbalanceThresholdPct,
// returns its partitions not led by it. A broker's imbalance is the
// integer percentage of the partitions it is preferred for that it does
// not lead; partitions of brokers at or below the threshold are not
// returned even when their leader is not the preferred replica.
func (kc *KafkaController) imbalancedPartitions() []model.TopicPartition {
	type brokerStats struct {
		total, imbalanced int
		partitions        []model.TopicPartition
	}
	stats := make(map[model.BrokerID]*brokerStats)

	for _, tp := range kc.ctx.AllPartitions() {
		ar, ok := kc.ctx.Assignment(tp)
		if !ok || len(ar) == 0 {
			continue
		}
		preferred := ar.Preferred()
		st, ok := stats[preferred]
		if !ok {
			st = &brokerStats{}
			stats[preferred] = st
		}
		st.total++
		lisr, ok := kc.ctx.Leadership(tp)
		if ok && lisr.LeaderAndIsr.Leader != preferred {
			st.imbalanced++
			st.partitions = append(st.partitions, tp)
		}
	}

	var out []model.TopicPartition
	for _, st := range stats {
		if st.total == 0 {
			continue
		}
		pct := st.imbalanced * 100 / st.total
		if pct > kc.cfg.LeaderImbalanceThresholdPct {
			out = append(out, st.partitions...)
		}
	}
	return out
}

// electPreferredAuto enqueues an auto-rebalance-triggered election: the
// coordination-service request path is left untouched on completion,
// since auto rebalance never wrote an entry there.
func (kc *KafkaController) electPreferredAuto(partitions []model.TopicPartition) {
	kc.events.Put(&preferredReplicaLeaderElectionEvent{kc: kc, partitions: partitions, manual: false})
}

// electPreferredManual enqueues a user-requested election: the
// coordination-service request path is cleared once processed.
func (kc *KafkaController) electPreferredManual(partitions []model.TopicPartition) {
	kc.events.Put(&preferredReplicaLeaderElectionEvent{kc: kc, partitions: partitions, manual: true})
}

// clearPreferredReplicaElectionPath removes the processed partitions'
// request node after a manually requested election completes.
func (kc *KafkaController) clearPreferredReplicaElectionPath() {
	if err := kc.coordClient.Delete(context.Background(), coord.PreferredReplicaElectionPath, -1); err != nil && !errors.Is(err, coord.ErrNoNode) {
		kc.log.Warn("failed to clear preferred_replica_election path", zap.Error(err))
	}
}

// startAutoRebalance launches the periodic ticker driving
// autoPreferredReplicaLeaderElectionEvent, stopped by onControllerResignation
// closing kc.stopTimers.
func (kc *KafkaController) startAutoRebalance() {
	if !kc.cfg.AutoLeaderRebalanceEnabled {
		return
	}
	stop := kc.stopTimers
	kc.wg.Add(1)
	go func() {
		defer kc.wg.Done()
		t := time.NewTicker(kc.cfg.AutoLeaderRebalanceInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				kc.events.Put(&autoPreferredReplicaLeaderElectionEvent{kc: kc})
			case <-stop:
				return
			}
		}
	}()
}

// preferredReplicaElectionRequestEvent handles a manually requested
// preferred-replica election written to
// /admin/preferred_replica_election.
type preferredReplicaElectionRequestEvent struct{ kc *KafkaController }

func (e *preferredReplicaElectionRequestEvent) StateTag() string {
	return "PreferredReplicaLeaderElectionRequest"
}
func (e *preferredReplicaElectionRequestEvent) Process() {
	kc := e.kc
	if !kc.IsActive() {
		return
	}
	kc.registerPreferredReplicaElectionWatch()

	partitions, err := kc.readPreferredReplicaElectionRequest()
	if err != nil || len(partitions) == 0 {
		return
	}
	kc.electPreferredManual(partitions)
}

func (kc *KafkaController) readPreferredReplicaElectionRequest() ([]model.TopicPartition, error) {
	raw, _, err := kc.coordClient.Get(context.Background(), coord.PreferredReplicaElectionPath)
	if err != nil {
		return nil, err
	}
	var req struct {
		Partitions []struct {
			Topic     string `json:"topic"`
			Partition int32  `json:"partition"`
		} `json:"partitions"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	out := make([]model.TopicPartition, 0, len(req.Partitions))
	for _, p := range req.Partitions {
		out = append(out, model.TopicPartition{Topic: p.Topic, Partition: p.Partition})
	}
	return out, nil
}

// resumePreferredReplicaElections re-evaluates any manual election
// request still present at failover time.
func (kc *KafkaController) resumePreferredReplicaElections() {
	partitions, err := kc.readPreferredReplicaElectionRequest()
	if err != nil || len(partitions) == 0 {
		return
	}
	kc.electPreferredManual(partitions)
}
