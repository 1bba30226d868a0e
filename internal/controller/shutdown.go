package controller

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/fsm"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/selector"
)

// controlledShutdownResult is handed back to ControlledShutdown's caller
// once the event has been processed on the loop.
type controlledShutdownResult struct {
	remaining []model.TopicPartition
	err       error
}

// controlledShutdownEvent handles a broker asked to leave gracefully.
// Moving every partition it leads elsewhere happens
// in-batch (ControlledShutdownPartitionBatchSize at a time) on the
// single event loop, same as every other mutation.
type controlledShutdownEvent struct {
	kc       *KafkaController
	brokerID model.BrokerID
	reply    chan controlledShutdownResult
}

func (e *controlledShutdownEvent) StateTag() string { return "ControlledShutdown" }
func (e *controlledShutdownEvent) Process() {
	remaining, err := e.kc.doControlledShutdown(e.brokerID)
	e.reply <- controlledShutdownResult{remaining: remaining, err: err}
}

// ControlledShutdown is the public, synchronous entry point an RPC
// handler calls when a broker requests to shut down. It enqueues the
// work onto the event loop and blocks for the result, the same
// request/reply-over-channel shape pkg/kfake uses for its admin(fn)
// helper.
func (kc *KafkaController) ControlledShutdown(brokerID model.BrokerID) ([]model.TopicPartition, error) {
	reply := make(chan controlledShutdownResult, 1)
	kc.events.Put(&controlledShutdownEvent{kc: kc, brokerID: brokerID, reply: reply})
	res := <-reply
	return res.remaining, res.err
}

func (kc *KafkaController) doControlledShutdown(brokerID model.BrokerID) ([]model.TopicPartition, error) {
	if !kc.IsActive() {
		return nil, fmt.Errorf("controlled shutdown rejected: not active controller")
	}
	kc.ctx.AddShuttingDown(brokerID)

	led := kc.ctx.PartitionsLedBy(brokerID)
	sel := selector.ControlledShutdownLeaderSelector{ShuttingDown: map[model.BrokerID]struct{}{brokerID: {}}}

	var remaining []model.TopicPartition
	batchSize := kc.cfg.ControlledShutdownPartitionBatchSize
	if batchSize <= 0 {
		batchSize = len(led)
		if batchSize == 0 {
			batchSize = 1
		}
	}

	for start := 0; start < len(led); start += batchSize {
		end := start + batchSize
		if end > len(led) {
			end = len(led)
		}
		b := kc.newBatch()
		for _, tp := range led[start:end] {
			if err := kc.partitionFSM.HandleStateChange(tp, fsm.OnlinePartition, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch); err != nil {
				remaining = append(remaining, tp)
			}
		}
		kc.flush(b)
	}

	// Replicas on this broker for partitions it no longer leads still
	// need to go Offline so the replica FSM records them correctly and,
	// if it was the last ISR member, the ISR write happens now rather
	// than waiting for a hard failure to be detected later. Partitions in
	// remaining (replicationFactor=1, no eligible leader to hand off to)
	// are excluded: the broker keeps leading and serving those, so moving
	// their replica Offline here would wrongly set Leader=NoLeader and
	// stage a StopReplica to the broker still serving them.
	stillLed := make(map[model.TopicPartition]struct{}, len(remaining))
	for _, tp := range remaining {
		stillLed[tp] = struct{}{}
	}
	var replicas []model.PartitionReplica
	for _, r := range kc.ctx.ReplicasOnBrokers(map[model.BrokerID]struct{}{brokerID: {}}) {
		if _, ok := stillLed[r.TopicPartition]; ok {
			continue
		}
		replicas = append(replicas, r)
	}
	b := kc.newBatch()
	kc.replicaFSM.HandleStateChanges(replicas, fsm.OfflineReplica, b, kc.ctx.Epoch, kc.leadershipOf)
	kc.flush(b)

	kc.refreshGauges()
	kc.log.Info("controlled shutdown processed",
		zap.Int32("broker", int32(brokerID)), zap.Int("remaining", len(remaining)))
	return remaining, nil
}

// CompleteControlledShutdown is called once the shutting-down broker's
// session actually ends (its ephemeral /brokers/ids/<id> node is gone),
// at which point it is handled exactly like any other broker failure.
func (kc *KafkaController) CompleteControlledShutdown(brokerID model.BrokerID) {
	kc.ctx.RemoveShuttingDown(brokerID)
	kc.onBrokerFailure(brokerID)
}
