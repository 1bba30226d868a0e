// Package batch implements the per-event request staging area that
// coalesces per-broker LeaderAndIsr / StopReplica / UpdateMetadata
// requests within a single controller event and flushes at most one of
// each onto the channel manager's per-broker queue.
package batch

import (
	"errors"
	"fmt"

	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

// ErrIllegalState marks a batch flagged inconsistent through MarkIllegal:
// fatal for the controller, not retriable.
var ErrIllegalState = errors.New("batch: illegal state")

// Sender is the narrow capability the batch needs from the channel
// manager: enqueue a request for delivery to a broker. It never blocks
// indefinitely: send only blocks if the broker's queue is full.
type Sender interface {
	SendLeaderAndIsr(broker model.BrokerID, req rpc.LeaderAndIsrRequest)
	SendStopReplica(broker model.BrokerID, req rpc.StopReplicaRequest)
	SendUpdateMetadata(broker model.BrokerID, req rpc.UpdateMetadataRequest)
}

type leaderAndIsrStage struct {
	partitions  map[model.TopicPartition]rpc.LeaderAndIsrPartitionState
	liveLeaders map[int32]rpc.LiveLeader
}

type stopReplicaStage struct {
	deleteTrue  []rpc.StopReplicaPartition
	deleteFalse []rpc.StopReplicaPartition
}

// Batch accumulates staged requests for one controller event. newBatch()
// is modeled by calling New; the caller discards the Batch and creates a
// new one for the next event.
type Batch struct {
	sender Sender

	leaderAndIsr map[model.BrokerID]*leaderAndIsrStage
	stopReplica  map[model.BrokerID]*stopReplicaStage
	updateMeta   map[model.BrokerID]map[model.TopicPartition]rpc.UpdateMetadataPartitionState

	illegal error
}

// New starts accumulation for one event.
func New(sender Sender) *Batch {
	return &Batch{
		sender:       sender,
		leaderAndIsr: make(map[model.BrokerID]*leaderAndIsrStage),
		stopReplica:  make(map[model.BrokerID]*stopReplicaStage),
		updateMeta:   make(map[model.BrokerID]map[model.TopicPartition]rpc.UpdateMetadataPartitionState),
	}
}

// AddLeaderAndIsrRequestForBrokers stages a LeaderAndIsr entry for tp
// toward every broker in to.
func (b *Batch) AddLeaderAndIsrRequestForBrokers(to []model.BrokerID, tp model.TopicPartition, state rpc.LeaderAndIsrPartitionState, liveLeaders []rpc.LiveLeader) {
	if b.illegal != nil {
		return
	}
	for _, broker := range to {
		stage, ok := b.leaderAndIsr[broker]
		if !ok {
			stage = &leaderAndIsrStage{
				partitions:  make(map[model.TopicPartition]rpc.LeaderAndIsrPartitionState),
				liveLeaders: make(map[int32]rpc.LiveLeader),
			}
			b.leaderAndIsr[broker] = stage
		}
		stage.partitions[tp] = state
		for _, l := range liveLeaders {
			stage.liveLeaders[l.BrokerID] = l
		}
	}
}

// AddStopReplicaRequestForBrokers stages a StopReplica entry for tp
// toward every broker in to, grouped by the deletePartition flag.
func (b *Batch) AddStopReplicaRequestForBrokers(to []model.BrokerID, tp model.TopicPartition, leaderEpoch int32, deletePartition bool) {
	if b.illegal != nil {
		return
	}
	part := rpc.StopReplicaPartition{Topic: tp.Topic, Partition: tp.Partition, LeaderEpoch: leaderEpoch, DeletePartition: deletePartition}
	for _, broker := range to {
		stage, ok := b.stopReplica[broker]
		if !ok {
			stage = &stopReplicaStage{}
			b.stopReplica[broker] = stage
		}
		if deletePartition {
			stage.deleteTrue = append(stage.deleteTrue, part)
		} else {
			stage.deleteFalse = append(stage.deleteFalse, part)
		}
	}
}

// AddUpdateMetadataRequestForBrokers stages an UpdateMetadata entry for
// tp toward every broker in to. Passing a nil tp set (len(partitions)==0)
// with a non-empty broker list stages "no partitions changed, still
// notify of broker list" the way a bare broker-membership update does.
func (b *Batch) AddUpdateMetadataRequestForBrokers(to []model.BrokerID, partitions map[model.TopicPartition]rpc.UpdateMetadataPartitionState) {
	if b.illegal != nil {
		return
	}
	for _, broker := range to {
		m, ok := b.updateMeta[broker]
		if !ok {
			m = make(map[model.TopicPartition]rpc.UpdateMetadataPartitionState)
			b.updateMeta[broker] = m
		}
		for tp, state := range partitions {
			m[tp] = state
		}
	}
}

// MarkIllegal fails the batch fatally: an IllegalState observed while
// staging is unrecoverable for this batch and signals the caller to
// resign.
func (b *Batch) MarkIllegal(reason string) {
	b.illegal = fmt.Errorf("%w: %s", ErrIllegalState, reason)
}

// Err reports whether the batch was marked illegal.
func (b *Batch) Err() error {
	return b.illegal
}

// SendRequestsToBrokers flushes at most one LeaderAndIsr, one grouped
// StopReplica pair, and one UpdateMetadata per target broker, each
// stamped with controllerEpoch.
func (b *Batch) SendRequestsToBrokers(controllerID int32, controllerEpoch int32, liveBrokers []rpc.LiveBroker) error {
	if b.illegal != nil {
		return b.illegal
	}

	for broker, stage := range b.leaderAndIsr {
		leaders := make([]rpc.LiveLeader, 0, len(stage.liveLeaders))
		for _, l := range stage.liveLeaders {
			leaders = append(leaders, l)
		}
		b.sender.SendLeaderAndIsr(broker, rpc.LeaderAndIsrRequest{
			ControllerID:    controllerID,
			ControllerEpoch: controllerEpoch,
			Partitions:      stage.partitions,
			LiveLeaders:     leaders,
		})
	}

	for broker, stage := range b.stopReplica {
		if len(stage.deleteFalse) > 0 {
			b.sender.SendStopReplica(broker, rpc.StopReplicaRequest{
				ControllerID:    controllerID,
				ControllerEpoch: controllerEpoch,
				DeletePartition: false,
				Partitions:      stage.deleteFalse,
			})
		}
		if len(stage.deleteTrue) > 0 {
			b.sender.SendStopReplica(broker, rpc.StopReplicaRequest{
				ControllerID:    controllerID,
				ControllerEpoch: controllerEpoch,
				DeletePartition: true,
				Partitions:      stage.deleteTrue,
			})
		}
	}

	for broker, partitions := range b.updateMeta {
		b.sender.SendUpdateMetadata(broker, rpc.UpdateMetadataRequest{
			ControllerID:    controllerID,
			ControllerEpoch: controllerEpoch,
			Partitions:      partitions,
			LiveBrokers:     liveBrokers,
		})
	}
	return nil
}
