// Package fsm implements the two interleaved controller state machines:
// PartitionStateMachine and ReplicaStateMachine. Both
// mutate the same ControllerContext and stage requests into the same
// batch, per the design note "multiple state machines over shared data":
// kept as distinct types but given equal mutable access to the owner's
// context and batch, not made independent.
package fsm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/batch"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
	"github.com/kcctl/kcctl/internal/selector"
)

// PartitionState is one of the four states a partition can occupy.
type PartitionState int

const (
	NonExistentPartition PartitionState = iota
	NewPartition
	OnlinePartition
	OfflinePartition
)

func (s PartitionState) String() string {
	switch s {
	case NewPartition:
		return "New"
	case OnlinePartition:
		return "Online"
	case OfflinePartition:
		return "Offline"
	default:
		return "NonExistent"
	}
}

// ZkWriter is the narrow coordination-service capability the partition
// FSM needs: a conditional write of a partition's leader/ISR record.
type ZkWriter interface {
	WriteLeaderAndIsr(tp model.TopicPartition, lisr model.LeaderAndIsr, controllerEpoch int32, expectedVersion int32) (model.LeaderAndIsr, error)
}

// PartitionMachine drives the NonExistent/New/Online/Offline FSM.
type PartitionMachine struct {
	log  *zap.Logger
	ctx  *model.Context
	zk   ZkWriter
	live func(model.BrokerID) bool

	states map[model.TopicPartition]PartitionState
}

func NewPartitionMachine(log *zap.Logger, ctx *model.Context, zk ZkWriter, live func(model.BrokerID) bool) *PartitionMachine {
	return &PartitionMachine{
		log:    log,
		ctx:    ctx,
		zk:     zk,
		live:   live,
		states: make(map[model.TopicPartition]PartitionState),
	}
}

// State returns the current state of tp, defaulting to NonExistent.
func (m *PartitionMachine) State(tp model.TopicPartition) PartitionState {
	if s, ok := m.states[tp]; ok {
		return s
	}
	return NonExistentPartition
}

func validPartitionTransition(from, to PartitionState) bool {
	switch to {
	case NewPartition:
		return from == NonExistentPartition
	case OnlinePartition:
		return from == NewPartition || from == OfflinePartition || from == OnlinePartition
	case OfflinePartition:
		return from == OnlinePartition || from == NewPartition || from == OfflinePartition
	case NonExistentPartition:
		return true // topic deletion may collapse from any state
	}
	return false
}

// HandleStateChange drives tp from its current state to target. sel is
// used only for transitions to Online (from New, Offline or Online).
func (m *PartitionMachine) HandleStateChange(tp model.TopicPartition, target PartitionState, b *batch.Batch, sel selector.Selector, controllerID, controllerEpoch int32) error {
	from := m.State(tp)
	if !validPartitionTransition(from, target) {
		return fmt.Errorf("fsm: invalid partition transition %s->%s for %s", from, target, tp)
	}

	switch target {
	case NewPartition:
		m.states[tp] = NewPartition

	case OnlinePartition:
		if err := m.toOnline(tp, from, b, sel, controllerID, controllerEpoch); err != nil {
			return err
		}
		m.states[tp] = OnlinePartition

	case OfflinePartition:
		m.states[tp] = OfflinePartition

	case NonExistentPartition:
		delete(m.states, tp)
	}
	return nil
}

func (m *PartitionMachine) toOnline(tp model.TopicPartition, from PartitionState, b *batch.Batch, sel selector.Selector, controllerID, controllerEpoch int32) error {
	ar, ok := m.ctx.Assignment(tp)
	if !ok {
		return fmt.Errorf("fsm: no assignment for %s", tp)
	}

	var current model.LeaderAndIsr
	if l, ok := m.ctx.Leadership(tp); ok {
		current = l.LeaderAndIsr
	} else {
		current = model.NewLeaderAndIsr(model.BrokerID(model.NoLeader), []model.BrokerID(ar))
	}

	result, err := sel.Select(tp, current, ar, m.live)
	if err != nil {
		// Selection failure (e.g. NoReplicaOnline) leaves the partition
		// in its current state; no write, no RPC, caller bumps the metric.
		return err
	}

	written, err := m.zk.WriteLeaderAndIsr(tp, result.LeaderAndIsr, controllerEpoch, current.ZkVersion)
	if err != nil {
		b.MarkIllegal(fmt.Sprintf("conditional write failed for %s: %v", tp, err))
		return err
	}

	m.ctx.SetLeadership(tp, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: written, ControllerEpoch: controllerEpoch})

	state := rpc.LeaderAndIsrPartitionState{
		Partition:       tp.Partition,
		ControllerEpoch: controllerEpoch,
		Leader:          int32(written.Leader),
		LeaderEpoch:     written.LeaderEpoch,
		ISR:             toInt32s(written.ISR),
		ZkVersion:       written.ZkVersion,
		Replicas:        toInt32s(ar),
		IsNew:           from == NewPartition,
	}
	b.AddLeaderAndIsrRequestForBrokers(result.RecipientBrokers, tp, state, nil)

	liveIDs := m.ctx.LiveBrokerIDs()
	umState := rpc.UpdateMetadataPartitionState{
		Partition:       tp.Partition,
		ControllerEpoch: controllerEpoch,
		Leader:          int32(written.Leader),
		LeaderEpoch:     written.LeaderEpoch,
		ISR:             toInt32s(written.ISR),
		ZkVersion:       written.ZkVersion,
		Replicas:        toInt32s(ar),
	}
	b.AddUpdateMetadataRequestForBrokers(liveIDs, map[model.TopicPartition]rpc.UpdateMetadataPartitionState{tp: umState})
	return nil
}

func toInt32s(ids []model.BrokerID) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

// TriggerOnlinePartitionStateChange drives every New/Offline partition
// toward Online, skipping partitions of topics queued for deletion.
func (m *PartitionMachine) TriggerOnlinePartitionStateChange(isBeingDeleted func(topic string) bool, b *batch.Batch, sel selector.Selector, controllerID, controllerEpoch int32) {
	for tp, state := range m.states {
		if state != NewPartition && state != OfflinePartition {
			continue
		}
		if isBeingDeleted(tp.Topic) {
			continue
		}
		if err := m.HandleStateChange(tp, OnlinePartition, b, sel, controllerID, controllerEpoch); err != nil {
			m.log.Warn("partition did not become online",
				zap.String("partition", tp.String()), zap.Error(err))
		}
	}
}
