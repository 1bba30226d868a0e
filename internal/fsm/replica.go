package fsm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/batch"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

// ReplicaState is one of the seven replica lifecycle states.
type ReplicaState int

const (
	NonExistentReplica ReplicaState = iota
	NewReplica
	OnlineReplica
	OfflineReplica
	ReplicaDeletionStarted
	ReplicaDeletionSuccessful
	ReplicaDeletionIneligible
)

func (s ReplicaState) String() string {
	switch s {
	case NewReplica:
		return "NewReplica"
	case OnlineReplica:
		return "OnlineReplica"
	case OfflineReplica:
		return "OfflineReplica"
	case ReplicaDeletionStarted:
		return "ReplicaDeletionStarted"
	case ReplicaDeletionSuccessful:
		return "ReplicaDeletionSuccessful"
	case ReplicaDeletionIneligible:
		return "ReplicaDeletionIneligible"
	default:
		return "NonExistentReplica"
	}
}

// IsrShrinker is the narrow coordination-service capability used when a
// replica leaves the ISR.
type IsrShrinker interface {
	RemoveReplicaFromIsr(tp model.TopicPartition, replica model.BrokerID, controllerEpoch int32) (model.LeaderAndIsr, bool, error)
}

// DeletionTracker receives bookkeeping callbacks when a replica finishes
// (or becomes ineligible for) deletion, implemented by
// TopicDeletionManager.
type DeletionTracker interface {
	ReplicaDeletionCompleted(replica model.PartitionReplica, success bool)
}

// ReplicaMachine drives the seven-state replica FSM.
type ReplicaMachine struct {
	log      *zap.Logger
	ctx      *model.Context
	isr      IsrShrinker
	deletion DeletionTracker

	states map[model.PartitionReplica]ReplicaState
}

func NewReplicaMachine(log *zap.Logger, ctx *model.Context, isr IsrShrinker, deletion DeletionTracker) *ReplicaMachine {
	return &ReplicaMachine{
		log:      log,
		ctx:      ctx,
		isr:      isr,
		deletion: deletion,
		states:   make(map[model.PartitionReplica]ReplicaState),
	}
}

func (m *ReplicaMachine) State(r model.PartitionReplica) ReplicaState {
	if s, ok := m.states[r]; ok {
		return s
	}
	return NonExistentReplica
}

func validReplicaTransition(from, to ReplicaState) bool {
	switch to {
	case NewReplica:
		return from == NonExistentReplica
	case OnlineReplica:
		return from == NewReplica || from == OnlineReplica || from == OfflineReplica
	case OfflineReplica:
		return from == NewReplica || from == OnlineReplica || from == OfflineReplica || from == ReplicaDeletionIneligible
	case ReplicaDeletionStarted:
		return from == OfflineReplica || from == ReplicaDeletionIneligible
	case ReplicaDeletionSuccessful:
		return from == ReplicaDeletionStarted
	case ReplicaDeletionIneligible:
		return from == NewReplica || from == OnlineReplica || from == OfflineReplica || from == ReplicaDeletionStarted || from == ReplicaDeletionIneligible
	case NonExistentReplica:
		return from == ReplicaDeletionSuccessful
	}
	return false
}

// HandleStateChanges validates and applies target for every replica in
// replicas in one request-batch.
func (m *ReplicaMachine) HandleStateChanges(replicas []model.PartitionReplica, target ReplicaState, b *batch.Batch, controllerEpoch int32, leadershipOf func(model.TopicPartition) (model.LeaderAndIsr, bool)) {
	for _, r := range replicas {
		from := m.State(r)
		if !validReplicaTransition(from, target) {
			m.log.Warn("skipping invalid replica transition",
				zap.String("replica", fmt.Sprintf("%s/%d", r.TopicPartition, r.BrokerID)),
				zap.String("from", from.String()), zap.String("to", target.String()))
			continue
		}
		m.apply(r, from, target, b, controllerEpoch, leadershipOf)
		m.states[r] = target
	}
}

func (m *ReplicaMachine) apply(r model.PartitionReplica, from, target ReplicaState, b *batch.Batch, controllerEpoch int32, leadershipOf func(model.TopicPartition) (model.LeaderAndIsr, bool)) {
	switch target {
	case NewReplica:
		lisr, ok := leadershipOf(r.TopicPartition)
		if !ok {
			return
		}
		ar, _ := m.ctx.Assignment(r.TopicPartition)
		state := rpc.LeaderAndIsrPartitionState{
			Partition:       r.Partition,
			ControllerEpoch: controllerEpoch,
			Leader:          int32(lisr.Leader),
			LeaderEpoch:     lisr.LeaderEpoch,
			ISR:             toInt32s(lisr.ISR),
			ZkVersion:       lisr.ZkVersion,
			Replicas:        toInt32s(ar),
			IsNew:           true,
		}
		b.AddLeaderAndIsrRequestForBrokers([]model.BrokerID{r.BrokerID}, r.TopicPartition, state, nil)

	case OnlineReplica:
		ar, ok := m.ctx.Assignment(r.TopicPartition)
		if !ok {
			return
		}
		if !ar.Contains(r.BrokerID) {
			m.ctx.SetAssignment(r.TopicPartition, append(append(model.ReplicaAssignment{}, ar...), r.BrokerID))
		}
		lisr, ok := leadershipOf(r.TopicPartition)
		if !ok {
			return
		}
		ar2, _ := m.ctx.Assignment(r.TopicPartition)
		state := rpc.LeaderAndIsrPartitionState{
			Partition:       r.Partition,
			ControllerEpoch: controllerEpoch,
			Leader:          int32(lisr.Leader),
			LeaderEpoch:     lisr.LeaderEpoch,
			ISR:             toInt32s(lisr.ISR),
			ZkVersion:       lisr.ZkVersion,
			Replicas:        toInt32s(ar2),
		}
		b.AddLeaderAndIsrRequestForBrokers([]model.BrokerID{r.BrokerID}, r.TopicPartition, state, nil)

	case OfflineReplica:
		b.AddStopReplicaRequestForBrokers([]model.BrokerID{r.BrokerID}, r.TopicPartition, 0, false)

		lisr, ok := m.ctx.Leadership(r.TopicPartition)
		if ok && lisr.LeaderAndIsr.InISR(r.BrokerID) {
			newLisr, existed, err := m.isr.RemoveReplicaFromIsr(r.TopicPartition, r.BrokerID, controllerEpoch)
			if err != nil {
				m.log.Warn("removeReplicaFromIsr failed",
					zap.String("partition", r.TopicPartition.String()), zap.Error(err))
			} else if existed {
				m.ctx.SetLeadership(r.TopicPartition, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: newLisr, ControllerEpoch: controllerEpoch})
			}
		} else if ok && lisr.LeaderAndIsr.Leader == r.BrokerID {
			lisr.LeaderAndIsr.Leader = model.BrokerID(model.NoLeader)
			m.ctx.SetLeadership(r.TopicPartition, lisr)
		}

	case ReplicaDeletionStarted:
		b.AddStopReplicaRequestForBrokers([]model.BrokerID{r.BrokerID}, r.TopicPartition, 0, true)

	case ReplicaDeletionSuccessful:
		if m.deletion != nil {
			m.deletion.ReplicaDeletionCompleted(r, true)
		}

	case ReplicaDeletionIneligible:
		if m.deletion != nil {
			m.deletion.ReplicaDeletionCompleted(r, false)
		}

	case NonExistentReplica:
		ar, ok := m.ctx.Assignment(r.TopicPartition)
		if ok {
			out := make(model.ReplicaAssignment, 0, len(ar))
			for _, b := range ar {
				if b != r.BrokerID {
					out = append(out, b)
				}
			}
			m.ctx.SetAssignment(r.TopicPartition, out)
		}
	}
	_ = from
}
