// Package selector implements the controller's leader-selection
// strategies: pure functions from current partition state to a new
// LeaderAndIsr plus the set of brokers that must be notified.
package selector

import (
	"errors"
	"fmt"

	"github.com/kcctl/kcctl/internal/model"
)

// ErrNoReplicaOnline is returned when no eligible broker can be elected
// leader.
var ErrNoReplicaOnline = errors.New("selector: no replica online for partition")

// LiveFunc reports whether a broker is currently live. Selectors never
// touch the controller context directly; they take this predicate so
// they stay pure and unit-testable without any shared mutable state.
type LiveFunc func(model.BrokerID) bool

// Result is what a selection produces.
type Result struct {
	LeaderAndIsr model.LeaderAndIsr
	// RecipientBrokers is the set that must receive the resulting
	// LeaderAndIsr request.
	RecipientBrokers []model.BrokerID
}

// Selector picks a new leader/ISR for tp given its current record and
// assignment.
type Selector interface {
	Select(tp model.TopicPartition, current model.LeaderAndIsr, ar model.ReplicaAssignment, live LiveFunc) (Result, error)
}

func recipientsFromAll(ar model.ReplicaAssignment, isr []model.BrokerID) []model.BrokerID {
	seen := make(map[model.BrokerID]struct{}, len(ar)+len(isr))
	var out []model.BrokerID
	for _, b := range ar {
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	for _, b := range isr {
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	return out
}

// OfflinePartitionLeaderSelector implements the default election used
// whenever a partition goes leaderless: prefer the first AR member that
// is both live and in ISR; fall back to unclean election if enabled.
// UncleanLeaderElectionEnabledFunc, when set, is consulted per-topic
// (unclean election is a topic-level flag); UncleanLeaderElectionEnabled
// is the fallback used when no func is supplied, for callers that only
// need a single cluster-wide default.
type OfflinePartitionLeaderSelector struct {
	UncleanLeaderElectionEnabled     bool
	UncleanLeaderElectionEnabledFunc func(topic string) bool
}

func (s OfflinePartitionLeaderSelector) uncleanEnabled(topic string) bool {
	if s.UncleanLeaderElectionEnabledFunc != nil {
		return s.UncleanLeaderElectionEnabledFunc(topic)
	}
	return s.UncleanLeaderElectionEnabled
}

func (s OfflinePartitionLeaderSelector) Select(tp model.TopicPartition, current model.LeaderAndIsr, ar model.ReplicaAssignment, live LiveFunc) (Result, error) {
	for _, b := range ar {
		if live(b) && current.InISR(b) {
			next := current
			next.Leader = b
			next.LeaderEpoch++
			return Result{LeaderAndIsr: next, RecipientBrokers: recipientsFromAll(ar, next.ISR)}, nil
		}
	}
	if s.uncleanEnabled(tp.Topic) {
		for _, b := range ar {
			if live(b) {
				next := current
				next.Leader = b
				next.ISR = []model.BrokerID{b}
				next.LeaderEpoch++
				return Result{LeaderAndIsr: next, RecipientBrokers: recipientsFromAll(ar, next.ISR)}, nil
			}
		}
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNoReplicaOnline, tp)
}

// ReassignedPartitionLeaderSelector picks the first broker in the new
// replica list that is live and in the current ISR, for step 7 of the
// reassignment protocol.
type ReassignedPartitionLeaderSelector struct {
	NewReplicas model.ReplicaAssignment
}

func (s ReassignedPartitionLeaderSelector) Select(tp model.TopicPartition, current model.LeaderAndIsr, ar model.ReplicaAssignment, live LiveFunc) (Result, error) {
	for _, b := range s.NewReplicas {
		if live(b) && current.InISR(b) {
			next := current
			next.Leader = b
			next.LeaderEpoch++
			return Result{LeaderAndIsr: next, RecipientBrokers: recipientsFromAll(s.NewReplicas, next.ISR)}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNoReplicaOnline, tp)
}

// PreferredReplicaPartitionLeaderSelector forces leadership back to
// AR[0], the preferred leader, failing if it isn't eligible.
type PreferredReplicaPartitionLeaderSelector struct{}

func (s PreferredReplicaPartitionLeaderSelector) Select(tp model.TopicPartition, current model.LeaderAndIsr, ar model.ReplicaAssignment, live LiveFunc) (Result, error) {
	preferred := ar.Preferred()
	if !live(preferred) || !current.InISR(preferred) {
		return Result{}, fmt.Errorf("%w: preferred replica %d not eligible for %s", ErrNoReplicaOnline, preferred, tp)
	}
	next := current
	next.Leader = preferred
	next.LeaderEpoch++
	return Result{LeaderAndIsr: next, RecipientBrokers: recipientsFromAll(ar, next.ISR)}, nil
}

// ControlledShutdownLeaderSelector picks the first AR member that is
// live, in ISR, and not itself shutting down, shrinking the ISR to drop
// the departing broker.
type ControlledShutdownLeaderSelector struct {
	ShuttingDown map[model.BrokerID]struct{}
}

func (s ControlledShutdownLeaderSelector) Select(tp model.TopicPartition, current model.LeaderAndIsr, ar model.ReplicaAssignment, live LiveFunc) (Result, error) {
	newISR := make([]model.BrokerID, 0, len(current.ISR))
	for _, b := range current.ISR {
		if _, down := s.ShuttingDown[b]; !down {
			newISR = append(newISR, b)
		}
	}
	for _, b := range ar {
		if _, down := s.ShuttingDown[b]; down {
			continue
		}
		if !live(b) {
			continue
		}
		inOldISR := false
		for _, i := range current.ISR {
			if i == b {
				inOldISR = true
				break
			}
		}
		if !inOldISR {
			continue
		}
		next := current
		next.Leader = b
		next.ISR = newISR
		next.LeaderEpoch++
		return Result{LeaderAndIsr: next, RecipientBrokers: recipientsFromAll(ar, newISR)}, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNoReplicaOnline, tp)
}
