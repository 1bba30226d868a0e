// Package model holds the cluster controller's data model: the plain
// structs that describe brokers, partitions, replicas, and the
// controller's own epoch, independent of how they are persisted or
// mutated.
package model

import "fmt"

// NoLeader is the sentinel leader id meaning "no broker currently leads
// this partition".
const NoLeader int32 = -1

// BrokerID identifies a broker in the cluster.
type BrokerID int32

// Broker is a live cluster member.
type Broker struct {
	ID        BrokerID
	Endpoints []string // host:port per listener
	Rack      string
}

// TopicPartition names one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// PartitionReplica identifies a replica jointly by partition and host.
type PartitionReplica struct {
	TopicPartition
	BrokerID BrokerID
}

// ReplicaAssignment is the ordered sequence of brokers hosting a
// partition. The first entry is the preferred leader.
type ReplicaAssignment []BrokerID

// Contains reports whether id is present anywhere in the assignment.
func (a ReplicaAssignment) Contains(id BrokerID) bool {
	for _, b := range a {
		if b == id {
			return true
		}
	}
	return false
}

// Preferred returns the preferred leader, i.e. the first assigned
// replica. Panics on an empty assignment; callers must not create
// partitions with zero replicas.
func (a ReplicaAssignment) Preferred() BrokerID {
	return a[0]
}

// LeaderAndIsr is the authoritative leadership record for a partition.
type LeaderAndIsr struct {
	Leader      BrokerID
	LeaderEpoch int32
	ISR         []BrokerID
	ZkVersion   int32
}

// NewLeaderAndIsr constructs a fresh record with the given leader and
// ISR; epoch and version both start at zero.
func NewLeaderAndIsr(leader BrokerID, isr []BrokerID) LeaderAndIsr {
	return LeaderAndIsr{Leader: leader, LeaderEpoch: 0, ISR: isr, ZkVersion: 0}
}

func (l LeaderAndIsr) withISR(isr []BrokerID) LeaderAndIsr {
	l.ISR = isr
	return l
}

func (l LeaderAndIsr) bumpEpoch() LeaderAndIsr {
	l.LeaderEpoch++
	return l
}

// InISR reports whether id is currently a member of the in-sync
// replica set.
func (l LeaderAndIsr) InISR(id BrokerID) bool {
	for _, b := range l.ISR {
		if b == id {
			return true
		}
	}
	return false
}

// LeaderIsrAndControllerEpoch pairs a LeaderAndIsr with the
// controllerEpoch that last wrote it, as persisted in the coordination
// service.
type LeaderIsrAndControllerEpoch struct {
	LeaderAndIsr    LeaderAndIsr
	ControllerEpoch int32
}

// ReassignmentContext describes a partition reassignment in flight.
type ReassignmentContext struct {
	NewReplicas ReplicaAssignment
	// WatchRegistered marks whether an ISR-change watch has been placed
	// on this partition's state path for step 4 of the protocol.
	WatchRegistered bool
}

// ControllerEpoch is the monotonic identity of a controller's reign,
// paired with the zkVersion of the node it was read from so writes can
// be made conditional on it.
type ControllerEpoch struct {
	Epoch        int32
	EpochZkVersion int32
}
