// Package rpc defines the three inter-broker request shapes the
// controller emits: LeaderAndIsr, StopReplica, UpdateMetadata. The
// controller core builds and batches these as plain domain structs;
// encode.go converts them to the wire-compatible kmsg request types for
// actual transmission.
package rpc

import "github.com/kcctl/kcctl/internal/model"

// Kind distinguishes the three request types for batching purposes.
type Kind int

const (
	KindLeaderAndIsr Kind = iota
	KindStopReplica
	KindUpdateMetadata
)

// LeaderAndIsrPartitionState is one partition's entry in a LeaderAndIsr
// request.
type LeaderAndIsrPartitionState struct {
	Partition       int32
	ControllerEpoch int32
	Leader          int32
	LeaderEpoch     int32
	ISR             []int32
	ZkVersion       int32
	Replicas        []int32
	IsNew           bool
}

// LeaderAndIsrRequest is the per-broker request telling a broker what it
// should believe about leadership for a set of partitions.
type LeaderAndIsrRequest struct {
	ControllerID    int32
	ControllerEpoch int32
	Partitions      map[model.TopicPartition]LeaderAndIsrPartitionState
	LiveLeaders     []LiveLeader
}

// LiveLeader is the address of a broker that currently leads at least
// one of the partitions in this request, so the receiver can open a
// fetcher connection to it.
type LiveLeader struct {
	BrokerID int32
	Host     string
	Port     int32
}

// StopReplicaPartition is one partition entry in a StopReplica request.
type StopReplicaPartition struct {
	Topic           string
	Partition       int32
	LeaderEpoch     int32
	DeletePartition bool
}

// StopReplicaRequest tells a broker to stop serving (and optionally
// delete) a set of partitions. A batch holds at most one StopReplica
// per (deletePartition) grouping per broker.
type StopReplicaRequest struct {
	ControllerID    int32
	ControllerEpoch int32
	DeletePartition bool
	Partitions      []StopReplicaPartition
}

// UpdateMetadataPartitionState mirrors LeaderAndIsrPartitionState plus
// the offline-replica set, as UpdateMetadata additionally informs
// clients which replicas are unreachable.
type UpdateMetadataPartitionState struct {
	Partition       int32
	ControllerEpoch int32
	Leader          int32
	LeaderEpoch     int32
	ISR             []int32
	ZkVersion       int32
	Replicas        []int32
	OfflineReplicas []int32
}

// UpdateMetadataRequest broadcasts the controller's full (or topic-scoped)
// view of partition leadership and the live broker set.
type UpdateMetadataRequest struct {
	ControllerID    int32
	ControllerEpoch int32
	Partitions      map[model.TopicPartition]UpdateMetadataPartitionState
	LiveBrokers     []LiveBroker
}

// LiveBroker is one entry in an UpdateMetadata broker list.
type LiveBroker struct {
	BrokerID  int32
	Endpoints []string
	Rack      string
}
