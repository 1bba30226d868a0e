package controller

import (
	"sync/atomic"

	"github.com/kcctl/kcctl/internal/fsm"
)

// Metrics holds the controller's health gauges and counters:
// ActiveControllerCount, OfflinePartitionsCount, GlobalTopicCount,
// GlobalPartitionCount, and the
// per-event-state counts/timers events.Manager.Stats already tracks.
// Modeled on the plain atomic-gauge style lindb's
// coordinator/master_controller.go uses rather than pulling in a metrics
// client, since nothing else here needs a Prometheus registry for what
// is otherwise one in-process gauge.
type Metrics struct {
	activeControllerCount  atomic.Int64
	offlinePartitionsCount atomic.Int64
	globalTopicCount       atomic.Int64
	globalPartitionCount   atomic.Int64
	preferredReplicaImbalanceCount atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) SetActive(active bool) {
	if active {
		m.activeControllerCount.Store(1)
	} else {
		m.activeControllerCount.Store(0)
	}
}

func (m *Metrics) ActiveControllerCount() int64 { return m.activeControllerCount.Load() }

func (m *Metrics) SetOfflinePartitionsCount(n int) { m.offlinePartitionsCount.Store(int64(n)) }
func (m *Metrics) OfflinePartitionsCount() int64   { return m.offlinePartitionsCount.Load() }

func (m *Metrics) SetGlobalTopicCount(n int) { m.globalTopicCount.Store(int64(n)) }
func (m *Metrics) GlobalTopicCount() int64   { return m.globalTopicCount.Load() }

func (m *Metrics) SetGlobalPartitionCount(n int) { m.globalPartitionCount.Store(int64(n)) }
func (m *Metrics) GlobalPartitionCount() int64   { return m.globalPartitionCount.Load() }

func (m *Metrics) SetPreferredReplicaImbalanceCount(n int) {
	m.preferredReplicaImbalanceCount.Store(int64(n))
}
func (m *Metrics) PreferredReplicaImbalanceCount() int64 {
	return m.preferredReplicaImbalanceCount.Load()
}

// refreshGauges recomputes the size gauges from context, called at the
// end of every event that can change topic/partition/offline counts.
func (kc *KafkaController) refreshGauges() {
	topics := kc.ctx.AllTopics()
	kc.metrics.SetGlobalTopicCount(len(topics))
	partitions := kc.ctx.AllPartitions()
	kc.metrics.SetGlobalPartitionCount(len(partitions))

	offline := 0
	for _, tp := range partitions {
		if kc.partitionFSM.State(tp) == fsm.OfflinePartition {
			offline++
		}
	}
	kc.metrics.SetOfflinePartitionsCount(offline)
	kc.metrics.SetActive(kc.IsActive())
}
