// Package deletion orchestrates the topic-deletion lifecycle across a
// topic's replicas, tracking which topics are queued, ineligible, and
// fully drained.
package deletion

import (
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/model"
)

// Manager tracks per-topic deletion progress.
type Manager struct {
	log *zap.Logger
	ctx *model.Context

	// pendingReplicas[topic] is the set of replicas still being deleted.
	pendingReplicas map[string]map[model.PartitionReplica]struct{}

	onTopicFullyDeleted func(topic string)
}

func NewManager(log *zap.Logger, ctx *model.Context) *Manager {
	return &Manager{
		log:             log,
		ctx:             ctx,
		pendingReplicas: make(map[string]map[model.PartitionReplica]struct{}),
	}
}

// SetCompletionHook registers fn to run once every tracked replica for a
// topic has been confirmed deleted; the controller wires this to remove
// the topic from context and from the coordination service.
func (m *Manager) SetCompletionHook(fn func(topic string)) {
	m.onTopicFullyDeleted = fn
}

// EnqueueTopics marks topics as queued for deletion.
func (m *Manager) EnqueueTopics(topics []string) {
	for _, t := range topics {
		m.ctx.QueueTopicForDeletion(t)
	}
}

// IsTopicQueuedForDeletion reports whether topic has an active deletion
// request (used by the partition/reassignment protocols to skip it).
func (m *Manager) IsTopicQueuedForDeletion(topic string) bool {
	return m.ctx.IsQueuedForDeletion(topic)
}

// MarkTopicIneligibleForDeletion marks topic as unable to proceed. The
// mark is sticky: ResumeDeletionForTopics skips a marked topic. It is set
// by ReplicaDeletionCompleted when a replica delete fails; reassignments
// and offline replicas are checked through ResumeDeletionForTopics'
// eligible predicate instead.
func (m *Manager) MarkTopicIneligibleForDeletion(topic string, reason string) {
	m.log.Info("topic ineligible for deletion", zap.String("topic", topic), zap.String("reason", reason))
	m.ctx.MarkIneligibleForDeletion(topic)
}

// ResumeDeletionForTopics is called from the controller's
// resumeTopicDeletions to (re)start driving replicas for every topic that is
// queued, not marked ineligible, and currently eligible per eligible
// (no reassignment in flight, no offline replica for the topic) — the
// latter two are re-evaluated on every call rather than stuck once
// observed, since a reassignment finishing or a replica coming back
// online should let a deferred deletion proceed on the next resume.
func (m *Manager) ResumeDeletionForTopics(topics []string, eligible func(topic string) (bool, string), replicasOf func(topic string) []model.PartitionReplica, driveOffline, driveDeletionStarted func([]model.PartitionReplica)) {
	for _, topic := range topics {
		if !m.ctx.IsQueuedForDeletion(topic) || m.ctx.IsIneligibleForDeletion(topic) {
			continue
		}
		if ok, reason := eligible(topic); !ok {
			m.log.Info("topic deletion deferred", zap.String("topic", topic), zap.String("reason", reason))
			continue
		}
		replicas := replicasOf(topic)
		if len(replicas) == 0 {
			continue
		}
		set := make(map[model.PartitionReplica]struct{}, len(replicas))
		for _, r := range replicas {
			set[r] = struct{}{}
		}
		m.pendingReplicas[topic] = set
		driveOffline(replicas)
		driveDeletionStarted(replicas)
	}
}

// ReplicaDeletionCompleted implements fsm.DeletionTracker: called when a
// replica reaches ReplicaDeletionSuccessful or ReplicaDeletionIneligible.
func (m *Manager) ReplicaDeletionCompleted(replica model.PartitionReplica, success bool) {
	topic := replica.Topic
	set, ok := m.pendingReplicas[topic]
	if !ok {
		return
	}
	if !success {
		m.MarkTopicIneligibleForDeletion(topic, "replica deletion ineligible")
		return
	}
	delete(set, replica)
	if len(set) == 0 {
		delete(m.pendingReplicas, topic)
		if m.onTopicFullyDeleted != nil {
			m.onTopicFullyDeleted(topic)
		}
	}
}

// Reset clears all in-flight deletion bookkeeping, as performed on
// controller resignation.
func (m *Manager) Reset() {
	m.pendingReplicas = make(map[string]map[model.PartitionReplica]struct{})
}
