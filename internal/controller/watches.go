package controller

import (
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
)

// registerWatches places every watch the controller needs before reading
// any state, so a change landing mid-read is never missed.
func (kc *KafkaController) registerWatches() {
	kc.registerControllerWatch()
	kc.registerBrokerChangeWatch()
	kc.registerTopicChangeWatch()
	kc.registerReassignPartitionsWatch()
	kc.registerPreferredReplicaElectionWatch()
	kc.registerDeleteTopicsWatch()
	kc.registerIsrChangeNotificationWatch()
	kc.registerLogDirEventNotificationWatch()
}

// watch registration is one-shot per coord.Client.WatchData/WatchChildren
// contract, so every handler re-registers itself as its first action
// (done inside the corresponding *Event.Process, not here) before acting
// on the change that fired it.

func (kc *KafkaController) registerControllerWatch() {
	if err := kc.coordClient.WatchData(coord.ControllerPath, func(ev coord.Event) {
		if ev.Type == coord.EventNodeDeleted {
			kc.events.Put(&reelectEvent{kc: kc})
		}
	}); err != nil {
		kc.log.Warn("failed to watch controller path", zap.Error(err))
	}
}

func (kc *KafkaController) registerBrokerChangeWatch() {
	if err := kc.coordClient.WatchChildren(coord.BrokerIDsPath, func(coord.Event) {
		kc.events.Put(&brokerChangeEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch broker ids path", zap.Error(err))
	}
}

func (kc *KafkaController) registerTopicChangeWatch() {
	if err := kc.coordClient.WatchChildren(coord.BrokersTopicsPath, func(coord.Event) {
		kc.events.Put(&topicChangeEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch topics path", zap.Error(err))
	}
}

func (kc *KafkaController) registerReassignPartitionsWatch() {
	if err := kc.coordClient.WatchData(coord.ReassignPartitionsPath, func(coord.Event) {
		kc.events.Put(&partitionReassignmentEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch reassign_partitions path", zap.Error(err))
	}
}

func (kc *KafkaController) registerPreferredReplicaElectionWatch() {
	if err := kc.coordClient.WatchData(coord.PreferredReplicaElectionPath, func(coord.Event) {
		kc.events.Put(&preferredReplicaElectionRequestEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch preferred_replica_election path", zap.Error(err))
	}
}

func (kc *KafkaController) registerDeleteTopicsWatch() {
	if err := kc.coordClient.WatchChildren(coord.DeleteTopicsPath, func(coord.Event) {
		kc.events.Put(&topicDeletionEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch delete_topics path", zap.Error(err))
	}
}

func (kc *KafkaController) registerIsrChangeNotificationWatch() {
	if err := kc.coordClient.WatchChildren(coord.IsrChangeNotificationPath, func(coord.Event) {
		kc.events.Put(&isrChangeNotificationEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch isr_change_notification path", zap.Error(err))
	}
}

func (kc *KafkaController) registerLogDirEventNotificationWatch() {
	if err := kc.coordClient.WatchChildren(coord.LogDirEventNotificationPath, func(coord.Event) {
		kc.events.Put(&logDirEventNotificationEvent{kc: kc})
	}); err != nil {
		kc.log.Warn("failed to watch log_dir_event_notification path", zap.Error(err))
	}
}
