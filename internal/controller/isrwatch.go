package controller

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/fsm"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/selector"
)

// isrChangeNotificationEvent drains /isr_change_notification: brokers
// drop a sequential node there whenever a partition's ISR shrinks
// outside of a controller-driven write (e.g. a follower falling behind
// and being kicked by the leader itself). The controller's job is only
// to make sure every affected partition gets a fresh online-partition
// pass so OfflinePartition selection and UpdateMetadata stay current,
// then clean up the notification nodes it consumed.
type isrChangeNotificationEvent struct{ kc *KafkaController }

func (e *isrChangeNotificationEvent) StateTag() string { return "IsrChangeNotification" }
func (e *isrChangeNotificationEvent) Process() {
	e.kc.registerIsrChangeNotificationWatch()
	e.kc.drainIsrChangeNotifications()
}

func (kc *KafkaController) drainIsrChangeNotifications() {
	if !kc.IsActive() {
		return
	}
	children, err := kc.coordClient.Children(context.Background(), coord.IsrChangeNotificationPath)
	if err != nil || len(children) == 0 {
		return
	}

	affected := make(map[model.TopicPartition]struct{})
	for _, child := range children {
		path := coord.IsrChangeNotificationPath + "/" + child
		raw, _, err := kc.coordClient.Get(context.Background(), path)
		if err == nil {
			var notice struct {
				Partitions []struct {
					Topic     string `json:"topic"`
					Partition int32  `json:"partition"`
				} `json:"partitions"`
			}
			if json.Unmarshal(raw, &notice) == nil {
				for _, p := range notice.Partitions {
					affected[model.TopicPartition{Topic: p.Topic, Partition: p.Partition}] = struct{}{}
				}
			}
		}
		if err := kc.coordClient.Delete(context.Background(), path, -1); err != nil && err != coord.ErrNoNode {
			kc.log.Warn("failed to delete isr change notification", zap.String("path", path), zap.Error(err))
		}
	}
	if len(affected) == 0 {
		return
	}

	b := kc.newBatch()
	sel := &selector.OfflinePartitionLeaderSelector{UncleanLeaderElectionEnabledFunc: kc.topicCfgs.enabled}
	for tp := range affected {
		if lisr, ok := kc.ctx.Leadership(tp); ok && lisr.LeaderAndIsr.Leader == model.BrokerID(model.NoLeader) {
			_ = kc.partitionFSM.HandleStateChange(tp, fsm.OfflinePartition, b, nil, kc.cfg.BrokerID, kc.ctx.Epoch)
			_ = kc.partitionFSM.HandleStateChange(tp, fsm.OnlinePartition, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch)
		}
	}
	b.AddUpdateMetadataRequestForBrokers(kc.ctx.LiveOrShuttingDownBrokerIDs(), nil)
	kc.flush(b)
}

// startIsrChangeFlush runs the periodic catch-up sweep in case a watch
// firing was coalesced away by ZooKeeper delivering only the latest
// event for a path under heavy churn.
func (kc *KafkaController) startIsrChangeFlush() {
	stop := kc.stopTimers
	kc.wg.Add(1)
	go func() {
		defer kc.wg.Done()
		t := time.NewTicker(kc.cfg.IsrChangeNotificationFlushInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				kc.events.Put(&isrChangeNotificationEvent{kc: kc})
			case <-stop:
				return
			}
		}
	}()
}
