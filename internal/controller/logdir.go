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

// logDirEventNotificationEvent drains /log_dir_event_notification, a
// supplemented feature beyond the base leader/ISR machinery: brokers
// report when one of their log directories goes offline so replicas
// living there can be treated as unavailable without waiting for the
// whole broker to be declared dead: a replica is online only while its
// broker is live and its log dir is online.
type logDirEventNotificationEvent struct{ kc *KafkaController }

func (e *logDirEventNotificationEvent) StateTag() string { return "LogDirEventNotification" }
func (e *logDirEventNotificationEvent) Process() {
	e.kc.registerLogDirEventNotificationWatch()
	e.kc.drainLogDirEventNotifications()
}

type logDirNotice struct {
	Broker     int32 `json:"broker"`
	Partitions []struct {
		Topic     string `json:"topic"`
		Partition int32  `json:"partition"`
	} `json:"partitions"`
	Offline bool `json:"offline"`
}

func (kc *KafkaController) drainLogDirEventNotifications() {
	if !kc.IsActive() {
		return
	}
	children, err := kc.coordClient.Children(context.Background(), coord.LogDirEventNotificationPath)
	if err != nil || len(children) == 0 {
		return
	}

	type affectedPartition struct {
		broker model.BrokerID
		tp     model.TopicPartition
	}
	var toOffline, toOnline []affectedPartition

	for _, child := range children {
		path := coord.LogDirEventNotificationPath + "/" + child
		raw, _, err := kc.coordClient.Get(context.Background(), path)
		if err == nil {
			var notice logDirNotice
			if json.Unmarshal(raw, &notice) == nil {
				for _, p := range notice.Partitions {
					ap := affectedPartition{
						broker: model.BrokerID(notice.Broker),
						tp:     model.TopicPartition{Topic: p.Topic, Partition: p.Partition},
					}
					if notice.Offline {
						toOffline = append(toOffline, ap)
					} else {
						toOnline = append(toOnline, ap)
					}
				}
			}
		}
		if err := kc.coordClient.Delete(context.Background(), path, -1); err != nil && err != coord.ErrNoNode {
			kc.log.Warn("failed to delete log dir event notification", zap.String("path", path), zap.Error(err))
		}
	}
	if len(toOffline) == 0 && len(toOnline) == 0 {
		return
	}

	for _, ap := range toOffline {
		kc.ctx.MarkOffline(ap.broker, ap.tp)
	}
	for _, ap := range toOnline {
		kc.ctx.ClearOffline(ap.broker, ap.tp)
	}

	b := kc.newBatch()
	sel := &selector.OfflinePartitionLeaderSelector{UncleanLeaderElectionEnabledFunc: kc.topicCfgs.enabled}
	seen := make(map[model.TopicPartition]struct{}, len(toOffline)+len(toOnline))
	for _, ap := range append(append([]affectedPartition{}, toOffline...), toOnline...) {
		if _, ok := seen[ap.tp]; ok {
			continue
		}
		seen[ap.tp] = struct{}{}
		lisr, ok := kc.ctx.Leadership(ap.tp)
		if !ok || !kc.ctx.IsReplicaOnline(lisr.LeaderAndIsr.Leader, ap.tp) {
			_ = kc.partitionFSM.HandleStateChange(ap.tp, fsm.OfflinePartition, b, nil, kc.cfg.BrokerID, kc.ctx.Epoch)
			_ = kc.partitionFSM.HandleStateChange(ap.tp, fsm.OnlinePartition, b, sel, kc.cfg.BrokerID, kc.ctx.Epoch)
		}
	}
	kc.flush(b)
}

// startLogDirPoll runs a periodic catch-up sweep the same way
// startIsrChangeFlush does, on its own configurable interval.
func (kc *KafkaController) startLogDirPoll() {
	stop := kc.stopTimers
	kc.wg.Add(1)
	go func() {
		defer kc.wg.Done()
		t := time.NewTicker(kc.cfg.LogDirEventPollInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				kc.events.Put(&logDirEventNotificationEvent{kc: kc})
			case <-stop:
				return
			}
		}
	}()
}
