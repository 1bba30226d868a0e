package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/model"
)

// ErrStale is returned when the coordination service shows a
// controllerEpoch greater than ours: we have been superseded and must
// not keep retrying.
var ErrStale = errors.New("controller: stale, a newer controller epoch is persisted")

// leaderIsrRecord is the wire shape persisted at a partition's state
// path: {leader, leader_epoch, isr, controller_epoch, version}.
type leaderIsrRecord struct {
	Leader          int32   `json:"leader"`
	LeaderEpoch     int32   `json:"leader_epoch"`
	ISR             []int32 `json:"isr"`
	ControllerEpoch int32   `json:"controller_epoch"`
	Version         int     `json:"version"`
}

const maxCASRetries = 5

// zkWriter implements fsm.ZkWriter against a coord.Client; fsm.IsrShrinker
// is satisfied through isrShrinkerAdapter. UpdateLeaderEpoch and
// RemoveReplicaFromIsr run a refresh-and-CAS retry loop, while
// WriteLeaderAndIsr is a single conditional write.
type zkWriter struct {
	log    *zap.Logger
	client coord.Client
}

func newZkWriter(log *zap.Logger, client coord.Client) *zkWriter {
	return &zkWriter{log: log, client: client}
}

func (w *zkWriter) readLeaderIsr(tp model.TopicPartition) (model.LeaderAndIsr, int32, coord.Stat, error) {
	raw, stat, err := w.client.Get(context.Background(), coord.PartitionStatePath(tp.Topic, tp.Partition))
	if err != nil {
		return model.LeaderAndIsr{}, 0, coord.Stat{}, err
	}
	var rec leaderIsrRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.LeaderAndIsr{}, 0, coord.Stat{}, err
	}
	isr := make([]model.BrokerID, len(rec.ISR))
	for i, b := range rec.ISR {
		isr[i] = model.BrokerID(b)
	}
	return model.LeaderAndIsr{
		Leader:      model.BrokerID(rec.Leader),
		LeaderEpoch: rec.LeaderEpoch,
		ISR:         isr,
		ZkVersion:   stat.Version,
	}, rec.ControllerEpoch, stat, nil
}

func (w *zkWriter) writeLeaderIsr(tp model.TopicPartition, lisr model.LeaderAndIsr, controllerEpoch int32, expectedVersion int32) (model.LeaderAndIsr, error) {
	isr := make([]int32, len(lisr.ISR))
	for i, b := range lisr.ISR {
		isr[i] = int32(b)
	}
	rec := leaderIsrRecord{
		Leader:          int32(lisr.Leader),
		LeaderEpoch:     lisr.LeaderEpoch,
		ISR:             isr,
		ControllerEpoch: controllerEpoch,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return model.LeaderAndIsr{}, err
	}
	stat, err := w.client.Set(context.Background(), coord.PartitionStatePath(tp.Topic, tp.Partition), raw, expectedVersion)
	if err != nil {
		return model.LeaderAndIsr{}, err
	}
	lisr.ZkVersion = stat.Version
	return lisr, nil
}

// WriteLeaderAndIsr performs the single conditional write the partition
// FSM uses to publish a freshly-selected leader. Unlike UpdateLeaderEpoch
// it does not loop: the selector already observed the current ISR, so a
// version conflict here means someone else raced us and the caller
// (batch) should treat it as illegal-state, not silently retry with
// stale selection input.
func (w *zkWriter) WriteLeaderAndIsr(tp model.TopicPartition, lisr model.LeaderAndIsr, controllerEpoch int32, expectedVersion int32) (model.LeaderAndIsr, error) {
	return w.writeLeaderIsr(tp, lisr, controllerEpoch, expectedVersion)
}

// UpdateLeaderEpoch refreshes from the coordination
// service, bumps the leader epoch, conditional-writes with the observed
// version, retrying on CAS conflict. If the persisted controllerEpoch
// exceeds ours we are stale and fail permanently rather than retry.
func (w *zkWriter) UpdateLeaderEpoch(tp model.TopicPartition, controllerEpoch int32) (model.LeaderAndIsr, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, persistedEpoch, _, err := w.readLeaderIsr(tp)
		if errors.Is(err, coord.ErrNoNode) {
			// Path-missing is fatal for this update, not retriable.
			return model.LeaderAndIsr{}, fmt.Errorf("controller: no leader/isr path for %s: %w", tp, err)
		}
		if err != nil {
			return model.LeaderAndIsr{}, err
		}
		if persistedEpoch > controllerEpoch {
			return model.LeaderAndIsr{}, fmt.Errorf("%w (persisted=%d, ours=%d)", ErrStale, persistedEpoch, controllerEpoch)
		}
		next := current
		next.LeaderEpoch++
		written, err := w.writeLeaderIsr(tp, next, controllerEpoch, current.ZkVersion)
		if errors.Is(err, coord.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return model.LeaderAndIsr{}, err
		}
		return written, nil
	}
	return model.LeaderAndIsr{}, fmt.Errorf("controller: updateLeaderEpoch for %s exhausted retries", tp)
}

// RemoveReplicaFromIsr runs the same refresh-and-CAS loop; if
// replica is in ISR, remove it and bump the epoch. If removal would
// empty the ISR and unclean election is disabled for the topic, the ISR
// is retained unchanged instead. If the removed replica was the leader,
// leader becomes NoLeader. Returns (record, existed, err); existed is
// false if the path was missing (nothing to remove).
func (w *zkWriter) RemoveReplicaFromIsr(tp model.TopicPartition, replica model.BrokerID, controllerEpoch int32, uncleanElectionEnabled func(topic string) bool) (model.LeaderAndIsr, bool, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, persistedEpoch, _, err := w.readLeaderIsr(tp)
		if errors.Is(err, coord.ErrNoNode) {
			return model.LeaderAndIsr{}, false, nil
		}
		if err != nil {
			return model.LeaderAndIsr{}, false, err
		}
		if persistedEpoch > controllerEpoch {
			return model.LeaderAndIsr{}, false, fmt.Errorf("%w (persisted=%d, ours=%d)", ErrStale, persistedEpoch, controllerEpoch)
		}
		if !current.InISR(replica) {
			return current, true, nil
		}

		next := current
		newISR := make([]model.BrokerID, 0, len(current.ISR))
		for _, b := range current.ISR {
			if b != replica {
				newISR = append(newISR, b)
			}
		}
		if len(newISR) == 0 && !uncleanElectionEnabled(tp.Topic) {
			// Retain the old ISR rather than emptying it when unclean
			// election is disabled for the topic.
			return current, true, nil
		}
		next.ISR = newISR
		next.LeaderEpoch++
		if next.Leader == replica {
			next.Leader = model.BrokerID(model.NoLeader)
		}
		written, err := w.writeLeaderIsr(tp, next, controllerEpoch, current.ZkVersion)
		if errors.Is(err, coord.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return model.LeaderAndIsr{}, false, err
		}
		return written, true, nil
	}
	return model.LeaderAndIsr{}, false, fmt.Errorf("controller: removeReplicaFromIsr for %s exhausted retries", tp)
}
