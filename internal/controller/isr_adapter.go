package controller

import "github.com/kcctl/kcctl/internal/model"

// isrShrinkerAdapter adapts zkWriter.RemoveReplicaFromIsr (which needs a
// per-topic unclean-election predicate) to fsm.IsrShrinker's narrower
// three-argument signature.
type isrShrinkerAdapter struct {
	w                      *zkWriter
	uncleanElectionEnabled func(topic string) bool
}

func (a *isrShrinkerAdapter) RemoveReplicaFromIsr(tp model.TopicPartition, replica model.BrokerID, controllerEpoch int32) (model.LeaderAndIsr, bool, error) {
	return a.w.RemoveReplicaFromIsr(tp, replica, controllerEpoch, a.uncleanElectionEnabled)
}
