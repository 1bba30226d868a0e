package rpc

import "github.com/twmb/franz-go/pkg/kmsg"

// EncodeLeaderAndIsr converts our domain request into the wire-level
// kmsg request, grouping per-partition states by topic the way the
// generated protocol type expects.
func EncodeLeaderAndIsr(req LeaderAndIsrRequest) *kmsg.LeaderAndISRRequest {
	k := kmsg.NewPtrLeaderAndISRRequest()
	k.ControllerID = req.ControllerID
	k.ControllerEpoch = req.ControllerEpoch

	byTopic := make(map[string]*kmsg.LeaderAndISRRequestTopicState)
	var order []string
	for tp, ps := range req.Partitions {
		ts, ok := byTopic[tp.Topic]
		if !ok {
			ts = kmsg.NewLeaderAndISRRequestTopicState()
			ts.Topic = tp.Topic
			byTopic[tp.Topic] = ts
			order = append(order, tp.Topic)
		}
		part := kmsg.NewLeaderAndISRRequestTopicStatePartitionState()
		part.Partition = ps.Partition
		part.ControllerEpoch = ps.ControllerEpoch
		part.Leader = ps.Leader
		part.LeaderEpoch = ps.LeaderEpoch
		part.ISR = ps.ISR
		part.ZkVersion = ps.ZkVersion
		part.Replicas = ps.Replicas
		part.IsNew = ps.IsNew
		ts.PartitionStates = append(ts.PartitionStates, part)
	}
	for _, topic := range order {
		k.TopicStates = append(k.TopicStates, *byTopic[topic])
	}

	for _, l := range req.LiveLeaders {
		ll := kmsg.NewLeaderAndISRRequestLiveLeader()
		ll.BrokerID = l.BrokerID
		ll.Host = l.Host
		ll.Port = l.Port
		k.LiveLeaders = append(k.LiveLeaders, ll)
	}
	return k
}

// EncodeStopReplica converts our domain request into the wire-level
// kmsg request.
func EncodeStopReplica(req StopReplicaRequest) *kmsg.StopReplicaRequest {
	k := kmsg.NewPtrStopReplicaRequest()
	k.ControllerID = req.ControllerID
	k.ControllerEpoch = req.ControllerEpoch

	byTopic := make(map[string]*kmsg.StopReplicaRequestTopicState)
	var order []string
	for _, p := range req.Partitions {
		ts, ok := byTopic[p.Topic]
		if !ok {
			ts = kmsg.NewStopReplicaRequestTopicState()
			ts.Topic = p.Topic
			byTopic[p.Topic] = ts
			order = append(order, p.Topic)
		}
		part := kmsg.NewStopReplicaRequestTopicStatePartitionState()
		part.Partition = p.Partition
		part.LeaderEpoch = p.LeaderEpoch
		part.DeletePartition = p.DeletePartition
		ts.PartitionStates = append(ts.PartitionStates, part)
	}
	for _, topic := range order {
		k.TopicStates = append(k.TopicStates, *byTopic[topic])
	}
	return k
}

// EncodeUpdateMetadata converts our domain request into the wire-level
// kmsg request.
func EncodeUpdateMetadata(req UpdateMetadataRequest) *kmsg.UpdateMetadataRequest {
	k := kmsg.NewPtrUpdateMetadataRequest()
	k.ControllerID = req.ControllerID
	k.ControllerEpoch = req.ControllerEpoch

	byTopic := make(map[string]*kmsg.UpdateMetadataRequestTopicState)
	var order []string
	for tp, ps := range req.Partitions {
		ts, ok := byTopic[tp.Topic]
		if !ok {
			ts = kmsg.NewUpdateMetadataRequestTopicState()
			ts.Topic = tp.Topic
			byTopic[tp.Topic] = ts
			order = append(order, tp.Topic)
		}
		part := kmsg.NewUpdateMetadataRequestTopicStatePartitionState()
		part.Partition = ps.Partition
		part.ControllerEpoch = ps.ControllerEpoch
		part.Leader = ps.Leader
		part.LeaderEpoch = ps.LeaderEpoch
		part.ISR = ps.ISR
		part.ZkVersion = ps.ZkVersion
		part.Replicas = ps.Replicas
		part.OfflineReplicas = ps.OfflineReplicas
		ts.PartitionStates = append(ts.PartitionStates, part)
	}
	for _, topic := range order {
		k.TopicStates = append(k.TopicStates, *byTopic[topic])
	}

	for _, b := range req.LiveBrokers {
		kb := kmsg.NewUpdateMetadataRequestLiveBroker()
		kb.BrokerID = b.BrokerID
		for _, ep := range b.Endpoints {
			e := kmsg.NewUpdateMetadataRequestLiveBrokerEndpoint()
			e.Host = ep
			kb.Endpoints = append(kb.Endpoints, e)
		}
		rack := b.Rack
		kb.Rack = &rack
		k.LiveBrokers = append(k.LiveBrokers, kb)
	}
	return k
}
