package model

import "sync"

// Context is the controller's in-memory source of truth. It is mutated
// only from the controller's event loop; the mutex exists solely to let
// metric gauges take a consistent snapshot from another goroutine, per
// the "volatile scalar counters" read path in the design (readers
// outside the loop never mutate).
type Context struct {
	mu sync.RWMutex

	allTopics map[string]struct{}

	// assignment[topic][partition] -> ordered replica list.
	assignment map[string]map[int32]ReplicaAssignment

	// leadership[tp] -> current leader/isr and the epoch that wrote it.
	leadership map[TopicPartition]LeaderIsrAndControllerEpoch

	// partitionsBeingReassigned[tp] is present iff a reassignment for tp
	// is in flight.
	partitionsBeingReassigned map[TopicPartition]ReassignmentContext

	// replicasOnOfflineDirs[broker] is the set of partitions whose
	// replica on that broker lives on a log dir reported offline.
	replicasOnOfflineDirs map[BrokerID]map[TopicPartition]struct{}

	liveBrokers         map[BrokerID]Broker
	shuttingDownBrokers map[BrokerID]struct{}

	topicsToBeDeleted    map[string]struct{}
	topicsIneligibleForDeletion map[string]struct{}

	Epoch          int32
	EpochZkVersion int32
}

// NewContext returns a zeroed controller context, as created at election
// time.
func NewContext() *Context {
	return &Context{
		allTopics:                   make(map[string]struct{}),
		assignment:                  make(map[string]map[int32]ReplicaAssignment),
		leadership:                  make(map[TopicPartition]LeaderIsrAndControllerEpoch),
		partitionsBeingReassigned:   make(map[TopicPartition]ReassignmentContext),
		replicasOnOfflineDirs:       make(map[BrokerID]map[TopicPartition]struct{}),
		liveBrokers:                 make(map[BrokerID]Broker),
		shuttingDownBrokers:         make(map[BrokerID]struct{}),
		topicsToBeDeleted:           make(map[string]struct{}),
		topicsIneligibleForDeletion: make(map[string]struct{}),
	}
}

// Reset clears all maps and epoch state, as performed on resignation.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allTopics = make(map[string]struct{})
	c.assignment = make(map[string]map[int32]ReplicaAssignment)
	c.leadership = make(map[TopicPartition]LeaderIsrAndControllerEpoch)
	c.partitionsBeingReassigned = make(map[TopicPartition]ReassignmentContext)
	c.replicasOnOfflineDirs = make(map[BrokerID]map[TopicPartition]struct{})
	c.liveBrokers = make(map[BrokerID]Broker)
	c.shuttingDownBrokers = make(map[BrokerID]struct{})
	c.topicsToBeDeleted = make(map[string]struct{})
	c.topicsIneligibleForDeletion = make(map[string]struct{})
	c.Epoch = 0
	c.EpochZkVersion = 0
}

// --- topics & assignment ---

func (c *Context) AddTopic(topic string, assignment map[int32]ReplicaAssignment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allTopics[topic] = struct{}{}
	c.assignment[topic] = assignment
}

func (c *Context) RemoveTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.allTopics, topic)
	delete(c.assignment, topic)
	for tp := range c.leadership {
		if tp.Topic == topic {
			delete(c.leadership, tp)
		}
	}
}

func (c *Context) AllTopics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.allTopics))
	for t := range c.allTopics {
		out = append(out, t)
	}
	return out
}

func (c *Context) TopicExists(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.allTopics[topic]
	return ok
}

func (c *Context) Assignment(tp TopicPartition) (ReplicaAssignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parts, ok := c.assignment[tp.Topic]
	if !ok {
		return nil, false
	}
	ar, ok := parts[tp.Partition]
	return ar, ok
}

func (c *Context) SetAssignment(tp TopicPartition, ar ReplicaAssignment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts, ok := c.assignment[tp.Topic]
	if !ok {
		parts = make(map[int32]ReplicaAssignment)
		c.assignment[tp.Topic] = parts
	}
	parts[tp.Partition] = ar
}

// PartitionsForTopic returns every partition currently assigned under topic.
func (c *Context) PartitionsForTopic(topic string) []TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parts, ok := c.assignment[topic]
	if !ok {
		return nil
	}
	out := make([]TopicPartition, 0, len(parts))
	for p := range parts {
		out = append(out, TopicPartition{Topic: topic, Partition: p})
	}
	return out
}

// AllPartitions returns every partition known to the context.
func (c *Context) AllPartitions() []TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []TopicPartition
	for topic, parts := range c.assignment {
		for p := range parts {
			out = append(out, TopicPartition{Topic: topic, Partition: p})
		}
	}
	return out
}

// --- leadership ---

func (c *Context) Leadership(tp TopicPartition) (LeaderIsrAndControllerEpoch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.leadership[tp]
	return l, ok
}

func (c *Context) SetLeadership(tp TopicPartition, l LeaderIsrAndControllerEpoch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leadership[tp] = l
}

// --- reassignment ---

func (c *Context) Reassignment(tp TopicPartition) (ReassignmentContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.partitionsBeingReassigned[tp]
	return r, ok
}

func (c *Context) SetReassignment(tp TopicPartition, r ReassignmentContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitionsBeingReassigned[tp] = r
}

func (c *Context) ClearReassignment(tp TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.partitionsBeingReassigned, tp)
}

// AnyReassignmentInProgress reports whether at least one partition is
// mid-reassignment. Auto-rebalance uses this as a global throttle (see
// design notes: preserved intentionally, not per-partition).
func (c *Context) AnyReassignmentInProgress() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.partitionsBeingReassigned) > 0
}

func (c *Context) PartitionsBeingReassigned() []TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TopicPartition, 0, len(c.partitionsBeingReassigned))
	for tp := range c.partitionsBeingReassigned {
		out = append(out, tp)
	}
	return out
}

// --- brokers ---

func (c *Context) AddLiveBroker(b Broker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveBrokers[b.ID] = b
}

func (c *Context) RemoveLiveBroker(id BrokerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.liveBrokers, id)
}

func (c *Context) LiveBrokerIDs() []BrokerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BrokerID, 0, len(c.liveBrokers))
	for id := range c.liveBrokers {
		out = append(out, id)
	}
	return out
}

func (c *Context) IsLive(id BrokerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.liveBrokers[id]
	return ok
}

func (c *Context) AddShuttingDown(id BrokerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDownBrokers[id] = struct{}{}
}

func (c *Context) RemoveShuttingDown(id BrokerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shuttingDownBrokers, id)
}

func (c *Context) IsShuttingDown(id BrokerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.shuttingDownBrokers[id]
	return ok
}

// LiveOrShuttingDownBrokerIDs returns live brokers unioned with brokers
// mid controlled-shutdown: both still hold leadership/ISR membership
// until they actually disconnect.
func (c *Context) LiveOrShuttingDownBrokerIDs() []BrokerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[BrokerID]struct{}, len(c.liveBrokers)+len(c.shuttingDownBrokers))
	for id := range c.liveBrokers {
		seen[id] = struct{}{}
	}
	for id := range c.shuttingDownBrokers {
		seen[id] = struct{}{}
	}
	out := make([]BrokerID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// --- offline replicas / log dirs ---

func (c *Context) MarkOffline(broker BrokerID, tp TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.replicasOnOfflineDirs[broker]
	if !ok {
		set = make(map[TopicPartition]struct{})
		c.replicasOnOfflineDirs[broker] = set
	}
	set[tp] = struct{}{}
}

func (c *Context) ClearOffline(broker BrokerID, tp TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.replicasOnOfflineDirs[broker], tp)
}

// IsReplicaOnline reports whether a replica is online: its broker must be
// live, and its partition must not be on a reported-offline log dir for
// that broker.
func (c *Context) IsReplicaOnline(broker BrokerID, tp TopicPartition) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, live := c.liveBrokers[broker]; !live {
		return false
	}
	if offline, ok := c.replicasOnOfflineDirs[broker]; ok {
		if _, isOffline := offline[tp]; isOffline {
			return false
		}
	}
	return true
}

// --- topic deletion ---

func (c *Context) QueueTopicForDeletion(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicsToBeDeleted[topic] = struct{}{}
}

func (c *Context) IsQueuedForDeletion(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topicsToBeDeleted[topic]
	return ok
}

func (c *Context) MarkIneligibleForDeletion(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topicsToBeDeleted[topic]; ok {
		c.topicsIneligibleForDeletion[topic] = struct{}{}
	}
}

func (c *Context) IsIneligibleForDeletion(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topicsIneligibleForDeletion[topic]
	return ok
}

func (c *Context) CompleteTopicDeletion(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topicsToBeDeleted, topic)
	delete(c.topicsIneligibleForDeletion, topic)
}

func (c *Context) TopicsQueuedForDeletion() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topicsToBeDeleted))
	for t := range c.topicsToBeDeleted {
		out = append(out, t)
	}
	return out
}

// --- derived views, recomputed on demand (no redundant indexes) ---

// ReplicasOnBrokers returns every PartitionReplica hosted on any of ids.
func (c *Context) ReplicasOnBrokers(ids map[BrokerID]struct{}) []PartitionReplica {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []PartitionReplica
	for topic, parts := range c.assignment {
		for p, ar := range parts {
			for _, b := range ar {
				if _, ok := ids[b]; ok {
					out = append(out, PartitionReplica{
						TopicPartition: TopicPartition{Topic: topic, Partition: p},
						BrokerID:       b,
					})
				}
			}
		}
	}
	return out
}

// PartitionsOnBroker returns every partition that replicates onto id.
func (c *Context) PartitionsOnBroker(id BrokerID) []TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []TopicPartition
	for topic, parts := range c.assignment {
		for p, ar := range parts {
			if ar.Contains(id) {
				out = append(out, TopicPartition{Topic: topic, Partition: p})
			}
		}
	}
	return out
}

// PartitionsLedBy returns every partition whose current in-memory leader
// is id.
func (c *Context) PartitionsLedBy(id BrokerID) []TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []TopicPartition
	for tp, l := range c.leadership {
		if l.LeaderAndIsr.Leader == id {
			out = append(out, tp)
		}
	}
	return out
}

// AllLiveReplicas returns, for tp, the subset of its AR hosted on live
// brokers.
func (c *Context) AllLiveReplicas(tp TopicPartition) []BrokerID {
	ar, ok := c.Assignment(tp)
	if !ok {
		return nil
	}
	var out []BrokerID
	for _, b := range ar {
		if c.IsLive(b) {
			out = append(out, b)
		}
	}
	return out
}
