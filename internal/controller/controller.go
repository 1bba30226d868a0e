// Package controller implements KafkaController: the orchestrator that
// owns election, failover bootstrap, every event handler, the
// reassignment protocol, controlled shutdown, and auto-rebalance. It is
// the single place that wires the context,
// event manager, state machines, deletion manager, and channel manager
// together, structured around an OnFailOver/OnResignation split so
// watch registration, initial-state load, and periodic task startup all
// happen in one deterministic order on election, and unwind in reverse
// order on resignation.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/batch"
	"github.com/kcctl/kcctl/internal/channel"
	"github.com/kcctl/kcctl/internal/config"
	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/deletion"
	"github.com/kcctl/kcctl/internal/events"
	"github.com/kcctl/kcctl/internal/fsm"
	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

// Sentinel errors for fatal, non-retriable controller conditions.
var (
	ErrControllerMoved = errors.New("controller: controller has moved")
	ErrBrokerNotAvailable = errors.New("controller: broker not available")
)

// controllerZNode is the JSON persisted at /controller.
type controllerZNode struct {
	Version   int   `json:"version"`
	BrokerID  int32 `json:"brokerid"`
	Timestamp int64 `json:"timestamp"`
}

// topicConfigs holds per-topic unclean leader election flags; enabled
// reports whether unclean election is on for a topic. It is backed by a plain
// map defaulting to the config value; a real deployment would consult
// per-topic configs held elsewhere.
type topicConfigs struct {
	mu      sync.RWMutex
	unclean map[string]bool
	def     bool
}

func (t *topicConfigs) enabled(topic string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.unclean[topic]; ok {
		return v
	}
	return t.def
}

func (t *topicConfigs) set(topic string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unclean[topic] = enabled
}

// KafkaController is the cluster controller core.
type KafkaController struct {
	log *zap.Logger
	cfg config.Config

	coordClient coord.Client
	events      *events.Manager
	channelMgr  *channel.Manager

	ctx *model.Context

	partitionFSM *fsm.PartitionMachine
	replicaFSM   *fsm.ReplicaMachine
	deletionMgr  *deletion.Manager
	topicCfgs    *topicConfigs
	zkw          *zkWriter

	active     atomic.Bool
	closed     atomic.Bool
	wg         sync.WaitGroup
	stopTimers chan struct{}

	metrics *Metrics
}

// New constructs a controller bound to coordClient and a broker
// transport, idle until Elect is called.
func New(log *zap.Logger, cfg config.Config, coordClient coord.Client, transport channel.Transport) *KafkaController {
	ctx := model.NewContext()
	zkw := newZkWriter(log, coordClient)
	topicCfgs := &topicConfigs{unclean: make(map[string]bool), def: cfg.UncleanLeaderElectionEnabledDefault}

	kc := &KafkaController{
		log:         log,
		cfg:         cfg,
		coordClient: coordClient,
		channelMgr:  channel.NewManager(log, transport),
		ctx:         ctx,
		topicCfgs:   topicCfgs,
		zkw:         zkw,
		deletionMgr: deletion.NewManager(log, ctx),
		metrics:     NewMetrics(),
	}
	kc.deletionMgr.SetCompletionHook(kc.onTopicFullyDeleted)
	kc.replicaFSM = fsm.NewReplicaMachine(log, ctx, &isrShrinkerAdapter{w: zkw, uncleanElectionEnabled: topicCfgs.enabled}, kc.deletionMgr)
	kc.partitionFSM = fsm.NewPartitionMachine(log, ctx, zkw, ctx.IsLive)
	return kc
}

// IsActive reports whether this process currently holds the
// controllership.
func (kc *KafkaController) IsActive() bool { return kc.active.Load() }

func (kc *KafkaController) newBatch() *batch.Batch {
	return batch.New(kc.channelMgr)
}

func (kc *KafkaController) liveBrokersRPC() []rpc.LiveBroker {
	var out []rpc.LiveBroker
	for _, id := range kc.ctx.LiveOrShuttingDownBrokerIDs() {
		out = append(out, rpc.LiveBroker{BrokerID: int32(id)})
	}
	return out
}

// leadershipOf adapts ctx.Leadership to the narrower
// func(TopicPartition) (LeaderAndIsr, bool) shape fsm.ReplicaMachine
// wants, so the replica FSM never has to know about ControllerEpoch.
func (kc *KafkaController) leadershipOf(tp model.TopicPartition) (model.LeaderAndIsr, bool) {
	l, ok := kc.ctx.Leadership(tp)
	if !ok {
		return model.LeaderAndIsr{}, false
	}
	return l.LeaderAndIsr, true
}

func (kc *KafkaController) flush(b *batch.Batch) {
	corr := kc.newCorrelationID()
	if err := b.SendRequestsToBrokers(int32(kc.cfg.BrokerID), kc.ctx.Epoch, kc.liveBrokersRPC()); err != nil {
		kc.log.Error("batch flush failed", zap.String("correlation_id", corr), zap.Error(err))
		kc.handleIllegalState(err)
		return
	}
	kc.log.Debug("batch flushed", zap.String("correlation_id", corr))
}

// handleIllegalState handles a fatal IllegalState inside a batch, or an
// epoch-fencing failure. We clear in-flight state and
// force a new election.
func (kc *KafkaController) handleIllegalState(err error) {
	kc.log.Error("illegal state, resigning", zap.Error(err))
	kc.onControllerResignation()
	kc.triggerControllerMove()
}

// triggerControllerMove deletes the /controller znode with expected
// version -1, forcing a new election. The delete is unconditional: it is
// not checked against the controller epoch or its znode version.
func (kc *KafkaController) triggerControllerMove() {
	if err := kc.coordClient.Delete(context.Background(), coord.ControllerPath, -1); err != nil && !errors.Is(err, coord.ErrNoNode) {
		kc.log.Warn("failed to delete controller znode during self-triggered move", zap.Error(err))
	}
}

// Elect attempts the ephemeral-node-plus-epoch-bump election
// transaction.
func (kc *KafkaController) Elect() error {
	if exists, err := kc.coordClient.Exists(context.Background(), coord.ControllerPath); err == nil && exists {
		return nil
	}

	epochRaw, epochStat, err := kc.coordClient.Get(context.Background(), coord.ControllerEpochPath)
	var currentEpoch int32
	if err == nil {
		var v struct {
			Epoch int32 `json:"epoch"`
		}
		_ = json.Unmarshal(epochRaw, &v)
		currentEpoch = v.Epoch
	}

	znode := controllerZNode{Version: 1, BrokerID: kc.cfg.BrokerID, Timestamp: time.Now().UnixMilli()}
	data, _ := json.Marshal(znode)
	nextEpoch := currentEpoch + 1
	epochData, _ := json.Marshal(struct {
		Epoch int32 `json:"epoch"`
	}{nextEpoch})

	ops := []coord.Op{
		{Kind: coord.OpCreate, Path: coord.ControllerPath, Data: data, Ephemeral: true},
	}
	if errors.Is(err, coord.ErrNoNode) {
		ops = append(ops, coord.Op{Kind: coord.OpCreate, Path: coord.ControllerEpochPath, Data: epochData})
	} else {
		ops = append(ops, coord.Op{Kind: coord.OpSetData, Path: coord.ControllerEpochPath, Data: epochData, ExpectedVersion: epochStat.Version})
	}

	if err := kc.coordClient.Multi(context.Background(), ops...); err != nil {
		if errors.Is(err, coord.ErrNodeExists) {
			kc.maybeResign()
			return nil
		}
		kc.triggerControllerMove()
		return err
	}

	kc.ctx.Epoch = nextEpoch
	kc.ctx.EpochZkVersion = epochStat.Version + 1
	kc.active.Store(true)
	kc.onControllerFailover()
	return nil
}

// maybeResign is invoked when election observes someone else already
// holds /controller: if we thought we were active, step down cleanly.
func (kc *KafkaController) maybeResign() {
	if kc.active.Load() {
		kc.onControllerResignation()
	}
}

// onControllerFailover registers watches before reading state, sends an
// initial UpdateMetadata, starts the periodic tasks, then resumes
// reassignments / elections / deletions. It runs no replica state machine
// start-up pass, so replica states are not initialized here; partition
// states are only those readInitialState seeds.
func (kc *KafkaController) onControllerFailover() {
	kc.log.Info("controller failover starting", zap.Int32("epoch", kc.ctx.Epoch))
	kc.stopTimers = make(chan struct{})
	kc.registerWatches()

	kc.readInitialState()

	for _, id := range kc.ctx.LiveBrokerIDs() {
		kc.channelMgr.AddBroker(model.Broker{ID: id})
	}

	b := kc.newBatch()
	b.AddUpdateMetadataRequestForBrokers(kc.ctx.LiveOrShuttingDownBrokerIDs(), nil)
	kc.flush(b)

	kc.startAutoRebalance()
	kc.startIsrChangeFlush()
	kc.startLogDirPoll()
	kc.resumeReassignments()
	kc.resumePreferredReplicaElections()
	kc.resumeTopicDeletions()

	kc.refreshGauges()
	kc.log.Info("controller failover complete", zap.Int32("epoch", kc.ctx.Epoch))
}

// readInitialState reads topics queued for deletion, assignments,
// leader/ISR, live brokers and pending reassignments. Pending preferred
// elections are read later, by resumePreferredReplicaElections.
func (kc *KafkaController) readInitialState() {
	topics, err := kc.coordClient.Children(context.Background(), coord.BrokersTopicsPath)
	if err == nil {
		for _, topic := range topics {
			assignment, err := kc.readTopicAssignment(topic)
			if err != nil {
				continue
			}
			kc.ctx.AddTopic(topic, assignment)

			for p := range assignment {
				tp := model.TopicPartition{Topic: topic, Partition: p}
				kc.partitionFSM.HandleStateChange(tp, fsm.NewPartition, kc.newBatch(), nil, kc.cfg.BrokerID, kc.ctx.Epoch)
				if lisr, epoch, _, err := kc.zkw.readLeaderIsr(tp); err == nil {
					kc.ctx.SetLeadership(tp, model.LeaderIsrAndControllerEpoch{LeaderAndIsr: lisr, ControllerEpoch: epoch})
					kc.partitionFSM.HandleStateChange(tp, fsm.OfflinePartition, kc.newBatch(), nil, kc.cfg.BrokerID, kc.ctx.Epoch)
				}
			}
		}
	}

	brokerIDs, err := kc.coordClient.Children(context.Background(), coord.BrokerIDsPath)
	if err == nil {
		for _, idStr := range brokerIDs {
			var id int32
			fmt.Sscanf(idStr, "%d", &id)
			kc.ctx.AddLiveBroker(model.Broker{ID: model.BrokerID(id)})
		}
	}

	queued, err := kc.coordClient.Children(context.Background(), coord.DeleteTopicsPath)
	if err == nil {
		kc.deletionMgr.EnqueueTopics(queued)
	}

	reassignRaw, _, err := kc.coordClient.Get(context.Background(), coord.ReassignPartitionsPath)
	if err == nil {
		var m map[string]map[string][]int32
		if json.Unmarshal(reassignRaw, &m) == nil {
			for topic, parts := range m {
				for pStr, brokers := range parts {
					var p int32
					fmt.Sscanf(pStr, "%d", &p)
					ar := make(model.ReplicaAssignment, len(brokers))
					for i, b := range brokers {
						ar[i] = model.BrokerID(b)
					}
					kc.ctx.SetReassignment(model.TopicPartition{Topic: topic, Partition: p}, model.ReassignmentContext{NewReplicas: ar})
				}
			}
		}
	}
}

// onControllerResignation reverses failover order: deregister
// watches (implicit — watches are one-shot and we stop re-registering),
// reset the deletion manager, stop the scheduler, shut down the channel
// manager, and reset context.
func (kc *KafkaController) onControllerResignation() {
	if !kc.active.CompareAndSwap(true, false) {
		return
	}
	kc.log.Info("controller resigning", zap.Int32("epoch", kc.ctx.Epoch))
	kc.deletionMgr.Reset()
	if kc.stopTimers != nil {
		close(kc.stopTimers)
		kc.stopTimers = nil
	}
	kc.wg.Wait()
	kc.channelMgr.Shutdown()
	kc.ctx.Reset()
	kc.metrics.SetActive(false)
}

// Close performs a graceful shutdown of this controller process,
// distinct from controlled shutdown of a different broker: resign if
// active, then delete our owned znode.
func (kc *KafkaController) Close() {
	if !kc.closed.CompareAndSwap(false, true) {
		return
	}
	if kc.active.Load() {
		kc.onControllerResignation()
		kc.triggerControllerMove()
	}
	kc.events.Shutdown()
}

// SetEventManager wires the event loop used to serialize every mutation;
// split from New so tests can start the loop after observing the
// initial (idle) state.
func (kc *KafkaController) SetEventManager(m *events.Manager) {
	kc.events = m
}

// Run wires a fresh event loop and starts it with a startup event that
// attempts election. This is the entry point cmd/kcctld uses; tests that
// need finer control call SetEventManager and events.Manager.Start
// themselves.
func (kc *KafkaController) Run() {
	kc.SetEventManager(events.New(kc.log))
	kc.events.Start(&startupEvent{kc: kc})
}

// Events returns the underlying event manager, for callers (an RPC
// server, a CLI command) that need to enqueue events such as controlled
// shutdown requests or manual preferred-replica elections.
func (kc *KafkaController) Events() *events.Manager { return kc.events }

// readTopicAssignment fetches and decodes the replica assignment
// persisted at a topic's znode (wire format: partition string ->
// ordered broker id list).
func (kc *KafkaController) readTopicAssignment(topic string) (map[int32]model.ReplicaAssignment, error) {
	raw, _, err := kc.coordClient.Get(context.Background(), coord.TopicPath(topic))
	if err != nil {
		return nil, err
	}
	var assignmentJSON map[string][]int32
	if err := json.Unmarshal(raw, &assignmentJSON); err != nil {
		return nil, err
	}
	assignment := make(map[int32]model.ReplicaAssignment, len(assignmentJSON))
	for pStr, brokers := range assignmentJSON {
		var p int32
		fmt.Sscanf(pStr, "%d", &p)
		ar := make(model.ReplicaAssignment, len(brokers))
		for i, b := range brokers {
			ar[i] = model.BrokerID(b)
		}
		assignment[p] = ar
	}
	return assignment, nil
}

func (kc *KafkaController) onTopicFullyDeleted(topic string) {
	kc.ctx.RemoveTopic(topic)
	if err := kc.coordClient.Delete(context.Background(), coord.DeleteTopicPath(topic), -1); err != nil && !errors.Is(err, coord.ErrNoNode) {
		kc.log.Warn("failed removing delete-topic marker", zap.String("topic", topic), zap.Error(err))
	}
	if err := kc.coordClient.Delete(context.Background(), coord.TopicPath(topic), -1); err != nil && !errors.Is(err, coord.ErrNoNode) {
		kc.log.Warn("failed removing topic znode", zap.String("topic", topic), zap.Error(err))
	}
}

// newCorrelationID stamps an outbound batch for log tracing: one id per
// flush, coarser-grained than kgo's per-request correlation ID since a
// batch can carry requests to several brokers at once.
func (kc *KafkaController) newCorrelationID() string {
	return uuid.NewString()
}
