// Package channel implements ControllerChannelManager: one outgoing
// request queue per broker, each drained by its own goroutine, mirroring
// the one-sink-per-broker design in pkg/kgo (broker.go / recordSink) and
// the per-broker listener bookkeeping in pkg/kfake's Cluster (bs []*broker).
package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

// Transport is how an encoded request actually reaches a broker. A real
// implementation dials the broker's listener and performs the Kafka RPC;
// kept as a narrow interface so tests can substitute a recording fake.
type Transport interface {
	SendLeaderAndIsr(ctx context.Context, broker model.Broker, req rpc.LeaderAndIsrRequest) error
	SendStopReplica(ctx context.Context, broker model.Broker, req rpc.StopReplicaRequest) error
	SendUpdateMetadata(ctx context.Context, broker model.Broker, req rpc.UpdateMetadataRequest) error
}

type envelope struct {
	kind rpc.Kind
	lai  rpc.LeaderAndIsrRequest
	sr   rpc.StopReplicaRequest
	um   rpc.UpdateMetadataRequest
}

type brokerQueue struct {
	broker model.Broker
	ch     chan envelope
	done   chan struct{}
}

// Manager owns one outbound queue and sender goroutine per broker. Only
// the controller's event loop ever calls Send*; this is therefore
// single-producer, multi-consumer (one consumer per broker).
type Manager struct {
	log       *zap.Logger
	transport Transport

	mu      sync.Mutex
	queues  map[model.BrokerID]*brokerQueue
	brokers map[model.BrokerID]model.Broker
}

const queueDepth = 256

func NewManager(log *zap.Logger, transport Transport) *Manager {
	return &Manager{
		log:       log,
		transport: transport,
		queues:    make(map[model.BrokerID]*brokerQueue),
		brokers:   make(map[model.BrokerID]model.Broker),
	}
}

// AddBroker starts a sender goroutine for b if one is not already
// running. Called from onControllerFailover / onBrokerStartup.
func (m *Manager) AddBroker(b model.Broker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[b.ID]; ok {
		m.brokers[b.ID] = b
		return
	}
	q := &brokerQueue{
		broker: b,
		ch:     make(chan envelope, queueDepth),
		done:   make(chan struct{}),
	}
	m.queues[b.ID] = q
	m.brokers[b.ID] = b
	go m.drain(q)
}

// RemoveBroker stops the sender goroutine for id, if any. Called on
// broker failure / controlled shutdown completion.
func (m *Manager) RemoveBroker(id model.BrokerID) {
	m.mu.Lock()
	q, ok := m.queues[id]
	if ok {
		delete(m.queues, id)
		delete(m.brokers, id)
	}
	m.mu.Unlock()
	if ok {
		close(q.done)
	}
}

// Shutdown stops every sender goroutine. Called from onControllerResignation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	queues := m.queues
	m.queues = make(map[model.BrokerID]*brokerQueue)
	m.brokers = make(map[model.BrokerID]model.Broker)
	m.mu.Unlock()
	for _, q := range queues {
		close(q.done)
	}
}

func (m *Manager) drain(q *brokerQueue) {
	ctx := context.Background()
	for {
		select {
		case env := <-q.ch:
			var err error
			switch env.kind {
			case rpc.KindLeaderAndIsr:
				err = m.transport.SendLeaderAndIsr(ctx, q.broker, env.lai)
			case rpc.KindStopReplica:
				err = m.transport.SendStopReplica(ctx, q.broker, env.sr)
			case rpc.KindUpdateMetadata:
				err = m.transport.SendUpdateMetadata(ctx, q.broker, env.um)
			}
			if err != nil {
				m.log.Warn("request to broker failed",
					zap.Int32("broker", int32(q.broker.ID)), zap.Error(err))
			}
		case <-q.done:
			return
		}
	}
}

// SendLeaderAndIsr implements batch.Sender. Enqueue is non-blocking
// unless the broker's queue is full.
func (m *Manager) SendLeaderAndIsr(broker model.BrokerID, req rpc.LeaderAndIsrRequest) {
	m.enqueue(broker, envelope{kind: rpc.KindLeaderAndIsr, lai: req})
}

func (m *Manager) SendStopReplica(broker model.BrokerID, req rpc.StopReplicaRequest) {
	m.enqueue(broker, envelope{kind: rpc.KindStopReplica, sr: req})
}

func (m *Manager) SendUpdateMetadata(broker model.BrokerID, req rpc.UpdateMetadataRequest) {
	m.enqueue(broker, envelope{kind: rpc.KindUpdateMetadata, um: req})
}

func (m *Manager) enqueue(broker model.BrokerID, env envelope) {
	m.mu.Lock()
	q, ok := m.queues[broker]
	m.mu.Unlock()
	if !ok {
		m.log.Warn("dropping request to unknown broker", zap.Int32("broker", int32(broker)))
		return
	}
	select {
	case q.ch <- env:
	case <-q.done:
	}
}
