package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

type fakeTransport struct {
	leaderAndIsr   chan model.BrokerID
	stopReplica    chan model.BrokerID
	updateMetadata chan model.BrokerID
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		leaderAndIsr:   make(chan model.BrokerID, 8),
		stopReplica:    make(chan model.BrokerID, 8),
		updateMetadata: make(chan model.BrokerID, 8),
	}
}

func (f *fakeTransport) SendLeaderAndIsr(ctx context.Context, b model.Broker, req rpc.LeaderAndIsrRequest) error {
	f.leaderAndIsr <- b.ID
	return nil
}

func (f *fakeTransport) SendStopReplica(ctx context.Context, b model.Broker, req rpc.StopReplicaRequest) error {
	f.stopReplica <- b.ID
	return nil
}

func (f *fakeTransport) SendUpdateMetadata(ctx context.Context, b model.Broker, req rpc.UpdateMetadataRequest) error {
	f.updateMetadata <- b.ID
	return nil
}

func recv(t *testing.T, ch chan model.BrokerID) model.BrokerID {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transport call")
		return 0
	}
}

func TestManagerRoutesRequestsToCorrectBroker(t *testing.T) {
	tr := newFakeTransport()
	m := NewManager(zap.NewNop(), tr)
	m.AddBroker(model.Broker{ID: 1})
	m.AddBroker(model.Broker{ID: 2})
	defer m.Shutdown()

	m.SendLeaderAndIsr(1, rpc.LeaderAndIsrRequest{})
	m.SendStopReplica(2, rpc.StopReplicaRequest{})
	m.SendUpdateMetadata(1, rpc.UpdateMetadataRequest{})

	assert.Equal(t, model.BrokerID(1), recv(t, tr.leaderAndIsr))
	assert.Equal(t, model.BrokerID(2), recv(t, tr.stopReplica))
	assert.Equal(t, model.BrokerID(1), recv(t, tr.updateMetadata))
}

func TestManagerDropsRequestsToUnknownBroker(t *testing.T) {
	tr := newFakeTransport()
	m := NewManager(zap.NewNop(), tr)
	defer m.Shutdown()

	m.SendLeaderAndIsr(99, rpc.LeaderAndIsrRequest{})

	select {
	case <-tr.leaderAndIsr:
		t.Fatal("transport should not be invoked for an unregistered broker")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoveBrokerStopsDelivery(t *testing.T) {
	tr := newFakeTransport()
	m := NewManager(zap.NewNop(), tr)
	m.AddBroker(model.Broker{ID: 1})

	m.RemoveBroker(1)
	m.SendLeaderAndIsr(1, rpc.LeaderAndIsrRequest{})

	select {
	case <-tr.leaderAndIsr:
		t.Fatal("removed broker's queue must not receive further sends")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAddBrokerTwiceReusesQueue(t *testing.T) {
	tr := newFakeTransport()
	m := NewManager(zap.NewNop(), tr)
	defer m.Shutdown()

	m.AddBroker(model.Broker{ID: 1, Rack: "a"})
	m.AddBroker(model.Broker{ID: 1, Rack: "b"})

	require.Len(t, m.queues, 1)
	assert.Equal(t, "b", m.brokers[1].Rack)
}
