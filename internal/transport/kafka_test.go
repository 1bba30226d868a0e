package transport

import (
	"encoding/binary"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

// fakeBroker accepts one connection and replies to every framed request
// with an empty framed response body, just enough to exercise Kafka's
// write/read round trip without decoding real protocol responses.
func fakeBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					var sizeBuf [4]byte
					if _, err := ioReadFull(c, sizeBuf[:]); err != nil {
						return
					}
					size := binary.BigEndian.Uint32(sizeBuf[:])
					buf := make([]byte, size)
					if _, err := ioReadFull(c, buf); err != nil {
						return
					}
					var resp [4]byte // empty-body response
					if _, err := c.Write(resp[:]); err != nil {
						return
					}
				}
			}(c)
		}
	}()
	return ln.Addr().String()
}

func TestKafkaSendLeaderAndIsrRoundTrips(t *testing.T) {
	addr := fakeBroker(t)
	k := New("kcctld")
	broker := model.Broker{ID: 1, Endpoints: []string{addr}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := k.SendLeaderAndIsr(ctx, broker, rpc.LeaderAndIsrRequest{ControllerID: 1, ControllerEpoch: 1})
	require.NoError(t, err)
}

func TestKafkaReusesConnectionAcrossSends(t *testing.T) {
	addr := fakeBroker(t)
	k := New("kcctld")
	broker := model.Broker{ID: 1, Endpoints: []string{addr}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, k.SendUpdateMetadata(ctx, broker, rpc.UpdateMetadataRequest{}))
	require.NoError(t, k.SendStopReplica(ctx, broker, rpc.StopReplicaRequest{}))

	k.mu.Lock()
	n := len(k.conns)
	k.mu.Unlock()
	require.Equal(t, 1, n, "both sends to the same broker should share one dialed connection")
}

func TestKafkaDialFailureReturnsError(t *testing.T) {
	k := New("kcctld")
	broker := model.Broker{ID: 1, Endpoints: []string{"127.0.0.1:1"}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := k.SendLeaderAndIsr(ctx, broker, rpc.LeaderAndIsrRequest{})
	require.Error(t, err)
}
