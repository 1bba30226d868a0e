// Package transport implements channel.Transport against real broker
// listeners using the generated kmsg request/response framing, the same
// wire codec pkg/kgo's connection layer builds on. It is deliberately
// minimal next to kgo's connection pool (no pipelining, no retry, one
// conn per broker dialed lazily): the controller only ever needs to
// fire LeaderAndIsr/StopReplica/UpdateMetadata at a broker and note
// whether it succeeded, not a full client.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kcctl/kcctl/internal/model"
	"github.com/kcctl/kcctl/internal/rpc"
)

// Kafka dials broker listeners directly and speaks the Kafka request
// framing: a big-endian length prefix around a request header (api key,
// api version, correlation id, client id) followed by the request body.
type Kafka struct {
	clientID string
	dialer   net.Dialer

	mu    sync.Mutex
	conns map[string]net.Conn
	corr  int32
}

func New(clientID string) *Kafka {
	return &Kafka{
		clientID: clientID,
		dialer:   net.Dialer{Timeout: 5 * time.Second},
		conns:    make(map[string]net.Conn),
	}
}

func (k *Kafka) conn(ctx context.Context, addr string) (net.Conn, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.conns[addr]; ok {
		return c, nil
	}
	c, err := k.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	k.conns[addr] = c
	return c, nil
}

func (k *Kafka) forget(addr string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.conns[addr]; ok {
		c.Close()
		delete(k.conns, addr)
	}
}

func (k *Kafka) nextCorrelation() int32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.corr++
	return k.corr
}

// send writes req to addr and reads back one framed response body.
// Response bodies aren't decoded here: the controller only needs the
// round trip to succeed, the way the channel manager's per-broker
// goroutine treats every request as fire-and-confirm, not fire-and-parse.
func (k *Kafka) send(ctx context.Context, addr string, req kmsg.Request) error {
	c, err := k.conn(ctx, addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	corr := k.nextCorrelation()
	header := make([]byte, 0, 32)
	header = binary.BigEndian.AppendUint16(header, uint16(req.Key()))
	header = binary.BigEndian.AppendUint16(header, uint16(req.MaxVersion()))
	header = binary.BigEndian.AppendUint32(header, uint32(corr))
	header = binary.BigEndian.AppendUint16(header, uint16(len(k.clientID)))
	header = append(header, k.clientID...)

	body := req.AppendTo(header)
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	if deadline, ok := ctx.Deadline(); ok {
		c.SetDeadline(deadline)
	} else {
		c.SetDeadline(time.Now().Add(10 * time.Second))
	}

	if _, err := c.Write(frame); err != nil {
		k.forget(addr)
		return fmt.Errorf("transport: write to %s: %w", addr, err)
	}

	var sizeBuf [4]byte
	if _, err := ioReadFull(c, sizeBuf[:]); err != nil {
		k.forget(addr)
		return fmt.Errorf("transport: read response size from %s: %w", addr, err)
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	resp := make([]byte, size)
	if _, err := ioReadFull(c, resp); err != nil {
		k.forget(addr)
		return fmt.Errorf("transport: read response body from %s: %w", addr, err)
	}
	return nil
}

func ioReadFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (k *Kafka) SendLeaderAndIsr(ctx context.Context, broker model.Broker, req rpc.LeaderAndIsrRequest) error {
	return k.send(ctx, addrOf(broker), rpc.EncodeLeaderAndIsr(req))
}

func (k *Kafka) SendStopReplica(ctx context.Context, broker model.Broker, req rpc.StopReplicaRequest) error {
	return k.send(ctx, addrOf(broker), rpc.EncodeStopReplica(req))
}

func (k *Kafka) SendUpdateMetadata(ctx context.Context, broker model.Broker, req rpc.UpdateMetadataRequest) error {
	return k.send(ctx, addrOf(broker), rpc.EncodeUpdateMetadata(req))
}

func addrOf(b model.Broker) string {
	if len(b.Endpoints) > 0 {
		return b.Endpoints[0]
	}
	return ""
}
