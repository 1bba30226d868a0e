package coord

import (
	"context"
	"errors"
	"time"

	"github.com/samuel/go-zookeeper/zk"
)

// ZKClient is the production Client backed by a real ZooKeeper-like
// ensemble, built directly on samuel/go-zookeeper/zk: zk.Connect for the
// session, conn.GetW/ChildrenW for one-shot watches.
type ZKClient struct {
	conn *zk.Conn
}

// NewZKClient dials addrs and returns a ready client. sessionTimeout
// bounds how long the ensemble waits before expiring our ephemeral
// nodes if we go silent. digestCredential, if non-empty, is a
// "user:pass" digest-scheme credential added to the session right after
// connecting; pass "" for an unauthenticated ensemble.
func NewZKClient(addrs []string, sessionTimeout time.Duration, digestCredential string) (*ZKClient, error) {
	conn, _, err := zk.Connect(addrs, sessionTimeout)
	if err != nil {
		return nil, err
	}
	if digestCredential != "" {
		if err := conn.AddAuth("digest", []byte(digestCredential)); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &ZKClient{conn: conn}, nil
}

func (z *ZKClient) Create(_ context.Context, path string, data []byte, ephemeral bool) error {
	var flags int32
	if ephemeral {
		flags = int32(zk.FlagEphemeral)
	}
	_, err := z.conn.Create(path, data, flags, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		return ErrNodeExists
	}
	return err
}

func (z *ZKClient) CreateSequential(_ context.Context, path string, data []byte) (string, error) {
	flags := int32(zk.FlagSequence)
	return z.conn.Create(path, data, flags, zk.WorldACL(zk.PermAll))
}

func (z *ZKClient) Get(_ context.Context, path string) ([]byte, Stat, error) {
	data, stat, err := z.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, Stat{}, ErrNoNode
	}
	if err != nil {
		return nil, Stat{}, err
	}
	return data, Stat{Version: stat.Version}, nil
}

func (z *ZKClient) Set(_ context.Context, path string, data []byte, expectedVersion int32) (Stat, error) {
	stat, err := z.conn.Set(path, data, expectedVersion)
	if errors.Is(err, zk.ErrBadVersion) {
		return Stat{}, ErrVersionConflict
	}
	if err != nil {
		return Stat{}, err
	}
	return Stat{Version: stat.Version}, nil
}

func (z *ZKClient) Delete(_ context.Context, path string, expectedVersion int32) error {
	err := z.conn.Delete(path, expectedVersion)
	if errors.Is(err, zk.ErrBadVersion) {
		return ErrVersionConflict
	}
	if errors.Is(err, zk.ErrNoNode) {
		return ErrNoNode
	}
	return err
}

func (z *ZKClient) Children(_ context.Context, path string) ([]string, error) {
	children, _, err := z.conn.Children(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, ErrNoNode
	}
	return children, err
}

func (z *ZKClient) Exists(_ context.Context, path string) (bool, error) {
	ok, _, err := z.conn.Exists(path)
	return ok, err
}

func (z *ZKClient) Multi(_ context.Context, ops ...Op) error {
	zops := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			var flags int32
			if op.Ephemeral {
				flags = int32(zk.FlagEphemeral)
			}
			zops = append(zops, &zk.CreateRequest{Path: op.Path, Data: op.Data, Acl: zk.WorldACL(zk.PermAll), Flags: flags})
		case OpSetData:
			zops = append(zops, &zk.SetDataRequest{Path: op.Path, Data: op.Data, Version: op.ExpectedVersion})
		case OpDelete:
			zops = append(zops, &zk.DeleteRequest{Path: op.Path, Version: op.ExpectedVersion})
		case OpCheckVersion:
			zops = append(zops, &zk.CheckVersionRequest{Path: op.Path, Version: op.ExpectedVersion})
		}
	}
	_, err := z.conn.Multi(zops...)
	if errors.Is(err, zk.ErrBadVersion) {
		return ErrVersionConflict
	}
	if errors.Is(err, zk.ErrNodeExists) {
		return ErrNodeExists
	}
	return err
}

// WatchChildren registers a one-shot children watch. The watch channel
// fires on any children change or session event; per design, we never
// call controller logic here directly, only fn, whose contract (owned by
// the caller) is to translate the firing into an event and enqueue it.
func (z *ZKClient) WatchChildren(path string, fn WatchFunc) error {
	_, _, ch, err := z.conn.ChildrenW(path)
	if err != nil {
		return err
	}
	go func() {
		evt := <-ch
		fn(Event{Type: EventChildrenChanged, Path: evt.Path})
	}()
	return nil
}

// WatchData registers a one-shot data watch.
func (z *ZKClient) WatchData(path string, fn WatchFunc) error {
	_, _, ch, err := z.conn.GetW(path)
	if err != nil {
		return err
	}
	go func() {
		evt := <-ch
		typ := EventDataChanged
		if evt.Type == zk.EventNodeDeleted {
			typ = EventNodeDeleted
		}
		fn(Event{Type: typ, Path: evt.Path})
	}()
	return nil
}

func (z *ZKClient) Close() error {
	z.conn.Close()
	return nil
}
