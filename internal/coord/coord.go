// Package coord abstracts the coordination service the controller relies
// on for elections, conditional writes, and watches. It plays the role
// ZkClient / KafkaZkClient plays in a real controller: everything in
// this package is an external collaborator per the design — the
// controller core only ever talks to the narrow Client interface.
package coord

import (
	"context"
	"errors"
)

// ErrNoNode is returned when a path does not exist.
var ErrNoNode = errors.New("coord: no node")

// ErrVersionConflict is returned by a conditional write whose observed
// version no longer matches the node's current version.
var ErrVersionConflict = errors.New("coord: version conflict")

// ErrNodeExists is returned creating a node that already exists.
var ErrNodeExists = errors.New("coord: node exists")

// EventType distinguishes the two watch kinds the controller registers.
type EventType int

const (
	// EventChildrenChanged fires when a persistent node's children set
	// changes (topic creation, reassignment requests, deletion queue...).
	EventChildrenChanged EventType = iota
	// EventDataChanged fires when a node's data changes (partition state,
	// controller epoch...).
	EventDataChanged
	// EventNodeDeleted fires when a watched node (e.g. /controller) is
	// removed, used to detect the need to re-elect.
	EventNodeDeleted
)

// Event is delivered to a registered watch callback.
type Event struct {
	Type EventType
	Path string
}

// WatchFunc is invoked on a foreign goroutine whenever a registered watch
// fires. Per design note "watches as events, not callbacks", the only
// thing a WatchFunc may safely do is translate the firing into a
// ControllerEvent and enqueue it — never call back into controller state
// directly.
type WatchFunc func(Event)

// Stat carries the conditional-write version of a node, analogous to a
// ZooKeeper Stat's Version field.
type Stat struct {
	Version int32
}

// Client is the narrow surface the controller core depends on. A real
// implementation wraps a ZooKeeper-like session (see ZKClient); tests use
// the in-memory Fake.
type Client interface {
	// Create makes a node. If ephemeral, the node disappears when this
	// client's session ends (used for /controller and /brokers/ids/<id>).
	Create(ctx context.Context, path string, data []byte, ephemeral bool) error

	// CreateSequential creates a node under path with a server-assigned
	// monotonically increasing suffix and returns the full path created.
	CreateSequential(ctx context.Context, path string, data []byte) (string, error)

	// Get returns a node's data and current version.
	Get(ctx context.Context, path string) ([]byte, Stat, error)

	// Set performs a conditional write: it succeeds only if the node's
	// current version equals expectedVersion, else ErrVersionConflict.
	Set(ctx context.Context, path string, data []byte, expectedVersion int32) (Stat, error)

	// Delete removes a node, conditional on expectedVersion (-1 means
	// unconditional).
	Delete(ctx context.Context, path string, expectedVersion int32) error

	// Children lists a node's immediate children.
	Children(ctx context.Context, path string) ([]string, error)

	// Exists reports whether a node is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Multi executes ops atomically: either all succeed or none do. Used
	// for the election transaction (create /controller + bump
	// /controller_epoch together).
	Multi(ctx context.Context, ops ...Op) error

	// WatchChildren registers fn to run once the next time path's
	// children change.
	WatchChildren(path string, fn WatchFunc) error

	// WatchData registers fn to run once the next time path's data
	// changes or the node is deleted.
	WatchData(path string, fn WatchFunc) error

	// Close tears down the session. Any ephemeral nodes created by this
	// client disappear.
	Close() error
}

// OpKind distinguishes the operations Multi can batch.
type OpKind int

const (
	OpCreate OpKind = iota
	OpSetData
	OpDelete
	OpCheckVersion
)

// Op is one operation within a Multi transaction.
type Op struct {
	Kind            OpKind
	Path            string
	Data            []byte
	Ephemeral       bool
	ExpectedVersion int32
}
