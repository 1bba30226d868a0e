package coord

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Fake is an in-memory Client, modeled on pkg/kfake's single-goroutine
// admin loop: every mutation runs serialized through one control
// goroutine reached via adminCh, so concurrent test callers see
// consistent, race-free behavior without a real ensemble.
type Fake struct {
	adminCh chan func()
	die     chan struct{}

	mu       sync.Mutex // not used: every access to nodes runs inside admin()
	nodes    map[string]*fakeNode
	watchers map[string][]WatchFunc // children watches keyed by path
	dwatch   map[string][]WatchFunc // data watches keyed by path
	seq      map[string]int
}

type fakeNode struct {
	data    []byte
	version int32
	seqNum  int
}

// NewFake starts a ready-to-use in-memory coordination-service fake.
func NewFake() *Fake {
	f := &Fake{
		adminCh:  make(chan func()),
		die:      make(chan struct{}),
		nodes:    map[string]*fakeNode{"/": {}},
		watchers: make(map[string][]WatchFunc),
		dwatch:   make(map[string][]WatchFunc),
		seq:      make(map[string]int),
	}
	go f.run()
	return f
}

func (f *Fake) run() {
	for {
		select {
		case fn := <-f.adminCh:
			fn()
		case <-f.die:
			return
		}
	}
}

func (f *Fake) admin(fn func()) {
	wait := make(chan struct{})
	f.adminCh <- func() { fn(); close(wait) }
	<-wait
}

func parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func (f *Fake) fireChildren(path string) {
	fns := f.watchers[path]
	delete(f.watchers, path)
	for _, fn := range fns {
		go fn(Event{Type: EventChildrenChanged, Path: path})
	}
}

func (f *Fake) fireData(path string, deleted bool) {
	fns := f.dwatch[path]
	delete(f.dwatch, path)
	typ := EventDataChanged
	if deleted {
		typ = EventNodeDeleted
	}
	for _, fn := range fns {
		go fn(Event{Type: typ, Path: path})
	}
}

func (f *Fake) Create(_ context.Context, path string, data []byte, _ bool) error {
	var outErr error
	f.admin(func() {
		if _, ok := f.nodes[path]; ok {
			outErr = ErrNodeExists
			return
		}
		f.nodes[path] = &fakeNode{data: data, version: 0}
		f.fireChildren(parent(path))
	})
	return outErr
}

func (f *Fake) CreateSequential(_ context.Context, path string, data []byte) (string, error) {
	var out string
	f.admin(func() {
		f.seq[path]++
		full := path + strconv.Itoa(f.seq[path])
		f.nodes[full] = &fakeNode{data: data, version: 0, seqNum: f.seq[path]}
		f.fireChildren(path)
		out = full
	})
	return out, nil
}

func (f *Fake) Get(_ context.Context, path string) ([]byte, Stat, error) {
	var data []byte
	var stat Stat
	var outErr error
	f.admin(func() {
		n, ok := f.nodes[path]
		if !ok {
			outErr = ErrNoNode
			return
		}
		data = append([]byte(nil), n.data...)
		stat = Stat{Version: n.version}
	})
	return data, stat, outErr
}

func (f *Fake) Set(_ context.Context, path string, data []byte, expectedVersion int32) (Stat, error) {
	var stat Stat
	var outErr error
	f.admin(func() {
		n, ok := f.nodes[path]
		if !ok {
			outErr = ErrNoNode
			return
		}
		if expectedVersion >= 0 && n.version != expectedVersion {
			outErr = ErrVersionConflict
			return
		}
		n.data = data
		n.version++
		stat = Stat{Version: n.version}
		f.fireData(path, false)
	})
	return stat, outErr
}

func (f *Fake) Delete(_ context.Context, path string, expectedVersion int32) error {
	var outErr error
	f.admin(func() {
		n, ok := f.nodes[path]
		if !ok {
			outErr = ErrNoNode
			return
		}
		if expectedVersion >= 0 && n.version != expectedVersion {
			outErr = ErrVersionConflict
			return
		}
		delete(f.nodes, path)
		f.fireData(path, true)
		f.fireChildren(parent(path))
	})
	return outErr
}

func (f *Fake) Children(_ context.Context, path string) ([]string, error) {
	var out []string
	var outErr error
	f.admin(func() {
		if _, ok := f.nodes[path]; !ok {
			outErr = ErrNoNode
			return
		}
		prefix := path
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		seen := make(map[string]struct{})
		for p := range f.nodes {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			rest := strings.TrimPrefix(p, prefix)
			if rest == "" {
				continue
			}
			child := strings.SplitN(rest, "/", 2)[0]
			seen[child] = struct{}{}
		}
		for c := range seen {
			out = append(out, c)
		}
		sort.Strings(out)
	})
	return out, outErr
}

func (f *Fake) Exists(_ context.Context, path string) (bool, error) {
	var ok bool
	f.admin(func() {
		_, ok = f.nodes[path]
	})
	return ok, nil
}

func (f *Fake) Multi(_ context.Context, ops ...Op) error {
	var outErr error
	f.admin(func() {
		// Validate every op first so the transaction is all-or-nothing.
		for _, op := range ops {
			n, ok := f.nodes[op.Path]
			switch op.Kind {
			case OpCreate:
				if ok {
					outErr = ErrNodeExists
					return
				}
			case OpSetData, OpCheckVersion, OpDelete:
				if !ok {
					outErr = ErrNoNode
					return
				}
				if op.ExpectedVersion >= 0 && n.version != op.ExpectedVersion {
					outErr = ErrVersionConflict
					return
				}
			}
		}
		for _, op := range ops {
			switch op.Kind {
			case OpCreate:
				f.nodes[op.Path] = &fakeNode{data: op.Data}
				f.fireChildren(parent(op.Path))
			case OpSetData:
				n := f.nodes[op.Path]
				n.data = op.Data
				n.version++
				f.fireData(op.Path, false)
			case OpDelete:
				delete(f.nodes, op.Path)
				f.fireData(op.Path, true)
				f.fireChildren(parent(op.Path))
			case OpCheckVersion:
				// validated above; no mutation.
			}
		}
	})
	return outErr
}

func (f *Fake) WatchChildren(path string, fn WatchFunc) error {
	f.admin(func() {
		f.watchers[path] = append(f.watchers[path], fn)
	})
	return nil
}

func (f *Fake) WatchData(path string, fn WatchFunc) error {
	f.admin(func() {
		f.dwatch[path] = append(f.dwatch[path], fn)
	})
	return nil
}

func (f *Fake) Close() error {
	close(f.die)
	return nil
}
